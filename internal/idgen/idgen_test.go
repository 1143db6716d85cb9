package idgen

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("inv_")
	assert.Regexp(t, regexp.MustCompile(`^inv_[0-9a-f]{32}$`), id)
	assert.NotEqual(t, id, WithPrefix("inv_"))
}

func TestWithPrefix_SortsByCreation(t *testing.T) {
	first := WithPrefix("pay_")
	time.Sleep(2 * time.Millisecond)
	second := WithPrefix("pay_")
	assert.Less(t, first, second)
}

func TestInvoiceNumber(t *testing.T) {
	n := InvoiceNumber(time.Date(2026, 10, 17, 23, 0, 0, 0, time.UTC))
	assert.Regexp(t, regexp.MustCompile(`^INV-20261017-[0-9A-F]{6}$`), n)
}
