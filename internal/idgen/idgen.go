// Package idgen mints identifiers for stored records.
package idgen

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// WithPrefix returns prefix followed by the 32 hex digits of a version 7
// UUID, e.g. "inv_0192b3c4...". Version 7 ids sort by creation time, which
// keeps primary key inserts append-only.
func WithPrefix(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	var buf [32]byte
	hex.Encode(buf[:], id[:])
	return prefix + string(buf[:])
}

// InvoiceNumber generates a human readable number such as
// "INV-20261017-3FA2C1" for invoices created without one.
func InvoiceNumber(t time.Time) string {
	id := uuid.New()
	// Bytes 10-15 of a version 4 UUID are all random.
	return fmt.Sprintf("INV-%s-%s", t.UTC().Format("20060102"), strings.ToUpper(hex.EncodeToString(id[10:13])))
}
