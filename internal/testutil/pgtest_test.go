package testutil

import (
	"strings"
	"testing"
)

func TestUpSection(t *testing.T) {
	migration := "-- +goose Up\nCREATE TABLE a (id INT);\n\n-- +goose Down\nDROP TABLE a;\n"
	up := upSection(migration)
	if strings.Contains(up, "DROP TABLE") {
		t.Errorf("down statements leaked into up section: %q", up)
	}
	if !strings.Contains(up, "CREATE TABLE a") {
		t.Errorf("up statements missing: %q", up)
	}

	if got := upSection("CREATE TABLE b (id INT);"); got != "CREATE TABLE b (id INT);" {
		t.Errorf("migration without markers changed: %q", got)
	}
}
