package xid

import (
	"fmt"

	"github.com/google/uuid"
)

// New returns a record id with a readable type prefix, e.g. "txn-6f1c9a7e...".
// Prefixes keep ids self-describing in logs and API payloads.
func New(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}
