package transaction

import (
	errors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-repository-txcache/engine"
)

// ErrTransactionNotOpen is returned when no transaction is open for the
// execution context, or the transaction was already closed.
var ErrTransactionNotOpen = errors.New("transaction not open", engine.CategoryTransaction)

// IsTransactionError reports whether err carries the transaction category.
func IsTransactionError(err error) bool {
	return errors.HasCategory(err, engine.CategoryTransaction)
}
