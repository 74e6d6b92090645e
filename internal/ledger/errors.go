package ledger

import "errors"

// ErrReadOnly is returned by writes inside a View.
var ErrReadOnly = errors.New("ledger: write in read-only transaction")
