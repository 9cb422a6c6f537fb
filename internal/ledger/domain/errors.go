package domain

import "custodial-ledger/backend/internal/errs"

// Aliases so callers holding an Account do not need the errs import for lock checks.
var (
	ErrLocked         = errs.ErrAccountLocked
	ErrTransferLocked = errs.ErrTransferLocked
)
