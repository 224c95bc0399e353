package ledger

import "errors"

var (
	ErrCustomerNotFound     = errors.New("ledger: customer not found")
	ErrDuplicateCustomer    = errors.New("ledger: customer name already in use")
	ErrEmptyName            = errors.New("ledger: customer name is required")
	ErrInvalidAmount        = errors.New("ledger: sale amount must be greater than zero")
	ErrBelowMinimum         = errors.New("ledger: redemption below minimum")
	ErrExceedsMaxRedemption = errors.New("ledger: redemption exceeds maximum for this sale")
	ErrInsufficientBalance  = errors.New("ledger: insufficient cashback balance")
	ErrInconsistentBalance  = errors.New("ledger: balance does not match transaction history")
)
