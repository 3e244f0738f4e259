package derive

import "codeberg.org/mutker/envoymon/internal/errors"

const (
	// Ordering errors
	ErrOutOfOrder = errors.ErrorCode("derive_out_of_order_observation")
)
