package reorg

import (
	"errors"
	"fmt"
)

// ReorgDetectedError is returned when a blockchain reorganization is detected.
type ReorgDetectedError struct {
	FirstReorgBlock uint64
	Details         string
}

func (e *ReorgDetectedError) Error() string {
	return fmt.Sprintf("reorg detected at block %d: %s", e.FirstReorgBlock, e.Details)
}

// NewReorgError creates a new ReorgDetectedError.
func NewReorgError(firstReorgBlock uint64, details string) error {
	return &ReorgDetectedError{
		FirstReorgBlock: firstReorgBlock,
		Details:         details,
	}
}

// AsReorgError extracts a ReorgDetectedError from err's chain.
func AsReorgError(err error) (*ReorgDetectedError, bool) {
	var reorgErr *ReorgDetectedError
	if errors.As(err, &reorgErr) {
		return reorgErr, true
	}
	return nil, false
}
