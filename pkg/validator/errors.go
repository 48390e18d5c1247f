package validator

import (
	"errors"
	"fmt"
)

// Protocol-level errors (spec.md §6/§7): returned to local callers,
// logged and dropped when the equivalent condition arises from a
// remote message.
var (
	ErrViewChangeAlreadyExists = errors.New("validator: view change already exists")
	ErrProposalCollision       = errors.New("validator: proposal collision")
	ErrUnknownProposal         = errors.New("validator: unknown proposal")
	ErrInvalidProposal         = errors.New("validator: invalid proposal")
)

// viewChangeExistsError wraps ErrViewChangeAlreadyExists with the
// offending tag so callers can both errors.Is against the sentinel
// and read which tag collided.
func viewChangeExistsError(tag ViewChangeTag) error {
	return fmt.Errorf("%w: tag=(%d,%d)", ErrViewChangeAlreadyExists, tag.BlockNumber, tag.NewViewNumber)
}
