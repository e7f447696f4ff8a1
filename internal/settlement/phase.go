package settlement

import (
	"errors"

	"chainvault/go-backend/pkg/models"
)

var ErrInvalidPhase = errors.New("transition not permitted from current phase")

// EnsureOpen guards the shared Open -> {Settled, Cancelled} state machine:
// only an open record may move, and terminal states reject everything.
func EnsureOpen(p models.Phase) error {
	if p != models.PhaseOpen {
		return ErrInvalidPhase
	}
	return nil
}
