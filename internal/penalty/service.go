// internal/penalty/service.go
package penalty

import (
	"context"

	"github.com/google/uuid"

	"libraryapi/internal/library"
)

// Service defines the read side of penalties.
type Service interface {
	GetPenalty(ctx context.Context, id int64) (*library.Penalty, error)
	PenaltiesByMember(ctx context.Context, memberID uuid.UUID) ([]*library.Penalty, error)
}
