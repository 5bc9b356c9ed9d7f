// internal/penalty/implementation.go
package penalty

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"libraryapi/internal/library"
)

// service implements the Service interface.
type service struct {
	uow library.UnitOfWork
}

// NewService creates a new penalty service instance.
func NewService(uow library.UnitOfWork) Service {
	return &service{uow: uow}
}

func (s *service) GetPenalty(ctx context.Context, id int64) (*library.Penalty, error) {
	var penalty *library.Penalty
	err := s.uow.WithinTx(ctx, func(ctx context.Context, store library.Store) error {
		var err error
		penalty, err = store.FindPenalty(ctx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get penalty: %w", err)
	}
	return penalty, nil
}

// PenaltiesByMember lists a member's penalties. An unknown member is NotFound.
func (s *service) PenaltiesByMember(ctx context.Context, memberID uuid.UUID) ([]*library.Penalty, error) {
	var penalties []*library.Penalty
	err := s.uow.WithinTx(ctx, func(ctx context.Context, store library.Store) error {
		if _, err := store.FindMember(ctx, memberID); err != nil {
			return err
		}
		var err error
		penalties, err = store.ListPenalties(ctx, memberID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list penalties: %w", err)
	}
	return penalties, nil
}
