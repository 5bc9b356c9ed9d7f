// internal/membership/service.go
package membership

import (
	"context"

	"github.com/google/uuid"

	"libraryapi/internal/library"
)

// Service defines the interface for the membership service.
type Service interface {
	RegisterMember(ctx context.Context, req RegisterMemberRequest) (*library.Member, error)
	GetMember(ctx context.Context, id uuid.UUID) (*library.Member, error)
	GetMemberByIDNumber(ctx context.Context, idNumber string) (*library.Member, error)
	SetMemberBlocked(ctx context.Context, idNumber string) (*library.Member, error)

	RegisterEmployee(ctx context.Context, req RegisterEmployeeRequest) (*library.Employee, error)
	GetEmployee(ctx context.Context, id uuid.UUID) (*library.Employee, error)
	SetEmployeeStatus(ctx context.Context, id uuid.UUID, status library.EmployeeStatus) (*library.Employee, error)

	UpdatePassword(ctx context.Context, userID uuid.UUID, req UpdatePasswordRequest) error
}
