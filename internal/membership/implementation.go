// internal/membership/implementation.go
package membership

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"libraryapi/internal/apperror"
	"libraryapi/internal/library"
	"libraryapi/internal/telemetry"
)

// service implements the Service interface.
type service struct {
	uow         library.UnitOfWork
	rateLimiter *rate.Limiter
	logger      *slog.Logger
	tracer      trace.Tracer
}

type Option func(*service)

// WithRegistrationLimit replaces the default registration budget of five
// sign-ups refilled at one per minute.
func WithRegistrationLimit(limit rate.Limit, burst int) Option {
	return func(s *service) {
		s.rateLimiter = rate.NewLimiter(limit, burst)
	}
}

// NewService creates a new membership service instance.
func NewService(uow library.UnitOfWork, logger *slog.Logger, options ...Option) Service {
	s := &service{
		uow:         uow,
		rateLimiter: rate.NewLimiter(rate.Every(1*time.Minute), 5),
		logger:      logger.With("component", "membership"),
		tracer:      telemetry.Tracer("membership"),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// RegisterMember creates an Active member and its credentials.
func (s *service) RegisterMember(ctx context.Context, req RegisterMemberRequest) (*library.Member, error) {
	ctx, span := s.tracer.Start(ctx, "membership.register_member")
	defer span.End()

	fields := requirePerson(req.IDNumber, req.Name, req.LastName, req.Password)
	if len(fields) > 0 {
		return nil, apperror.ValidationFields(fields)
	}
	if !s.rateLimiter.Allow() {
		return nil, apperror.RateLimited("registration rate limit exceeded, try again later")
	}

	member := &library.Member{
		IDNumber:  strings.TrimSpace(req.IDNumber),
		Name:      strings.TrimSpace(req.Name),
		LastName:  strings.TrimSpace(req.LastName),
		Education: strings.TrimSpace(req.Education),
		Status:    library.MemberActive,
	}
	err := s.uow.WithinTx(ctx, func(ctx context.Context, store library.Store) error {
		if err := store.CreateMember(ctx, member); err != nil {
			return err
		}
		return s.saveCredential(ctx, store, member.ID, req.Password)
	})
	if err != nil {
		return nil, fmt.Errorf("register member: %w", err)
	}

	span.SetAttributes(attribute.String("member.id", member.ID.String()))
	s.logger.InfoContext(ctx, "member registered", "member_id", member.ID)
	return member, nil
}

func (s *service) GetMember(ctx context.Context, id uuid.UUID) (*library.Member, error) {
	var member *library.Member
	err := s.uow.WithinTx(ctx, func(ctx context.Context, store library.Store) error {
		var err error
		member, err = store.FindMember(ctx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	return member, nil
}

func (s *service) GetMemberByIDNumber(ctx context.Context, idNumber string) (*library.Member, error) {
	var member *library.Member
	err := s.uow.WithinTx(ctx, func(ctx context.Context, store library.Store) error {
		var err error
		member, err = store.FindMemberByIDNumber(ctx, idNumber)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get member by ID number: %w", err)
	}
	return member, nil
}

// SetMemberBlocked blocks a member from borrowing. Blocking an already
// blocked member is a no-op; removed members cannot be blocked.
func (s *service) SetMemberBlocked(ctx context.Context, idNumber string) (*library.Member, error) {
	ctx, span := s.tracer.Start(ctx, "membership.block_member")
	defer span.End()

	var member *library.Member
	err := s.uow.WithinTx(ctx, func(ctx context.Context, store library.Store) error {
		var err error
		member, err = store.FindMemberByIDNumber(ctx, idNumber)
		if err != nil {
			return err
		}
		switch member.Status {
		case library.MemberBlocked:
			return nil
		case library.MemberRemoved:
			return apperror.InvalidOperation("member %s has been removed and cannot be blocked", member.ID)
		}
		member.Status = library.MemberBlocked
		return store.UpdateMember(ctx, member)
	})
	if err != nil {
		return nil, fmt.Errorf("block member: %w", err)
	}

	s.logger.InfoContext(ctx, "member blocked", "member_id", member.ID)
	return member, nil
}

// RegisterEmployee creates a Working employee and its credentials.
func (s *service) RegisterEmployee(ctx context.Context, req RegisterEmployeeRequest) (*library.Employee, error) {
	ctx, span := s.tracer.Start(ctx, "membership.register_employee")
	defer span.End()

	fields := requirePerson(req.IDNumber, req.Name, req.LastName, req.Password)
	shift, err := library.ParseShift(req.Shift)
	if err != nil {
		fields["shift"] = "must be one of Morning, Evening, Night"
	}
	if len(fields) > 0 {
		return nil, apperror.ValidationFields(fields)
	}
	if !s.rateLimiter.Allow() {
		return nil, apperror.RateLimited("registration rate limit exceeded, try again later")
	}

	employee := &library.Employee{
		IDNumber: strings.TrimSpace(req.IDNumber),
		Name:     strings.TrimSpace(req.Name),
		LastName: strings.TrimSpace(req.LastName),
		Title:    strings.TrimSpace(req.Title),
		Shift:    shift,
		Status:   library.EmployeeWorking,
	}
	err = s.uow.WithinTx(ctx, func(ctx context.Context, store library.Store) error {
		if err := store.CreateEmployee(ctx, employee); err != nil {
			return err
		}
		return s.saveCredential(ctx, store, employee.ID, req.Password)
	})
	if err != nil {
		return nil, fmt.Errorf("register employee: %w", err)
	}

	span.SetAttributes(attribute.String("employee.id", employee.ID.String()))
	s.logger.InfoContext(ctx, "employee registered", "employee_id", employee.ID, "shift", employee.Shift)
	return employee, nil
}

func (s *service) GetEmployee(ctx context.Context, id uuid.UUID) (*library.Employee, error) {
	var employee *library.Employee
	err := s.uow.WithinTx(ctx, func(ctx context.Context, store library.Store) error {
		var err error
		employee, err = store.FindEmployee(ctx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get employee: %w", err)
	}
	return employee, nil
}

func (s *service) SetEmployeeStatus(ctx context.Context, id uuid.UUID, status library.EmployeeStatus) (*library.Employee, error) {
	if _, err := library.ParseEmployeeStatus(string(status)); err != nil {
		return nil, err
	}

	var employee *library.Employee
	err := s.uow.WithinTx(ctx, func(ctx context.Context, store library.Store) error {
		var err error
		employee, err = store.FindEmployee(ctx, id)
		if err != nil {
			return err
		}
		if employee.Status == status {
			return nil
		}
		employee.Status = status
		return store.UpdateEmployee(ctx, employee)
	})
	if err != nil {
		return nil, fmt.Errorf("set employee status: %w", err)
	}

	s.logger.InfoContext(ctx, "employee status changed", "employee_id", id, "status", status)
	return employee, nil
}

// UpdatePassword replaces a member's or employee's password after checking
// the current one.
func (s *service) UpdatePassword(ctx context.Context, userID uuid.UUID, req UpdatePasswordRequest) error {
	ctx, span := s.tracer.Start(ctx, "membership.update_password",
		trace.WithAttributes(attribute.String("user.id", userID.String())),
	)
	defer span.End()

	if len(req.NewPassword) < minPasswordLen {
		return apperror.ValidationFields(map[string]string{
			"newPassword": fmt.Sprintf("must be at least %d characters", minPasswordLen),
		})
	}

	err := s.uow.WithinTx(ctx, func(ctx context.Context, store library.Store) error {
		credential, err := store.FindCredential(ctx, userID)
		if err != nil {
			return err
		}
		ok, err := verifyPassword(credential, req.CurrentPassword)
		if err != nil {
			return err
		}
		if !ok {
			return apperror.InvalidOperation("the current password is incorrect")
		}
		return s.saveCredential(ctx, store, userID, req.NewPassword)
	})
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	s.logger.InfoContext(ctx, "password updated", "user_id", userID)
	return nil
}

func (s *service) saveCredential(ctx context.Context, store library.Store, userID uuid.UUID, password string) error {
	credential, err := newCredential(userID, password)
	if err != nil {
		return err
	}
	return store.SaveCredential(ctx, credential)
}

func requirePerson(idNumber, name, lastName, password string) map[string]string {
	fields := make(map[string]string)
	if strings.TrimSpace(idNumber) == "" {
		fields["idNumber"] = "is required"
	}
	if strings.TrimSpace(name) == "" {
		fields["name"] = "is required"
	}
	if strings.TrimSpace(lastName) == "" {
		fields["lastName"] = "is required"
	}
	if len(password) < minPasswordLen {
		fields["password"] = fmt.Sprintf("must be at least %d characters", minPasswordLen)
	}
	return fields
}
