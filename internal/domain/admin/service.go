package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Ishan03-25/healthScreening/internal/platform/auth"
)

type Service struct {
	users    UserRepository
	activity ActivityRepository
	revoked  auth.RevocationStore
	tokenTTL time.Duration
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(users UserRepository, activity ActivityRepository, revoked auth.RevocationStore, tokenTTL time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		users:    users,
		activity: activity,
		revoked:  revoked,
		tokenTTL: tokenTTL,
		logger:   logger.With().Str("component", "admin").Logger(),
		now:      time.Now,
	}
}

// -- Users --

func (s *Service) CreateUser(ctx context.Context, name, email, password, role string) (*User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}
	email = NormalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if role == "" {
		role = auth.RoleUser
	}
	if !auth.ValidRole(role) {
		return nil, fmt.Errorf("invalid role %q", role)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	u := &User{Name: name, Email: email, PasswordHash: hash, Role: role}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", u.ID.String()).Str("role", role).Msg("user created")
	return u, nil
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *Service) ListUsers(ctx context.Context, limit, offset int) ([]*User, int, error) {
	return s.users.List(ctx, limit, offset)
}

// DeleteUser removes a user and revokes every token issued to them. Their
// patients stay, detached from the creator.
func (s *Service) DeleteUser(ctx context.Context, id uuid.UUID, actor string) error {
	if id.String() == actor {
		return ErrSelfDelete
	}
	if err := s.users.Delete(ctx, id); err != nil {
		return err
	}
	if s.revoked != nil {
		if err := s.revoked.RevokeUser(ctx, id.String(), s.now(), s.tokenTTL); err != nil {
			s.logger.Warn().Err(err).Str("user_id", id.String()).Msg("could not revoke tokens of deleted user")
		}
	}
	s.logger.Info().Str("user_id", id.String()).Str("actor", actor).Msg("user deleted")
	return nil
}

// Authenticate checks an email and password pair for the login endpoint.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*auth.Principal, error) {
	u, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, ErrUserNotFound) {
		return nil, auth.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	ok, err := auth.CheckPassword(u.PasswordHash, password)
	if err != nil {
		return nil, fmt.Errorf("check password: %w", err)
	}
	if !ok {
		return nil, auth.ErrInvalidCredentials
	}
	return u.Principal(), nil
}

// -- Statistics --

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	users, err := s.users.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	patients, err := s.activity.PatientActivity(ctx)
	if err != nil {
		return nil, fmt.Errorf("load patient activity: %w", err)
	}
	return buildStats(users, patients, s.now()), nil
}
