package admin

import (
	"context"

	"github.com/google/uuid"
)

// UserRepository defines the persistence interface for users.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*User, int, error)
	ListAll(ctx context.Context) ([]*User, error)
}

// ActivityRepository reads the patient rows behind the admin statistics.
type ActivityRepository interface {
	PatientActivity(ctx context.Context) ([]PatientActivity, error)
}
