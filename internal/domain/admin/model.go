package admin

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Ishan03-25/healthScreening/internal/domain/screening"
	"github.com/Ishan03-25/healthScreening/internal/platform/auth"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email is already registered")
	ErrSelfDelete   = errors.New("admins cannot delete their own account")
)

// User maps to the users table.
type User struct {
	ID             uuid.UUID `db:"id" json:"id"`
	Name           string    `db:"name" json:"name"`
	Email          string    `db:"email" json:"email"`
	PasswordHash   string    `db:"password_hash" json:"-"`
	Role           string    `db:"role" json:"role"`
	ScreeningCount int       `json:"screening_count"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

func (u *User) Principal() *auth.Principal {
	return &auth.Principal{UserID: u.ID.String(), Name: u.Name, Email: u.Email, Role: u.Role}
}

// NormalizeEmail is the form emails are stored and looked up in.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// PatientActivity is the slim patient row the statistics are built from.
type PatientActivity struct {
	ScreeningNumber string            `json:"screening_number"`
	Name            string            `json:"name"`
	ScreeningType   screening.Program `json:"screening_type"`
	HealthAssistant string            `json:"health_assistant"`
	CreatedBy       string            `json:"created_by"`
	CreatedAt       time.Time         `json:"created_at"`
	Diagnosed       bool              `json:"diagnosed"`
}

type Totals struct {
	Users    int `json:"users"`
	Patients int `json:"patients"`
	Oroscan  int `json:"oroscan"`
	Medtech  int `json:"medtech"`
}

type DayActivity struct {
	Date    string `json:"date"`
	Day     string `json:"day"`
	Oroscan int    `json:"oroscan"`
	Medtech int    `json:"medtech"`
}

type MonthCount struct {
	Month string `json:"month"`
	Count int    `json:"count"`
}

type AssistantCount struct {
	Name       string `json:"name"`
	Screenings int    `json:"screenings"`
}

// Stats is the admin overview.
type Stats struct {
	Totals         Totals            `json:"totals"`
	Today          Totals            `json:"today"`
	PendingReviews int               `json:"pending_reviews"`
	LastWeek       []DayActivity     `json:"last_7_days"`
	UserGrowth     []MonthCount      `json:"user_growth"`
	Recent         []PatientActivity `json:"recent_screenings"`
	TopAssistants  []AssistantCount  `json:"top_health_assistants"`
}
