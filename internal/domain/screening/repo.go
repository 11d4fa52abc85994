package screening

import (
	"context"

	"github.com/google/uuid"
)

// PatientRepository persists submitted screenings.
type PatientRepository interface {
	// Submit stores p with its responses and images in one transaction and
	// assigns the screening number. A second submission with the same token
	// returns the stored patient with created == false.
	Submit(ctx context.Context, p *Patient) (stored *Patient, created bool, err error)
	Get(ctx context.Context, number string) (*Patient, error)
	List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Patient, int, error)
	ListAll(ctx context.Context, filter ListFilter) ([]*Patient, error)
	Update(ctx context.Context, number string, upd PatientUpdate) (removedBlobIDs []string, err error)
	Delete(ctx context.Context, number string) (blobIDs []string, err error)
	AddDiagnosis(ctx context.Context, number string, d *Diagnosis) error
}

// ownerFilter is a ListFilter for one user's patients of a program.
func ownerFilter(owner uuid.UUID, program Program) ListFilter {
	return ListFilter{Program: program, CreatedBy: &owner}
}
