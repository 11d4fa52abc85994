package screening

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Ishan03-25/healthScreening/internal/platform/blobstore"
	"github.com/Ishan03-25/healthScreening/internal/platform/db"
)

type queryable interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

const maxNumberAttempts = 8

const (
	constraintPatientPK    = "patients_pkey"
	constraintSubmissionTk = "patients_submission_token_key"
)

type patientRepoPG struct {
	pool    *pgxpool.Pool
	numbers func() (string, error)
}

func NewPatientRepo(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool, numbers: NewScreeningNumber}
}

func (r *patientRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const patientColumns = `p.screening_number, p.submission_token, p.name, p.age, p.gender, p.phone,
	p.health_assistant, p.address, p.height, p.weight, p.screening_type, p.created_by,
	COALESCE(NULLIF(u.name, ''), u.email, ''), p.created_at, p.updated_at`

const patientFrom = ` FROM patients p LEFT JOIN users u ON u.id = p.created_by`

func (r *patientRepoPG) scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ScreeningNumber, &p.SubmissionToken, &p.Name, &p.Age, &p.Gender, &p.Phone,
		&p.HealthAssistant, &p.Address, &p.Height, &p.Weight, &p.ScreeningType, &p.CreatedBy,
		&p.CreatedByName, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Responses = []*PatientResponse{}
	p.Images = []*PatientImage{}
	p.Diagnoses = []*Diagnosis{}
	return &p, nil
}

func (r *patientRepoPG) Submit(ctx context.Context, p *Patient) (*Patient, bool, error) {
	for attempt := 0; attempt < maxNumberAttempts; attempt++ {
		number, err := r.numbers()
		if err != nil {
			return nil, false, err
		}
		p.ScreeningNumber = number

		err = db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
			return r.insert(ctx, p)
		})
		if err == nil {
			stored, err := r.Get(ctx, number)
			return stored, true, err
		}

		constraint, unique := db.UniqueViolation(err)
		switch {
		case !unique:
			return nil, false, err
		case constraint == constraintSubmissionTk:
			existing, err := r.getByToken(ctx, p.SubmissionToken)
			return existing, false, err
		case constraint == constraintPatientPK:
			continue
		default:
			return nil, false, err
		}
	}
	return nil, false, ErrNumberSpace
}

func (r *patientRepoPG) insert(ctx context.Context, p *Patient) error {
	c := r.conn(ctx)
	_, err := c.Exec(ctx, `
		INSERT INTO patients (
			screening_number, submission_token, name, age, gender, phone,
			health_assistant, address, height, weight, screening_type, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.ScreeningNumber, p.SubmissionToken, p.Name, p.Age, p.Gender, p.Phone,
		p.HealthAssistant, p.Address, p.Height, p.Weight, p.ScreeningType, p.CreatedBy,
	)
	if err != nil {
		return err
	}

	for _, resp := range p.Responses {
		resp.ID = uuid.New()
		if _, err := c.Exec(ctx, `
			INSERT INTO responses (id, patient_id, position, question_id, category, question_text, answer, duration)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			resp.ID, p.ScreeningNumber, resp.Position, resp.QuestionID, resp.Category,
			resp.QuestionText, resp.Answer, resp.Duration,
		); err != nil {
			return fmt.Errorf("insert response %s: %w", resp.QuestionID, err)
		}
	}

	for _, img := range p.Images {
		img.ID = uuid.New()
		if _, err := c.Exec(ctx, `
			INSERT INTO images (id, patient_id, category, blob_id, content_type)
			VALUES ($1, $2, $3, $4, $5)`,
			img.ID, p.ScreeningNumber, img.Category, img.BlobID, img.ContentType,
		); err != nil {
			return fmt.Errorf("insert image %s: %w", img.BlobID, err)
		}
	}
	return nil
}

func (r *patientRepoPG) getByToken(ctx context.Context, token uuid.UUID) (*Patient, error) {
	p, err := r.scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientColumns+patientFrom+` WHERE p.submission_token = $1`, token))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadChildren(ctx, []*Patient{p}); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *patientRepoPG) Get(ctx context.Context, number string) (*Patient, error) {
	p, err := r.scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientColumns+patientFrom+` WHERE p.screening_number = $1`, number))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrPatientNotFound, number)
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadChildren(ctx, []*Patient{p}); err != nil {
		return nil, err
	}
	return p, nil
}

func buildWhere(f ListFilter) (string, []interface{}) {
	clause := ` WHERE 1=1`
	var args []interface{}
	idx := 1
	if f.Program != "" {
		clause += fmt.Sprintf(` AND p.screening_type = $%d`, idx)
		args = append(args, f.Program)
		idx++
	}
	if f.CreatedBy != nil {
		clause += fmt.Sprintf(` AND p.created_by = $%d`, idx)
		args = append(args, *f.CreatedBy)
		idx++
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		clause += fmt.Sprintf(` AND (p.name ILIKE $%d OR p.screening_number ILIKE $%d OR p.phone ILIKE $%d)`, idx, idx, idx)
		args = append(args, "%"+s+"%")
	}
	return clause, args
}

func (r *patientRepoPG) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Patient, int, error) {
	where, args := buildWhere(filter)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*)`+patientFrom+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s%s%s ORDER BY p.created_at DESC LIMIT $%d OFFSET $%d`,
		patientColumns, patientFrom, where, len(args)+1, len(args)+2)
	patients, err := r.query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	return patients, total, nil
}

func (r *patientRepoPG) ListAll(ctx context.Context, filter ListFilter) ([]*Patient, error) {
	where, args := buildWhere(filter)
	return r.query(ctx, `SELECT `+patientColumns+patientFrom+where+` ORDER BY p.created_at DESC`, args...)
}

func (r *patientRepoPG) query(ctx context.Context, sql string, args ...interface{}) ([]*Patient, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patients []*Patient
	for rows.Next() {
		p, err := r.scanPatient(rows)
		if err != nil {
			return nil, err
		}
		patients = append(patients, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.loadChildren(ctx, patients); err != nil {
		return nil, err
	}
	return patients, nil
}

// loadChildren fills responses, images and diagnoses with one query each.
func (r *patientRepoPG) loadChildren(ctx context.Context, patients []*Patient) error {
	if len(patients) == 0 {
		return nil
	}
	byNumber := make(map[string]*Patient, len(patients))
	numbers := make([]string, 0, len(patients))
	for _, p := range patients {
		byNumber[p.ScreeningNumber] = p
		numbers = append(numbers, p.ScreeningNumber)
	}
	c := r.conn(ctx)

	rows, err := c.Query(ctx, `
		SELECT patient_id, id, position, question_id, category, question_text, answer, duration
		FROM responses WHERE patient_id = ANY($1) ORDER BY patient_id, position`, numbers)
	if err != nil {
		return fmt.Errorf("load responses: %w", err)
	}
	for rows.Next() {
		var owner string
		var resp PatientResponse
		if err := rows.Scan(&owner, &resp.ID, &resp.Position, &resp.QuestionID, &resp.Category,
			&resp.QuestionText, &resp.Answer, &resp.Duration); err != nil {
			rows.Close()
			return err
		}
		byNumber[owner].Responses = append(byNumber[owner].Responses, &resp)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = c.Query(ctx, `
		SELECT patient_id, id, category, blob_id, content_type, created_at
		FROM images WHERE patient_id = ANY($1) ORDER BY patient_id, created_at`, numbers)
	if err != nil {
		return fmt.Errorf("load images: %w", err)
	}
	for rows.Next() {
		var owner string
		var img PatientImage
		if err := rows.Scan(&owner, &img.ID, &img.Category, &img.BlobID, &img.ContentType, &img.CreatedAt); err != nil {
			rows.Close()
			return err
		}
		img.URL = blobstore.ImagePath(img.BlobID)
		byNumber[owner].Images = append(byNumber[owner].Images, &img)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = c.Query(ctx, `
		SELECT patient_id, id, result, confidence, metadata, created_by, created_at
		FROM oroscan_diagnoses WHERE patient_id = ANY($1) ORDER BY patient_id, created_at DESC`, numbers)
	if err != nil {
		return fmt.Errorf("load diagnoses: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var owner string
		var d Diagnosis
		if err := rows.Scan(&owner, &d.ID, &d.Result, &d.Confidence, &d.Metadata, &d.CreatedBy, &d.CreatedAt); err != nil {
			return err
		}
		byNumber[owner].Diagnoses = append(byNumber[owner].Diagnoses, &d)
	}
	return rows.Err()
}

func (r *patientRepoPG) Update(ctx context.Context, number string, upd PatientUpdate) ([]string, error) {
	var removed []string
	err := db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		c := r.conn(ctx)
		tag, err := c.Exec(ctx, `
			UPDATE patients SET
				name = COALESCE($2, name),
				age = COALESCE($3, age),
				gender = COALESCE($4, gender),
				phone = COALESCE($5, phone),
				address = COALESCE($6, address),
				health_assistant = COALESCE($7, health_assistant),
				updated_at = NOW()
			WHERE screening_number = $1`,
			number, upd.Name, upd.Age, upd.Gender, upd.Phone, upd.Address, upd.HealthAssistant)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", ErrPatientNotFound, number)
		}

		for _, edit := range upd.Responses {
			tag, err := c.Exec(ctx,
				`UPDATE responses SET answer = $3, duration = $4 WHERE id = $1 AND patient_id = $2`,
				edit.ID, number, edit.Answer, edit.Duration)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("%w: response %s does not belong to %s", ErrInvalidPatientEdit, edit.ID, number)
			}
		}

		if len(upd.DeleteImageIDs) > 0 {
			rows, err := c.Query(ctx,
				`DELETE FROM images WHERE patient_id = $1 AND id = ANY($2) RETURNING blob_id`,
				number, upd.DeleteImageIDs)
			if err != nil {
				return err
			}
			defer rows.Close()
			for rows.Next() {
				var blobID string
				if err := rows.Scan(&blobID); err != nil {
					return err
				}
				removed = append(removed, blobID)
			}
			if err := rows.Err(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func (r *patientRepoPG) Delete(ctx context.Context, number string) ([]string, error) {
	var blobIDs []string
	err := db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		c := r.conn(ctx)
		rows, err := c.Query(ctx, `SELECT blob_id FROM images WHERE patient_id = $1`, number)
		if err != nil {
			return err
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			blobIDs = append(blobIDs, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		tag, err := c.Exec(ctx, `DELETE FROM patients WHERE screening_number = $1`, number)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", ErrPatientNotFound, number)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return blobIDs, nil
}

func (r *patientRepoPG) AddDiagnosis(ctx context.Context, number string, d *Diagnosis) error {
	d.ID = uuid.New()
	if d.Metadata == nil {
		d.Metadata = map[string]interface{}{}
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO oroscan_diagnoses (id, patient_id, result, confidence, metadata, created_by)
		SELECT $1, screening_number, $3, $4, $5, $6 FROM patients
		WHERE screening_number = $2 AND screening_type = 'OROSCAN'
		RETURNING created_at`,
		d.ID, number, d.Result, d.Confidence, d.Metadata, d.CreatedBy,
	).Scan(&d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrPatientNotFound, number)
	}
	return err
}
