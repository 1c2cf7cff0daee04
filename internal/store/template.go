package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"github.com/rucachi/onfra/internal/template"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// TemplateRepository provides CRUD operations for templates.
// It implements template.Store.
type TemplateRepository struct {
	db *sql.DB
}

// Templates returns the template repository for this store.
func (s *Store) Templates() *TemplateRepository {
	return &TemplateRepository{db: s.db}
}

// Save persists a template, replacing any existing template with the same
// name. Descriptors are stored as a raw byte matrix; keypoint positions are
// stored alongside so homography fitting survives a reload.
func (r *TemplateRepository) Save(t *template.Template) error {
	if t.Descriptors.Empty() {
		return fmt.Errorf("template %q has no descriptors", t.Name)
	}

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	descBytes := t.Descriptors.ToBytes()
	descRows := t.Descriptors.Rows()
	descCols := t.Descriptors.Cols()

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Replace by name: a save is idempotent per name.
	if _, err := tx.Exec(`DELETE FROM templates WHERE name = ?`, t.Name); err != nil {
		return err
	}

	_, err = tx.Exec(
		`INSERT INTO templates (id, name, ref_width, ref_height, keypoint_count, notes, desc_rows, desc_cols, descriptors, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.RefWidth, t.RefHeight, t.KeypointCount, t.Notes,
		descRows, descCols, descBytes, t.CreatedAt,
	)
	if err != nil {
		return err
	}

	if len(t.Keypoints) > 0 {
		stmt, err := tx.Prepare(
			`INSERT INTO template_keypoints (template_id, point_index, x, y, size, angle, response, octave, class_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, kp := range t.Keypoints {
			if _, err := stmt.Exec(t.ID, i, kp.X, kp.Y, kp.Size, kp.Angle, kp.Response, kp.Octave, kp.ClassID); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

// Load retrieves a template by name. The returned template always carries
// descriptors and reference dimensions; keypoints are present only if they
// were stored. The caller owns the template and must close it.
func (r *TemplateRepository) Load(name string) (*template.Template, error) {
	t := &template.Template{}
	var descRows, descCols int
	var descBytes []byte

	err := r.db.QueryRow(
		`SELECT id, name, ref_width, ref_height, keypoint_count, notes, desc_rows, desc_cols, descriptors, created_at
		 FROM templates WHERE name = ?`,
		name,
	).Scan(&t.ID, &t.Name, &t.RefWidth, &t.RefHeight, &t.KeypointCount, &t.Notes,
		&descRows, &descCols, &descBytes, &t.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	descriptors, err := gocv.NewMatFromBytes(descRows, descCols, gocv.MatTypeCV8U, descBytes)
	if err != nil {
		return nil, fmt.Errorf("corrupt descriptors for template %q: %w", name, err)
	}
	t.Descriptors = descriptors

	keypoints, err := r.loadKeypoints(t.ID)
	if err != nil {
		t.Close()
		return nil, err
	}
	t.Keypoints = keypoints

	return t, nil
}

// loadKeypoints reads the stored keypoint positions, ordered by index.
// Returns nil (not an error) when none were stored.
func (r *TemplateRepository) loadKeypoints(templateID string) ([]gocv.KeyPoint, error) {
	rows, err := r.db.Query(
		`SELECT x, y, size, angle, response, octave, class_id
		 FROM template_keypoints
		 WHERE template_id = ?
		 ORDER BY point_index`,
		templateID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keypoints []gocv.KeyPoint
	for rows.Next() {
		var kp gocv.KeyPoint
		if err := rows.Scan(&kp.X, &kp.Y, &kp.Size, &kp.Angle, &kp.Response, &kp.Octave, &kp.ClassID); err != nil {
			return nil, err
		}
		keypoints = append(keypoints, kp)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return keypoints, nil
}

// List returns all stored template names in name order.
func (r *TemplateRepository) List() ([]string, error) {
	rows, err := r.db.Query(`SELECT name FROM templates ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return names, nil
}

// Delete removes a template and its keypoints by name.
func (r *TemplateRepository) Delete(name string) error {
	result, err := r.db.Exec(`DELETE FROM templates WHERE name = ?`, name)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}
