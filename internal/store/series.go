package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ivallejo/coffee-sub000/internal/models"
)

// AllocatedNumber is the result of one counter increment.
type AllocatedNumber struct {
	SeriesCode string `db:"series_code"`
	Number     int64  `db:"current_number"`
}

// AllocateDocumentNumber increments the active series counter for the
// document type and returns the new value, in one round trip. The single
// UPDATE serializes concurrent allocations on the series row; two callers
// can never observe the same number.
func (s *Store) AllocateDocumentNumber(ctx context.Context, documentType string) (*AllocatedNumber, error) {
	var alloc AllocatedNumber
	err := s.db.GetContext(ctx, &alloc, `
		UPDATE document_series SET current_number = current_number + 1
		WHERE document_type = $1 AND is_active = true
		RETURNING series_code, current_number`,
		documentType)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", models.ErrNoActiveSeries, documentType)
	}
	if err != nil {
		return nil, err
	}
	return &alloc, nil
}

// GetSeries retrieves all document series ordered by type and code.
func (s *Store) GetSeries(ctx context.Context) ([]models.DocumentSeries, error) {
	var series []models.DocumentSeries
	err := s.db.SelectContext(ctx, &series,
		"SELECT * FROM document_series ORDER BY document_type, series_code")
	return series, err
}

// CreateSeries inserts a new series. When active is true the current active
// series for the type is deactivated in the same transaction, keeping
// exactly one active series per document type.
func (s *Store) CreateSeries(ctx context.Context, series *models.DocumentSeries) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if series.IsActive {
		if _, err := tx.ExecContext(ctx,
			"UPDATE document_series SET is_active = false WHERE document_type = $1 AND is_active = true",
			series.DocumentType); err != nil {
			return err
		}
	}

	err = tx.GetContext(ctx, series, `
		INSERT INTO document_series (document_type, series_code, current_number, is_active)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		series.DocumentType, series.SeriesCode, series.CurrentNumber, series.IsActive)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("series %s already exists for %s", series.SeriesCode, series.DocumentType)
		}
		return err
	}

	return tx.Commit()
}

// ActivateSeries makes the given series the active one for its document
// type, deactivating the previous active series transactionally.
func (s *Store) ActivateSeries(ctx context.Context, seriesID int64) (*models.DocumentSeries, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var series models.DocumentSeries
	err = tx.GetContext(ctx, &series, "SELECT * FROM document_series WHERE id = $1 FOR UPDATE", seriesID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document series not found: %d", seriesID)
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE document_series SET is_active = false WHERE document_type = $1 AND is_active = true AND id <> $2",
		series.DocumentType, seriesID); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE document_series SET is_active = true WHERE id = $1", seriesID); err != nil {
		return nil, err
	}
	series.IsActive = true

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &series, nil
}
