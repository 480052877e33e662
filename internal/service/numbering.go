package service

import (
	"context"
	"fmt"

	"github.com/ivallejo/coffee-sub000/internal/models"
	"github.com/ivallejo/coffee-sub000/internal/store"
	"github.com/ivallejo/coffee-sub000/internal/util"

	"go.uber.org/zap"
)

// SeriesStore is the slice of the store the allocator needs.
type SeriesStore interface {
	AllocateDocumentNumber(ctx context.Context, documentType string) (*store.AllocatedNumber, error)
	GetSeries(ctx context.Context) ([]models.DocumentSeries, error)
	CreateSeries(ctx context.Context, series *models.DocumentSeries) error
	ActivateSeries(ctx context.Context, seriesID int64) (*models.DocumentSeries, error)
}

// DocumentAllocator issues sequential numbers for document series.
type DocumentAllocator struct {
	store  SeriesStore
	logger *zap.Logger
}

// NewDocumentAllocator creates a new document allocator
func NewDocumentAllocator(store SeriesStore) *DocumentAllocator {
	return &DocumentAllocator{
		store:  store,
		logger: util.GetLogger(),
	}
}

// Allocation is one issued document number.
type Allocation struct {
	Series        string `json:"series"`
	Number        int64  `json:"number"`
	FullReference string `json:"full_reference"`
}

// Allocate issues the next number for the active series of the document
// type. The counter increment is a single conditional UPDATE in the store,
// so concurrent allocations on the same series never collide. The new
// counter value is persisted before this returns: an allocation stands even
// if the enclosing sale later fails (gaps are acceptable, duplicates never).
func (a *DocumentAllocator) Allocate(ctx context.Context, documentType string) (*Allocation, error) {
	ctx, span := util.StartSpan(ctx, "DocumentAllocator.Allocate")
	defer span.End()

	if !models.ValidDocumentType(documentType) {
		return nil, fmt.Errorf("unknown document type: %s", documentType)
	}

	alloc, err := a.store.AllocateDocumentNumber(ctx, documentType)
	if err != nil {
		return nil, err
	}

	util.DocumentNumbersAllocated.WithLabelValues(documentType).Inc()
	a.logger.Debug("Document number allocated",
		zap.String("document_type", documentType),
		zap.String("series", alloc.SeriesCode),
		zap.Int64("number", alloc.Number))

	return &Allocation{
		Series:        alloc.SeriesCode,
		Number:        alloc.Number,
		FullReference: models.FormatDocumentReference(alloc.SeriesCode, alloc.Number),
	}, nil
}

// ListSeries returns all configured series.
func (a *DocumentAllocator) ListSeries(ctx context.Context) ([]models.DocumentSeries, error) {
	return a.store.GetSeries(ctx)
}

// CreateSeries registers a new series. Creating it active swaps out the
// previous active series for the type inside one transaction, so exactly one
// active series per document type holds at all times.
func (a *DocumentAllocator) CreateSeries(ctx context.Context, documentType, seriesCode string, active bool) (*models.DocumentSeries, error) {
	if !models.ValidDocumentType(documentType) {
		return nil, fmt.Errorf("unknown document type: %s", documentType)
	}
	if seriesCode == "" {
		return nil, fmt.Errorf("series code is required")
	}

	series := &models.DocumentSeries{
		DocumentType: documentType,
		SeriesCode:   seriesCode,
		IsActive:     active,
	}
	if err := a.store.CreateSeries(ctx, series); err != nil {
		return nil, err
	}

	a.logger.Info("Document series created",
		zap.String("document_type", documentType),
		zap.String("series", seriesCode),
		zap.Bool("active", active))
	return series, nil
}

// ActivateSeries makes a series the active one for its document type. There
// is deliberately no deactivate operation: the ticket series must always be
// active, and the only way to retire any series is to activate its
// replacement.
func (a *DocumentAllocator) ActivateSeries(ctx context.Context, seriesID int64) (*models.DocumentSeries, error) {
	return a.store.ActivateSeries(ctx, seriesID)
}
