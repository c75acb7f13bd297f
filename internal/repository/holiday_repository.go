package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// HolidayRepository reads clinic closure dates. Closures configured here are
// merged with the static holiday list from configuration when the calendar
// generator decides which dates to skip.
type HolidayRepository struct {
	db *sqlx.DB
}

// NewHolidayRepository constructs the repository.
func NewHolidayRepository(db *sqlx.DB) *HolidayRepository {
	return &HolidayRepository{db: db}
}

// ListRange returns closure dates within [from, to], normalized to UTC
// midnight.
func (r *HolidayRepository) ListRange(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	const query = `SELECT closure_date FROM clinic_closures WHERE closure_date >= $1 AND closure_date <= $2 ORDER BY closure_date ASC`
	var dates []time.Time
	if err := r.db.SelectContext(ctx, &dates, query, from, to); err != nil {
		return nil, fmt.Errorf("list clinic closures: %w", err)
	}
	normalized := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		normalized = append(normalized, time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC))
	}
	return normalized, nil
}
