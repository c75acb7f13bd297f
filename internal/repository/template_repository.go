package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/carewell/scheduling-api/internal/models"
)

// TemplateRepository persists program template versions.
type TemplateRepository struct {
	db *sqlx.DB
}

// NewTemplateRepository constructs the repository.
func NewTemplateRepository(db *sqlx.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

func (r *TemplateRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

const templateColumns = `id, name, version, base_sessions_per_week, base_session_duration_minutes, duration_weeks, default_days, default_times, created_at, updated_at`

// FindByID loads one template.
func (r *TemplateRepository) FindByID(ctx context.Context, id string) (*models.ProgramTemplate, error) {
	query := fmt.Sprintf(`SELECT %s FROM program_templates WHERE id = $1`, templateColumns)
	var template models.ProgramTemplate
	if err := r.db.GetContext(ctx, &template, query, id); err != nil {
		return nil, err
	}
	return &template, nil
}

// Create inserts a template row.
func (r *TemplateRepository) Create(ctx context.Context, exec sqlx.ExtContext, template *models.ProgramTemplate) error {
	target := r.exec(exec)
	if template.ID == "" {
		template.ID = uuid.NewString()
	}
	if template.Version == 0 {
		template.Version = 1
	}
	now := time.Now().UTC()
	template.CreatedAt = now
	template.UpdatedAt = now
	const query = `
INSERT INTO program_templates (id, name, version, base_sessions_per_week, base_session_duration_minutes, duration_weeks, default_days, default_times, created_at, updated_at)
VALUES (:id, :name, :version, :base_sessions_per_week, :base_session_duration_minutes, :duration_weeks, :default_days, :default_times, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, target, query, template); err != nil {
		return fmt.Errorf("create template: %w", err)
	}
	return nil
}

// Update applies new parameters and bumps the version counter.
func (r *TemplateRepository) Update(ctx context.Context, exec sqlx.ExtContext, template *models.ProgramTemplate) error {
	target := r.exec(exec)
	template.Version++
	template.UpdatedAt = time.Now().UTC()
	const query = `
UPDATE program_templates SET
	name = :name,
	version = :version,
	base_sessions_per_week = :base_sessions_per_week,
	base_session_duration_minutes = :base_session_duration_minutes,
	duration_weeks = :duration_weeks,
	default_days = :default_days,
	default_times = :default_times,
	updated_at = :updated_at
WHERE id = :id`
	result, err := sqlx.NamedExecContext(ctx, target, query, template)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("template %s not found", template.ID)
	}
	return nil
}
