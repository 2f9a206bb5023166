package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"trendaware-backend/internal/models"
)

type ProfileRepo struct {
	pool *pgxpool.Pool
}

func NewProfileRepo(pool *pgxpool.Pool) *ProfileRepo {
	return &ProfileRepo{pool: pool}
}

// Get returns the stored profile, or the sign-up defaults when the user has
// never saved one.
func (r *ProfileRepo) Get(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	p := &models.Profile{}
	var updatedAt time.Time
	query := `SELECT display_name, job_title, industry, interests, expertise, depth, focus, updated_at
		FROM user_profiles WHERE user_id = $1`

	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&p.DisplayName, &p.JobTitle, &p.Industry, &p.Interests, &p.Expertise,
		&p.Preferences.Depth, &p.Preferences.Focus, &updatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.DefaultProfile(), nil
	}
	if err != nil {
		return nil, err
	}
	p.UpdatedAt = &updatedAt
	return p, nil
}

func (r *ProfileRepo) Upsert(ctx context.Context, userID uuid.UUID, p *models.Profile) error {
	query := `
		INSERT INTO user_profiles (user_id, display_name, job_title, industry, interests, expertise, depth, focus, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			job_title = EXCLUDED.job_title,
			industry = EXCLUDED.industry,
			interests = EXCLUDED.interests,
			expertise = EXCLUDED.expertise,
			depth = EXCLUDED.depth,
			focus = EXCLUDED.focus,
			updated_at = NOW()
		RETURNING updated_at`

	var updatedAt time.Time
	err := r.pool.QueryRow(ctx, query,
		userID, p.DisplayName, p.JobTitle, p.Industry, p.Interests, p.Expertise,
		p.Preferences.Depth, p.Preferences.Focus,
	).Scan(&updatedAt)
	if err != nil {
		return err
	}
	p.UpdatedAt = &updatedAt
	return nil
}
