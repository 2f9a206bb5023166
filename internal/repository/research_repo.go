package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"trendaware-backend/internal/models"
)

var ErrNotFound = errors.New("not found")

type ResearchRepo struct {
	pool *pgxpool.Pool
}

func NewResearchRepo(pool *pgxpool.Pool) *ResearchRepo {
	return &ResearchRepo{pool: pool}
}

// CreateWithSummary inserts the research request and its summary in one
// transaction and fills in ids and timestamps.
func (r *ResearchRepo) CreateWithSummary(ctx context.Context, rec *models.StoredResearch) error {
	researchID := uuid.New()
	summaryID := uuid.New()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin research insert: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO research_requests (id, user_id, title, body) VALUES ($1, $2, $3, $4) RETURNING created_at`,
		researchID, rec.UserID, rec.Title, rec.Body,
	).Scan(&rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert research request: %w", err)
	}

	s := &rec.Summary
	err = tx.QueryRow(ctx,
		`INSERT INTO research_summaries (id, research_id, content, web_research_used, fallback, provider)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at`,
		summaryID, researchID, s.Content, s.WebResearchUsed, s.Fallback, s.Provider,
	).Scan(&s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert research summary: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit research insert: %w", err)
	}

	rec.ID = researchID.String()
	s.ID = summaryID.String()
	return nil
}

var researchColumns = []string{
	"r.id", "r.user_id", "r.title", "r.body", "r.created_at",
	"s.id", "s.content", "s.web_research_used", "s.fallback", "s.provider", "s.created_at",
}

func selectResearch() sq.SelectBuilder {
	return sq.Select(researchColumns...).
		From("research_requests r").
		Join("research_summaries s ON s.research_id = r.id").
		PlaceholderFormat(sq.Dollar)
}

// ListByUser returns the user's research newest first, optionally filtered by
// a case-insensitive title match.
func (r *ResearchRepo) ListByUser(ctx context.Context, userID uuid.UUID, search string, limit, offset int) ([]*models.StoredResearch, error) {
	query, args, err := listQuery(userID, search, limit, offset).ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*models.StoredResearch{}
	for rows.Next() {
		rec, err := scanResearch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func listQuery(userID uuid.UUID, search string, limit, offset int) sq.SelectBuilder {
	q := selectResearch().
		Where(sq.Eq{"r.user_id": userID}).
		OrderBy("r.created_at DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset))
	if search != "" {
		q = q.Where(sq.Expr(`r.title ILIKE ? ESCAPE '\'`, "%"+likeEscaper.Replace(search)+"%"))
	}
	return q
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (r *ResearchRepo) GetByID(ctx context.Context, userID uuid.UUID, id string) (*models.StoredResearch, error) {
	researchID, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrNotFound
	}

	query, args, err := selectResearch().
		Where(sq.Eq{"r.id": researchID, "r.user_id": userID}).
		ToSql()
	if err != nil {
		return nil, err
	}

	rec, err := scanResearch(r.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

func scanResearch(row pgx.Row) (*models.StoredResearch, error) {
	var (
		rec       models.StoredResearch
		id, sumID uuid.UUID
		created   time.Time
	)
	err := row.Scan(
		&id, &rec.UserID, &rec.Title, &rec.Body, &created,
		&sumID, &rec.Summary.Content, &rec.Summary.WebResearchUsed, &rec.Summary.Fallback,
		&rec.Summary.Provider, &rec.Summary.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.ID = id.String()
	rec.Summary.ID = sumID.String()
	rec.CreatedAt = created
	return &rec, nil
}
