package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"trendaware-backend/internal/models"
)

const (
	researchCollection = "research"
	summaryCollection  = "summaries"
	profileCollection  = "profiles"
)

type researchDoc struct {
	UserID    string    `firestore:"userId"`
	Title     string    `firestore:"title"`
	Body      string    `firestore:"body"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type summaryDoc struct {
	Content         string    `firestore:"content"`
	WebResearchUsed bool      `firestore:"webResearchUsed"`
	Fallback        bool      `firestore:"fallback"`
	Provider        string    `firestore:"provider"`
	CreatedAt       time.Time `firestore:"createdAt"`
}

// FirestoreResearchRepo keeps each research request as a document with its
// summary in a nested summaries collection.
type FirestoreResearchRepo struct {
	client *firestore.Client
}

func NewFirestoreResearchRepo(client *firestore.Client) *FirestoreResearchRepo {
	return &FirestoreResearchRepo{client: client}
}

func (r *FirestoreResearchRepo) CreateWithSummary(ctx context.Context, rec *models.StoredResearch) error {
	now := time.Now().UTC()
	ref := r.client.Collection(researchCollection).NewDoc()
	sumRef := ref.Collection(summaryCollection).NewDoc()

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := tx.Create(ref, researchDoc{
			UserID:    rec.UserID.String(),
			Title:     rec.Title,
			Body:      rec.Body,
			CreatedAt: now,
		}); err != nil {
			return err
		}
		return tx.Create(sumRef, summaryDoc{
			Content:         rec.Summary.Content,
			WebResearchUsed: rec.Summary.WebResearchUsed,
			Fallback:        rec.Summary.Fallback,
			Provider:        rec.Summary.Provider,
			CreatedAt:       now,
		})
	})
	if err != nil {
		return fmt.Errorf("create research document: %w", err)
	}

	rec.ID = ref.ID
	rec.CreatedAt = now
	rec.Summary.ID = sumRef.ID
	rec.Summary.CreatedAt = now
	return nil
}

// ListByUser pages the user's research newest first. Firestore has no
// substring match, so search filters the fetched page by title.
func (r *FirestoreResearchRepo) ListByUser(ctx context.Context, userID uuid.UUID, search string, limit, offset int) ([]*models.StoredResearch, error) {
	iter := r.client.Collection(researchCollection).
		Where("userId", "==", userID.String()).
		OrderBy("createdAt", firestore.Desc).
		Offset(offset).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	needle := strings.ToLower(search)
	out := []*models.StoredResearch{}
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		rec, err := r.load(ctx, snap)
		if err != nil {
			return nil, err
		}
		if needle != "" && !strings.Contains(strings.ToLower(rec.Title), needle) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *FirestoreResearchRepo) GetByID(ctx context.Context, userID uuid.UUID, id string) (*models.StoredResearch, error) {
	snap, err := r.client.Collection(researchCollection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec, err := r.load(ctx, snap)
	if err != nil {
		return nil, err
	}
	if rec.UserID != userID {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (r *FirestoreResearchRepo) load(ctx context.Context, snap *firestore.DocumentSnapshot) (*models.StoredResearch, error) {
	var doc researchDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode research %s: %w", snap.Ref.ID, err)
	}
	userID, err := uuid.Parse(doc.UserID)
	if err != nil {
		return nil, fmt.Errorf("research %s has invalid user id: %w", snap.Ref.ID, err)
	}

	rec := &models.StoredResearch{
		ID:        snap.Ref.ID,
		UserID:    userID,
		Title:     doc.Title,
		Body:      doc.Body,
		CreatedAt: doc.CreatedAt,
	}

	sums := snap.Ref.Collection(summaryCollection).Limit(1).Documents(ctx)
	defer sums.Stop()
	sumSnap, err := sums.Next()
	if errors.Is(err, iterator.Done) {
		return rec, nil
	}
	if err != nil {
		return nil, err
	}
	var sum summaryDoc
	if err := sumSnap.DataTo(&sum); err != nil {
		return nil, fmt.Errorf("decode summary for research %s: %w", snap.Ref.ID, err)
	}
	rec.Summary = models.SummaryRecord{
		ID:              sumSnap.Ref.ID,
		Content:         sum.Content,
		WebResearchUsed: sum.WebResearchUsed,
		Fallback:        sum.Fallback,
		Provider:        sum.Provider,
		CreatedAt:       sum.CreatedAt,
	}
	return rec, nil
}

type profileDoc struct {
	DisplayName string    `firestore:"displayName"`
	JobTitle    string    `firestore:"jobTitle"`
	Industry    string    `firestore:"industry"`
	Interests   []string  `firestore:"interests"`
	Expertise   []string  `firestore:"expertise"`
	Depth       string    `firestore:"depth"`
	Focus       []string  `firestore:"focus"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

type FirestoreProfileRepo struct {
	client *firestore.Client
}

func NewFirestoreProfileRepo(client *firestore.Client) *FirestoreProfileRepo {
	return &FirestoreProfileRepo{client: client}
}

func (r *FirestoreProfileRepo) Get(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	snap, err := r.client.Collection(profileCollection).Doc(userID.String()).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return models.DefaultProfile(), nil
	}
	if err != nil {
		return nil, err
	}

	var doc profileDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	p := &models.Profile{
		DisplayName: doc.DisplayName,
		JobTitle:    doc.JobTitle,
		Industry:    doc.Industry,
		Interests:   doc.Interests,
		Expertise:   doc.Expertise,
		Preferences: models.ProfilePreferences{Depth: doc.Depth, Focus: doc.Focus},
		UpdatedAt:   &doc.UpdatedAt,
	}
	p.Normalize()
	return p, nil
}

func (r *FirestoreProfileRepo) Upsert(ctx context.Context, userID uuid.UUID, p *models.Profile) error {
	now := time.Now().UTC()
	_, err := r.client.Collection(profileCollection).Doc(userID.String()).Set(ctx, profileDoc{
		DisplayName: p.DisplayName,
		JobTitle:    p.JobTitle,
		Industry:    p.Industry,
		Interests:   p.Interests,
		Expertise:   p.Expertise,
		Depth:       p.Preferences.Depth,
		Focus:       p.Preferences.Focus,
		UpdatedAt:   now,
	})
	if err != nil {
		return err
	}
	p.UpdatedAt = &now
	return nil
}
