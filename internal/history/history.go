package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"vibe-planner/internal/kv"

	"github.com/google/uuid"
)

var ErrInvalidRating = errors.New("rating must be between 1 and 5")

// SavedPlan is a completed final plan. Only Rating changes after creation.
type SavedPlan struct {
	ID          string    `json:"id"`
	PlanContent string    `json:"planContent"`
	SavedAt     time.Time `json:"savedAt"`
	Rating      *int      `json:"rating"`
}

// Store keeps the most-recent-first plan history of one chat, persisted as a
// single JSON list. Persist failures are logged; memory stays authoritative.
type Store struct {
	kv     kv.Store
	now    func() time.Time
	logger *slog.Logger

	mu     sync.Mutex
	loaded bool
	plans  []SavedPlan
}

func NewStore(store kv.Store, now func() time.Time, logger *slog.Logger) *Store {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{kv: store, now: now, logger: logger}
}

// Append saves content as a new plan at the head of the list.
func (s *Store) Append(ctx context.Context, content string) SavedPlan {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load(ctx)

	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	plan := SavedPlan{ID: id.String(), PlanContent: content, SavedAt: s.now().UTC()}
	s.plans = append([]SavedPlan{plan}, s.plans...)
	s.persist(ctx)
	return plan
}

// Rate sets the rating of plan id. Unknown ids are ignored.
func (s *Store) Rate(ctx context.Context, id string, rating int) error {
	if rating < 1 || rating > 5 {
		return ErrInvalidRating
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.load(ctx)

	i := slices.IndexFunc(s.plans, func(p SavedPlan) bool { return p.ID == id })
	if i < 0 {
		return nil
	}
	r := rating
	s.plans[i].Rating = &r
	s.persist(ctx)
	return nil
}

// List returns a copy of the history, most recent first.
func (s *Store) List(ctx context.Context) []SavedPlan {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load(ctx)
	return slices.Clone(s.plans)
}

// Get looks a plan up by id.
func (s *Store) Get(ctx context.Context, id string) (SavedPlan, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load(ctx)
	for _, p := range s.plans {
		if p.ID == id {
			return p, true
		}
	}
	return SavedPlan{}, false
}

func (s *Store) load(ctx context.Context) {
	if s.loaded {
		return
	}
	s.loaded = true

	raw, ok, err := s.kv.Get(ctx, kv.KeyPlanHistory)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to load plan history", "error", err)
		return
	}
	if !ok {
		return
	}
	if err := json.Unmarshal([]byte(raw), &s.plans); err != nil {
		s.logger.WarnContext(ctx, "discarding unreadable plan history", "error", err)
		s.plans = nil
	}
}

func (s *Store) persist(ctx context.Context) {
	data, err := json.Marshal(s.plans)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to encode plan history", "error", err)
		return
	}
	if err := s.kv.Set(ctx, kv.KeyPlanHistory, string(data)); err != nil {
		s.logger.WarnContext(ctx, "failed to save plan history", "error", fmt.Errorf("persist: %w", err))
	}
}
