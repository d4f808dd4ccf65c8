package entitlement

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"vibe-planner/internal/kv"
)

// Record is the persisted entitlement of one chat.
type Record struct {
	LastFreePlanAt *time.Time
	Tier           TierID
	Expiry         *time.Time
	PlanCount      int
}

// Active reports whether a paid tier is in force at now.
func (r Record) Active(now time.Time) bool {
	return r.Tier != TierNone && r.Expiry != nil && now.Before(*r.Expiry)
}

// ExhaustedPolicy decides what happens when an active tier has no plans left.
type ExhaustedPolicy string

const (
	// FallThrough evaluates the free 24h window as if no tier were active.
	// When it admits, the cycle counter restarts at 0 and completed plans
	// keep being charged to the still-active tier, so the tier refills.
	FallThrough ExhaustedPolicy = "fallthrough"
	// ChargeFree also falls through to the free 24h window but leaves the
	// tier counter alone and charges the plan to the free window. An
	// exhausted tier then yields one free plan per 24h until it expires.
	ChargeFree ExhaustedPolicy = "charge-free"
	// HardBlock rate-limits until the tier expires.
	HardBlock ExhaustedPolicy = "block"
)

// ParsePolicy maps a configuration value to a policy. Empty means FallThrough.
func ParsePolicy(s string) (ExhaustedPolicy, error) {
	switch ExhaustedPolicy(s) {
	case "", FallThrough:
		return FallThrough, nil
	case ChargeFree:
		return ChargeFree, nil
	case HardBlock:
		return HardBlock, nil
	}
	return "", fmt.Errorf("unknown exhausted tier policy %q", s)
}

// Reason explains a Decision.
type Reason string

const (
	ReasonTier          Reason = "tier"
	ReasonFree          Reason = "free"
	ReasonFreeWindow    Reason = "free-window"
	ReasonTierExhausted Reason = "tier-exhausted"
)

// Decision is the outcome of an entitlement check. Grant names what admitted
// the session: a tier id, or TierNone for the free allowance.
type Decision struct {
	Allowed  bool
	Grant    TierID
	TimeLeft time.Duration
	Reason   Reason
}

// Store keeps the entitlement record of one chat. After the first load the
// in-memory copy is authoritative; write failures are logged and dropped.
type Store struct {
	kv      kv.Store
	catalog Catalog
	policy  ExhaustedPolicy
	logger  *slog.Logger

	mu     sync.Mutex
	loaded bool
	rec    Record
	refs   map[string]bool
}

type Option func(*Store)

func WithPolicy(p ExhaustedPolicy) Option {
	return func(s *Store) { s.policy = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

func NewStore(store kv.Store, catalog Catalog, opts ...Option) *Store {
	if len(catalog) == 0 {
		catalog = DefaultCatalog()
	}
	s := &Store{
		kv:      store,
		catalog: catalog,
		policy:  FallThrough,
		logger:  slog.Default(),
		rec:     Record{Tier: TierNone},
		refs:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Catalog returns the tiers this store can activate.
func (s *Store) Catalog() Catalog {
	return s.catalog
}

// Get returns the current record, clearing a lapsed tier first.
func (s *Store) Get(ctx context.Context, now time.Time) Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.normalize(ctx, now)
	return s.rec
}

// Check decides whether a new planning session may start at now. When it
// admits on the free allowance it clears an expired free-plan anchor and
// restarts the cycle counter (for FallThrough even while a tier is active).
func (s *Store) Check(ctx context.Context, now time.Time) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.normalize(ctx, now)

	d := s.decide(now)
	if !d.Allowed || d.Reason == ReasonTier {
		return d
	}
	if s.rec.LastFreePlanAt != nil {
		s.rec.LastFreePlanAt = nil
		s.remove(ctx, kv.KeyLastFreePlan)
	}
	if !s.rec.Active(now) || s.policy == FallThrough {
		s.rec.PlanCount = 0
		s.set(ctx, kv.KeyPlanCount, "0")
	}
	return d
}

// Peek reports what Check would decide at now without touching the free
// window or the cycle counter.
func (s *Store) Peek(ctx context.Context, now time.Time) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.normalize(ctx, now)
	return s.decide(now)
}

func (s *Store) decide(now time.Time) Decision {
	if s.rec.Active(now) {
		tier, _ := s.catalog.Lookup(s.rec.Tier)
		if s.rec.PlanCount < tier.PlanLimit {
			return Decision{Allowed: true, Grant: s.rec.Tier, Reason: ReasonTier}
		}
		if s.policy == HardBlock {
			return Decision{Grant: s.rec.Tier, TimeLeft: s.rec.Expiry.Sub(now), Reason: ReasonTierExhausted}
		}
	}
	if s.rec.LastFreePlanAt != nil {
		elapsed := max(now.Sub(*s.rec.LastFreePlanAt), 0)
		if elapsed < FreeWindow {
			return Decision{Grant: TierNone, TimeLeft: FreeWindow - elapsed, Reason: ReasonFreeWindow}
		}
	}
	return Decision{Allowed: true, Grant: TierNone, Reason: ReasonFree}
}

// RecordFreePlanUsed anchors the free window at now. The cycle counter is
// set to 1 unless it belongs to an active tier.
func (s *Store) RecordFreePlanUsed(ctx context.Context, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.normalize(ctx, now)
	s.recordFree(ctx, now)
}

func (s *Store) recordFree(ctx context.Context, now time.Time) {
	t := now
	s.rec.LastFreePlanAt = &t
	s.set(ctx, kv.KeyLastFreePlan, formatMillis(now))
	if !s.rec.Active(now) {
		s.rec.PlanCount = 1
		s.set(ctx, kv.KeyPlanCount, "1")
	}
}

// IncrementPlanCount charges one plan to the active tier. Without an active
// tier it does nothing.
func (s *Store) IncrementPlanCount(ctx context.Context, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.normalize(ctx, now)
	if !s.rec.Active(now) {
		return
	}
	s.rec.PlanCount++
	s.set(ctx, kv.KeyPlanCount, strconv.Itoa(s.rec.PlanCount))
}

// Consume charges one completed plan and returns the tier it was charged to,
// TierNone for the free window. Under FallThrough an active tier is charged
// whatever admitted the session. The other policies charge the grant that
// admitted it. A tier that lapsed mid-session is never charged.
func (s *Store) Consume(ctx context.Context, grant TierID, now time.Time) TierID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.normalize(ctx, now)

	if s.rec.Active(now) && (s.policy == FallThrough || s.rec.Tier == grant) {
		s.rec.PlanCount++
		s.set(ctx, kv.KeyPlanCount, strconv.Itoa(s.rec.PlanCount))
		return s.rec.Tier
	}
	s.recordFree(ctx, now)
	return TierNone
}

// ActivateSubscription starts tier at now. While a free-plan timestamp is
// stored the new tier starts with one plan used. Only Check clears that
// timestamp, once its window has passed.
func (s *Store) ActivateSubscription(ctx context.Context, id TierID, now time.Time) (Record, error) {
	tier, ok := s.catalog.Lookup(id)
	if !ok {
		return Record{}, fmt.Errorf("%w: %q", ErrUnknownTier, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.load(ctx)
	s.activate(ctx, tier, now)
	return s.rec, nil
}

// Redeemed reports whether a payment reference has already activated a tier
// for this chat.
func (s *Store) Redeemed(ctx context.Context, reference string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.redeemed(ctx, reference)
}

// Redeem activates id for a verified payment reference and remembers the
// reference. A reference redeemed before, by this process or an earlier one,
// leaves the record untouched and reports false.
func (s *Store) Redeem(ctx context.Context, reference string, id TierID, now time.Time) (Record, bool, error) {
	tier, ok := s.catalog.Lookup(id)
	if !ok {
		return Record{}, false, fmt.Errorf("%w: %q", ErrUnknownTier, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.load(ctx)
	if s.redeemed(ctx, reference) {
		return s.rec, false, nil
	}
	s.refs[reference] = true
	s.set(ctx, kv.KeyRedeemedPayment(reference), formatMillis(now))
	s.activate(ctx, tier, now)
	return s.rec, true, nil
}

func (s *Store) redeemed(ctx context.Context, reference string) bool {
	if s.refs[reference] {
		return true
	}
	if _, ok := s.get(ctx, kv.KeyRedeemedPayment(reference)); ok {
		s.refs[reference] = true
		return true
	}
	return false
}

func (s *Store) activate(ctx context.Context, tier Tier, now time.Time) {
	count := 0
	if s.rec.LastFreePlanAt != nil {
		count = 1
	}
	expiry := now.Add(tier.Validity)
	s.rec.Tier = tier.ID
	s.rec.Expiry = &expiry
	s.rec.PlanCount = count

	s.set(ctx, kv.KeySubscriptionStatus, string(tier.ID))
	s.set(ctx, kv.KeySubscriptionExpiry, formatMillis(expiry))
	s.set(ctx, kv.KeyPlanCount, strconv.Itoa(count))
}

// Remaining returns how many plans the active tier still allows, or -1 when
// no tier is active.
func (s *Store) Remaining(ctx context.Context, now time.Time) int {
	rec := s.Get(ctx, now)
	if !rec.Active(now) {
		return -1
	}
	tier, _ := s.catalog.Lookup(rec.Tier)
	return max(tier.PlanLimit-rec.PlanCount, 0)
}

// normalize loads the record and clears a lapsed or unknown tier. Callers
// hold s.mu.
func (s *Store) normalize(ctx context.Context, now time.Time) {
	s.load(ctx)

	hasSub := s.rec.Tier != TierNone || s.rec.Expiry != nil
	if !hasSub {
		return
	}
	_, known := s.catalog.Lookup(s.rec.Tier)
	if known && s.rec.Active(now) {
		return
	}

	s.logger.InfoContext(ctx, "subscription lapsed", "tier", s.rec.Tier)
	s.rec.Tier = TierNone
	s.rec.Expiry = nil
	s.rec.PlanCount = 0
	s.remove(ctx, kv.KeySubscriptionStatus)
	s.remove(ctx, kv.KeySubscriptionExpiry)
	s.remove(ctx, kv.KeyPlanCount)
}

func (s *Store) load(ctx context.Context) {
	if s.loaded {
		return
	}
	s.loaded = true

	rec := Record{Tier: TierNone}
	if v, ok := s.get(ctx, kv.KeyLastFreePlan); ok {
		if t, err := parseMillis(v); err == nil {
			rec.LastFreePlanAt = &t
		}
	}
	if v, ok := s.get(ctx, kv.KeySubscriptionStatus); ok && v != "" {
		rec.Tier = TierID(v)
	}
	if v, ok := s.get(ctx, kv.KeySubscriptionExpiry); ok {
		if t, err := parseMillis(v); err == nil {
			rec.Expiry = &t
		}
	}
	if v, ok := s.get(ctx, kv.KeyPlanCount); ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			rec.PlanCount = n
		}
	}
	s.rec = rec
}

func (s *Store) get(ctx context.Context, key string) (string, bool) {
	v, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		s.logger.WarnContext(ctx, "entitlement read failed", "key", key, "error", err)
		return "", false
	}
	return v, ok
}

func (s *Store) set(ctx context.Context, key, value string) {
	if err := s.kv.Set(ctx, key, value); err != nil {
		s.logger.WarnContext(ctx, "entitlement write failed", "key", key, "error", err)
	}
}

func (s *Store) remove(ctx context.Context, key string) {
	if err := s.kv.Remove(ctx, key); err != nil {
		s.logger.WarnContext(ctx, "entitlement remove failed", "key", key, "error", err)
	}
}

func formatMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseMillis(v string) (time.Time, error) {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}
