// Package wizard drives one user's planning session from the welcome screen
// to a saved final plan.
//
// Operations return an error only when they are rejected (ErrBusy,
// ErrInvalidTransition, ErrInvalidAnswer and validation errors); the session
// is then unchanged. Failures of external calls are not returned: they move
// the session to ERROR and are reported through View.
package wizard

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"vibe-planner/internal/entitlement"
	"vibe-planner/internal/geo"
	"vibe-planner/internal/hangout"
	"vibe-planner/internal/history"
	"vibe-planner/internal/logging"
	"vibe-planner/internal/metrics"
	"vibe-planner/internal/payment"
	"vibe-planner/internal/plantext"
)

// Generator produces plan options and travel details.
type Generator interface {
	GeneratePlanOptions(ctx context.Context, p hangout.Params) (string, error)
	GetTravelDetails(ctx context.Context, origin, destination, intendedTime string, originLocation *hangout.Location) (string, error)
}

// Payments starts and verifies tier purchases.
type Payments interface {
	Initiate(ctx context.Context, chatID int64, tier entitlement.Tier, email string) (payment.Checkout, error)
	Verify(ctx context.Context, reference string, tier entitlement.Tier) error
}

// Deps are the collaborators of a session. Entitlements and History are
// required; a nil Generator puts the session in a configuration error.
type Deps struct {
	Generator    Generator
	Entitlements *entitlement.Store
	History      *history.Store
	Payments     Payments
	Locator      geo.Locator
}

type Option func(*Session)

func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithIntN replaces the random source used by SurpriseMe.
func WithIntN(intn func(n int) int) Option {
	return func(s *Session) { s.intn = intn }
}

func WithCollector(c *metrics.Collector) Option {
	return func(s *Session) { s.collector = c }
}

func WithListener(l Listener) Option {
	return func(s *Session) { s.listeners = append(s.listeners, l) }
}

// WithConfigurationError starts the session in ERROR for good.
func WithConfigurationError(err error) Option {
	return func(s *Session) {
		if err != nil {
			s.configErr = &ConfigurationError{Err: err}
		}
	}
}

// Session is safe for concurrent use. Its lock is never held across an
// external call; while one is pending every other operation gets ErrBusy.
type Session struct {
	id        int64
	gen       Generator
	ent       *entitlement.Store
	hist      *history.Store
	payments  Payments
	locator   geo.Locator
	collector *metrics.Collector
	now       func() time.Time
	intn      func(int) int
	listeners []Listener
	configErr error

	mu        sync.Mutex
	state     State
	busy      bool
	step      int
	params    hangout.Params
	options   string
	selected  string
	final     string
	savedID   string
	err       error
	timeLeft  time.Duration
	limitedAt time.Time
	grant     entitlement.TierID
	pending   []Transition
}

func New(id int64, deps Deps, opts ...Option) *Session {
	s := &Session{
		id:       id,
		gen:      deps.Generator,
		ent:      deps.Entitlements,
		hist:     deps.History,
		payments: deps.Payments,
		locator:  deps.Locator,
		now:      time.Now,
		intn:     rand.IntN,
		state:    StateWelcome,
		params:   hangout.NewParams(),
		grant:    entitlement.TierNone,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.locator == nil {
		s.locator = geo.Failing(geo.Unsupported)
	}
	if s.gen == nil && s.configErr == nil {
		s.configErr = &ConfigurationError{Err: fmt.Errorf("no plan generator")}
	}
	if s.configErr != nil {
		s.state = StateError
		s.err = s.configErr
	}
	return s
}

// ID is the chat the session belongs to.
func (s *Session) ID() int64 { return s.id }

// View returns a snapshot of the session.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		State:       s.state,
		Busy:        s.busy,
		Step:        s.step,
		Params:      s.params,
		Options:     s.options,
		Selected:    s.selected,
		FinalPlan:   s.final,
		SavedPlanID: s.savedID,
		Grant:       s.grant,
	}
	if s.params.Location != nil {
		loc := *s.params.Location
		v.Params.Location = &loc
	}
	now := s.now()

	switch s.state {
	case StateGatheringInput:
		v.Questions = hangout.Questions(s.params, now)
		if s.step < len(v.Questions) {
			q := v.Questions[s.step]
			v.Question = &q
		}
		v.Progress = hangout.Progress(s.step, len(v.Questions))
	case StateRateLimited:
		v.TimeLeft = max(s.timeLeft-now.Sub(s.limitedAt), 0)
	case StateError:
		v.Err = s.err
		v.ErrorMessage = UserMessage(s.err)
	}
	if s.options != "" {
		v.Plans = plantext.Parse(s.options)
	}
	return v
}

// Start runs the entitlement check from WELCOME or RATE_LIMITED.
func (s *Session) Start(ctx context.Context) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release(ctx)
	if s.state != StateWelcome && s.state != StateRateLimited {
		return s.invalid("start")
	}

	now := s.now()
	d := s.ent.Check(ctx, now)
	s.collector.ObserveEntitlement(string(d.Reason))
	s.logger(ctx).InfoContext(ctx, "entitlement checked", "allowed", d.Allowed, "reason", d.Reason, "time_left", d.TimeLeft)

	if !d.Allowed {
		s.timeLeft = d.TimeLeft
		s.limitedAt = now
		s.setState(StateRateLimited)
		return nil
	}
	s.resetDraft()
	s.grant = d.Grant
	s.setState(StateGatheringInput)
	return nil
}

// Answer answers the current question. key must match it so that a stale
// button cannot answer a different one. The last answer submits the draft.
func (s *Session) Answer(ctx context.Context, key hangout.ParamKey, value string) error {
	return s.answerWith(ctx, func(hangout.Question) (hangout.ParamKey, string, error) {
		return key, strings.TrimSpace(value), nil
	})
}

// SurpriseMe answers the current question with a random option.
func (s *Session) SurpriseMe(ctx context.Context) error {
	return s.answerWith(ctx, func(q hangout.Question) (hangout.ParamKey, string, error) {
		if len(q.Options) == 0 {
			return "", "", fmt.Errorf("%w: %s has no options to pick from", ErrInvalidAnswer, q.Key)
		}
		return q.Key, q.Options[s.intn(len(q.Options))].Value, nil
	})
}

// SubmitSpecificTime answers the specific date/time question from a 12-hour
// clock. date is required for "Sometime This Week" and ignored otherwise.
func (s *Session) SubmitSpecificTime(ctx context.Context, date, hour, minute, ampm string) error {
	return s.answerWith(ctx, func(q hangout.Question) (hangout.ParamKey, string, error) {
		if q.Key != hangout.KeySpecificDateTime {
			return "", "", fmt.Errorf("%w: not asking for a time", ErrInvalidAnswer)
		}
		if q.Kind == hangout.KindTime {
			date = ""
		} else if strings.TrimSpace(date) == "" {
			return "", "", fmt.Errorf("%w: a date is required", ErrInvalidAnswer)
		}
		value, err := hangout.FormatSpecificTime(date, hour, minute, ampm)
		if err != nil {
			return "", "", fmt.Errorf("%w: %v", ErrInvalidAnswer, err)
		}
		return q.Key, value, nil
	})
}

func (s *Session) answerWith(ctx context.Context, pick func(hangout.Question) (hangout.ParamKey, string, error)) error {
	if err := s.acquire(); err != nil {
		return err
	}
	if s.state != StateGatheringInput {
		defer s.release(ctx)
		return s.invalid("answer")
	}

	now := s.now()
	qs := hangout.Questions(s.params, now)
	complete := s.step >= len(qs)
	if !complete {
		key, value, err := pick(qs[s.step])
		if err == nil {
			complete, err = s.apply(qs[s.step], key, value, now)
		}
		if err != nil {
			s.release(ctx)
			return err
		}
	}
	if !complete {
		s.release(ctx)
		return nil
	}

	params := s.params
	s.enterLoading()
	s.release(ctx)
	s.generate(ctx, params)
	return nil
}

// apply stores an answer to q and advances. It reports whether the
// questionnaire is complete. Callers hold s.mu.
func (s *Session) apply(q hangout.Question, key hangout.ParamKey, value string, now time.Time) (bool, error) {
	if key != q.Key {
		return false, fmt.Errorf("%w: expected %s, got %s", ErrInvalidAnswer, q.Key, key)
	}
	if !q.Accepts(value) {
		return false, fmt.Errorf("%w: %q for %s", ErrInvalidAnswer, value, key)
	}
	if err := s.params.Set(key, value); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidAnswer, err)
	}

	qs := s.prune(key, now)
	next := hangout.Index(qs, key) + 1
	if next >= len(qs) {
		return true, nil
	}
	s.step = next
	return false, nil
}

// prune clears answers the draft no longer asks for, and answers after key
// that its new value invalidated, until the derived sequence is stable.
func (s *Session) prune(key hangout.ParamKey, now time.Time) []hangout.Question {
	for {
		qs := hangout.Questions(s.params, now)
		pos := hangout.Index(qs, key)
		changed := false
		for _, k := range hangout.AnswerKeys {
			v := s.params.Value(k)
			if v == "" || k == key {
				continue
			}
			i := hangout.Index(qs, k)
			if i < 0 || (i > pos && !qs[i].Accepts(v)) {
				s.params.Clear(k)
				changed = true
			}
		}
		if !changed {
			return qs
		}
	}
}

// Back retreats one question, clearing the answer of the step being left,
// or returns from ASKING_LOCATION to the options. Back on the first question
// does nothing.
func (s *Session) Back(ctx context.Context) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release(ctx)

	switch s.state {
	case StateGatheringInput:
		if s.step == 0 {
			return nil
		}
		qs := hangout.Questions(s.params, s.now())
		if s.step < len(qs) {
			s.params.Clear(qs[s.step].Key)
		}
		s.step = min(s.step-1, len(qs)-1)
		return nil
	case StateAskingLocation:
		s.selected = ""
		s.setState(StateShowingOptions)
		return nil
	}
	return s.invalid("go back")
}

// Regenerate asks for a fresh set of options with the same draft. It does
// not consume entitlement.
func (s *Session) Regenerate(ctx context.Context) error {
	if err := s.acquire(); err != nil {
		return err
	}
	if s.state != StateShowingOptions {
		defer s.release(ctx)
		return s.invalid("regenerate")
	}
	params := s.params
	s.enterLoading()
	s.release(ctx)
	s.generate(ctx, params)
	return nil
}

// FindCloser locates the user and regenerates options near them.
func (s *Session) FindCloser(ctx context.Context) error {
	if err := s.acquire(); err != nil {
		return err
	}
	if s.state != StateShowingOptions {
		defer s.release(ctx)
		return s.invalid("find closer")
	}
	s.busy = true
	s.release(ctx)

	loc, err := s.locator.Locate(ctx)

	s.mu.Lock()
	s.busy = false
	if err != nil {
		s.fail(ctx, &GeolocationError{Err: geo.AsError(err)})
		s.release(ctx)
		return nil
	}
	s.params.Location = &loc
	s.params.Proximity = hangout.ProximityClose
	params := s.params
	s.enterLoading()
	s.release(ctx)
	s.generate(ctx, params)
	return nil
}

// SelectPlan picks option block index of the current options.
func (s *Session) SelectPlan(ctx context.Context, index int) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release(ctx)
	if s.state != StateShowingOptions {
		return s.invalid("select a plan")
	}
	doc := plantext.Parse(s.options)
	if index < 0 || index >= len(doc.Options) {
		return fmt.Errorf("%w: no plan %d", ErrInvalidAnswer, index+1)
	}
	s.selected = doc.Options[index].Raw
	s.setState(StateAskingLocation)
	return nil
}

// SubmitLocation fetches travel details from origin to the chosen plan. On
// success the final plan is saved and one entitlement unit is consumed.
func (s *Session) SubmitLocation(ctx context.Context, origin string, originLocation *hangout.Location, intendedTime string) error {
	if err := s.acquire(); err != nil {
		return err
	}
	if s.state != StateAskingLocation {
		defer s.release(ctx)
		return s.invalid("submit a location")
	}
	origin = strings.TrimSpace(origin)
	intendedTime = strings.TrimSpace(intendedTime)
	if origin == "" || intendedTime == "" {
		defer s.release(ctx)
		return fmt.Errorf("%w: starting point and time are required", ErrInvalidAnswer)
	}

	destination, ok := plantext.Destination(s.selected)
	if !ok {
		s.fail(ctx, &MissingDestinationError{})
		s.release(ctx)
		return nil
	}

	s.params.SpecificDateTime = intendedTime
	if originLocation != nil {
		loc := *originLocation
		originLocation = &loc
	}
	selected := s.selected
	s.enterLoading()
	s.release(ctx)

	travel, err := s.gen.GetTravelDetails(ctx, origin, destination, intendedTime, originLocation)

	s.mu.Lock()
	defer s.release(ctx)
	s.busy = false
	if err != nil {
		s.fail(ctx, &GenerationError{Err: err})
		return nil
	}

	final := plantext.Compose(selected, travel)
	saved := s.hist.Append(ctx, final)
	charged := s.ent.Consume(ctx, s.grant, s.now())
	s.collector.ObservePlanCompleted(string(charged))
	s.logger(ctx).InfoContext(ctx, "plan completed", "plan_id", saved.ID, "grant", s.grant, "charged", charged)

	s.final = final
	s.savedID = saved.ID
	s.setState(StateShowingFinalPlan)
	return nil
}

// Restart returns to WELCOME and clears the draft. Persisted entitlement and
// history are kept. A session with a configuration error stays in ERROR.
func (s *Session) Restart(ctx context.Context) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release(ctx)
	if s.configErr != nil {
		return nil
	}
	s.resetDraft()
	s.grant = entitlement.TierNone
	s.err = nil
	s.timeLeft = 0
	s.setState(StateWelcome)
	return nil
}

// InitiatePayment starts a tier purchase from WELCOME or RATE_LIMITED.
func (s *Session) InitiatePayment(ctx context.Context, tierID entitlement.TierID, email string) (payment.Checkout, error) {
	if err := s.acquire(); err != nil {
		return payment.Checkout{}, err
	}
	if s.state != StateWelcome && s.state != StateRateLimited {
		defer s.release(ctx)
		return payment.Checkout{}, s.invalid("start a payment")
	}
	if s.payments == nil {
		s.release(ctx)
		return payment.Checkout{}, ErrPaymentsDisabled
	}
	tier, ok := s.ent.Catalog().Lookup(tierID)
	if !ok {
		s.release(ctx)
		return payment.Checkout{}, fmt.Errorf("%w: %q", entitlement.ErrUnknownTier, tierID)
	}
	if err := payment.ValidateEmail(email); err != nil {
		s.release(ctx)
		return payment.Checkout{}, err
	}
	s.busy = true
	s.release(ctx)

	checkout, err := s.payments.Initiate(ctx, s.id, tier, email)

	s.mu.Lock()
	s.busy = false
	s.release(ctx)
	if err != nil {
		s.logger(ctx).ErrorContext(ctx, "payment initiation failed", "tier", tierID, "error", err)
		return payment.Checkout{}, err
	}
	s.logger(ctx).InfoContext(ctx, "payment initiated", "tier", tierID, "reference", checkout.Reference)
	return checkout, nil
}

// PaymentSucceeded verifies reference with the provider before activating
// tierID. From WELCOME, RATE_LIMITED or ERROR the session moves to the first
// question; elsewhere the tier is activated and the state kept. A failed
// verification moves to ERROR. A reference is redeemed once per chat, across
// restarts; a replay is ignored without asking the provider again.
func (s *Session) PaymentSucceeded(ctx context.Context, reference string, tierID entitlement.TierID) error {
	if err := s.acquire(); err != nil {
		return err
	}
	if s.payments == nil {
		s.release(ctx)
		return ErrPaymentsDisabled
	}
	if s.ent.Redeemed(ctx, reference) {
		s.release(ctx)
		s.logger(ctx).WarnContext(ctx, "payment reference already redeemed", "reference", reference)
		return nil
	}
	tier, ok := s.ent.Catalog().Lookup(tierID)
	if !ok {
		s.release(ctx)
		return fmt.Errorf("%w: %q", entitlement.ErrUnknownTier, tierID)
	}
	s.busy = true
	s.release(ctx)

	verifyErr := s.payments.Verify(ctx, reference, tier)

	s.mu.Lock()
	defer s.release(ctx)
	s.busy = false
	s.collector.ObservePayment(string(tierID), verifyErr == nil)
	if verifyErr != nil {
		s.fail(ctx, &PaymentVerificationError{Reference: reference, Err: verifyErr})
		return nil
	}

	rec, fresh, err := s.ent.Redeem(ctx, reference, tierID, s.now())
	if err != nil {
		return err
	}
	if !fresh {
		return nil
	}
	s.logger(ctx).InfoContext(ctx, "subscription activated", "tier", rec.Tier, "expiry", rec.Expiry, "plan_count", rec.PlanCount)

	switch s.state {
	case StateWelcome, StateRateLimited, StateError:
		if s.configErr != nil {
			return nil
		}
		s.resetDraft()
		s.err = nil
		s.grant = tierID
		s.setState(StateGatheringInput)
	}
	return nil
}

// PaymentClosed records that the user abandoned checkout. The state does not
// change; the returned text is shown to the user.
func (s *Session) PaymentClosed(ctx context.Context) string {
	s.logger(ctx).InfoContext(ctx, "payment closed")
	return PaymentClosedMessage
}

func (s *Session) generate(ctx context.Context, params hangout.Params) {
	text, err := s.gen.GeneratePlanOptions(ctx, params)

	s.mu.Lock()
	defer s.release(ctx)
	s.busy = false
	if err != nil {
		s.fail(ctx, &GenerationError{Err: err})
		return
	}
	s.options = text
	s.selected = ""
	s.setState(StateShowingOptions)
}

// acquire locks the session unless an external call is pending.
func (s *Session) acquire() error {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return ErrBusy
	}
	return nil
}

// release unlocks and then notifies listeners of the transitions made while
// locked.
func (s *Session) release(ctx context.Context) {
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, t := range pending {
		for _, l := range s.listeners {
			l(ctx, t)
		}
	}
}

func (s *Session) setState(to State) {
	if s.state == to {
		return
	}
	t := Transition{From: s.state, To: to}
	s.state = to
	s.pending = append(s.pending, t)
	s.collector.ObserveTransition(string(t.From), string(t.To))
}

func (s *Session) enterLoading() {
	s.busy = true
	s.setState(StateLoading)
}

func (s *Session) fail(ctx context.Context, err error) {
	s.logger(ctx).WarnContext(ctx, "session failed", "state", s.state, "error", err)
	s.err = err
	s.setState(StateError)
}

func (s *Session) resetDraft() {
	s.params = hangout.NewParams()
	s.step = 0
	s.options = ""
	s.selected = ""
	s.final = ""
	s.savedID = ""
}

func (s *Session) invalid(op string) error {
	return fmt.Errorf("%w: cannot %s in %s", ErrInvalidTransition, op, s.state)
}

func (s *Session) logger(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx).With("chat_id", s.id)
}
