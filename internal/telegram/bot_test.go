package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"vibe-planner/internal/config"
	"vibe-planner/internal/database"
	"vibe-planner/internal/entitlement"
	"vibe-planner/internal/hangout"
	"vibe-planner/internal/kv"
	"vibe-planner/internal/logging"
	"vibe-planner/internal/metrics"
	"vibe-planner/internal/payment"
	"vibe-planner/internal/shared"
	"vibe-planner/internal/testfixtures"
	"vibe-planner/internal/wizard"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	adminID = 42
	userID  = 7
)

const samplePlans = `OPTION 1
Title: Sunset at Labadi
Location: Labadi Beach, Accra
Estimated Cost: GH₵50
---
OPTION 2
Title: Jazz Night
Location: +233 Jazz Bar & Grill, Osu
---
Recommendation: Option 1 if the weather holds.`

type fakeSender struct {
	mu      sync.Mutex
	texts   []string
	answers []string
	actions int
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		f.texts = append(f.texts, m.Text)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch m := c.(type) {
	case tgbotapi.CallbackConfig:
		f.answers = append(f.answers, m.Text)
	case tgbotapi.ChatActionConfig:
		f.actions++
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeSender) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.texts) == 0 {
		return ""
	}
	return f.texts[len(f.texts)-1]
}

func (f *fakeSender) all() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.texts, "\n~~~\n")
}

func (f *fakeSender) reset() {
	f.mu.Lock()
	f.texts = nil
	f.answers = nil
	f.mu.Unlock()
}

type stubGenerator struct {
	mu        sync.Mutex
	calls     int
	last      hangout.Params
	travelErr error
}

func (g *stubGenerator) GeneratePlanOptions(_ context.Context, p hangout.Params) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.last = p
	return samplePlans, nil
}

func (g *stubGenerator) GetTravelDetails(_ context.Context, _, _, _ string, _ *hangout.Location) (string, error) {
	if g.travelErr != nil {
		return "", g.travelErr
	}
	return "Travel Estimate\nDuration: 20 minutes by Uber\nCost: GH₵35", nil
}

type fakePayments struct {
	verifyErr error
}

func (p *fakePayments) Initiate(_ context.Context, _ int64, tier entitlement.Tier, _ string) (payment.Checkout, error) {
	return payment.Checkout{AuthorizationURL: "https://checkout.example/" + string(tier.ID), Reference: "vibe-ref-1"}, nil
}

func (p *fakePayments) Verify(context.Context, string, entitlement.Tier) error {
	return p.verifyErr
}

type stateParserFunc func(string) (payment.State, error)

func (f stateParserFunc) ParseState(token string) (payment.State, error) { return f(token) }

type fixture struct {
	bot      *Bot
	api      *fakeSender
	gen      *stubGenerator
	payments *fakePayments
	clock    *testfixtures.Clock
}

type fixtureOption func(*BotDeps)

func withPayments(p *fakePayments, states StateParser) fixtureOption {
	return func(d *BotDeps) {
		d.Sessions.Payments = p
		d.States = states
	}
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "bot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		api:      &fakeSender{},
		gen:      &stubGenerator{},
		payments: &fakePayments{},
		clock:    testfixtures.NewClock(time.Time{}),
	}
	deps := BotDeps{
		Config: &config.Config{AppName: "Vibe Planner", City: "Accra", AdminTelegramID: adminID, Timezone: time.UTC},
		Sessions: SessionDeps{
			DB:              db.SQL,
			Generator:       f.gen,
			Catalog:         entitlement.DefaultCatalog(),
			Policy:          entitlement.FallThrough,
			Now:             f.clock.NowFunc(),
			LocationTimeout: 5 * time.Second,
		},
		Metrics:  metrics.NewStore(db.SQL),
		Gatherer: prometheus.NewRegistry(),
		DataPath: t.TempDir(),
		Logger:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(&deps)
	}
	f.bot = NewBot(f.api, deps)
	return f
}

func command(chatID, fromID int64, text string) tgbotapi.Update {
	name, _, _ := strings.Cut(text, " ")
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: chatID},
		From:     &tgbotapi.User{ID: fromID},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}},
	}}
}

func text(chatID int64, body string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: chatID},
		From: &tgbotapi.User{ID: chatID},
		Text: body,
	}}
}

func location(chatID int64, lat, lng float64) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: chatID},
		From:     &tgbotapi.User{ID: chatID},
		Location: &tgbotapi.Location{Latitude: lat, Longitude: lng},
	}}
}

func press(chatID int64, data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: chatID},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: chatID}},
		Data:    data,
	}}
}

func (f *fixture) handle(updates ...tgbotapi.Update) {
	for _, u := range updates {
		f.bot.HandleUpdate(context.Background(), u)
	}
}

func (f *fixture) state(chatID int64) wizard.State {
	return f.bot.registry.Get(chatID).Session.View().State
}

// toOptions walks a chat from /start to the plan options.
func (f *fixture) toOptions(t *testing.T, chatID int64) {
	t.Helper()
	f.handle(command(chatID, chatID, "/start"), press(chatID, cbStart))
	for _, answer := range []string{"Food & Nightlife", "Quickie (1-2 hours)", "Mid-Range", "Solo Mission", "Right Now!"} {
		require.Equal(t, wizard.StateGatheringInput, f.state(chatID), "answering %q", answer)
		f.handle(text(chatID, answer))
	}
	require.Equal(t, wizard.StateShowingOptions, f.state(chatID))
}

func TestPlanningFlow(t *testing.T) {
	f := newFixture(t)

	f.handle(command(userID, userID, "/start"))
	assert.Contains(t, f.api.last(), "Welcome to Vibe Planner")

	f.handle(press(userID, cbStart))
	assert.Contains(t, f.api.last(), "Step 1 of")

	f.handle(text(userID, "bowling"))
	assert.Contains(t, f.api.last(), "Pick one of the options")
	require.Equal(t, 0, f.bot.registry.Get(userID).Session.View().Step)

	f.api.reset()
	for _, answer := range []string{"food & nightlife", "Quickie (1-2 hours)", "Mid-Range", "Solo Mission", "Right Now!"} {
		f.handle(text(userID, answer))
	}
	require.Equal(t, wizard.StateShowingOptions, f.state(userID))
	all := f.api.all()
	assert.Contains(t, all, "Thinking...")
	assert.Contains(t, all, "Sunset at Labadi")
	assert.Contains(t, all, "+233 Jazz Bar &amp; Grill, Osu")
	assert.Contains(t, all, "Option 1 if the weather holds.")
	assert.Equal(t, 1, f.api.actions)
	assert.Equal(t, hangout.VibeFood, f.gen.last.Vibe)

	f.handle(press(userID, planData(0)))
	require.Equal(t, wizard.StateAskingLocation, f.state(userID))
	assert.Contains(t, f.api.last(), "Where are you starting from?")

	f.handle(text(userID, "Osu"))
	assert.Contains(t, f.api.last(), "When are you heading out?")

	f.handle(text(userID, "soonish"))
	assert.Contains(t, f.api.last(), "Send a time like 7:30 PM")
	require.Equal(t, wizard.StateAskingLocation, f.state(userID))

	f.handle(press(userID, cbDepartNow))
	require.Equal(t, wizard.StateShowingFinalPlan, f.state(userID))
	assert.Contains(t, f.api.last(), "Your plan is set!")
	assert.Contains(t, f.api.last(), "20 minutes by Uber")

	chat := f.bot.registry.Get(userID)
	plans := chat.History.List(context.Background())
	require.Len(t, plans, 1)
	assert.Contains(t, plans[0].PlanContent, "Labadi Beach, Accra")

	f.handle(press(userID, cbPlanAnother))
	require.Equal(t, wizard.StateRateLimited, f.state(userID))
	assert.Contains(t, f.api.last(), "You've used your free plan for today.")
	assert.NotContains(t, f.api.last(), "Grab a boost", "no tiers offered without payments")
}

func TestTypedTimeAnswer(t *testing.T) {
	f := newFixture(t)
	f.handle(command(userID, userID, "/start"), press(userID, cbStart))
	for _, answer := range []string{"Food & Nightlife", "Quickie (1-2 hours)", "Mid-Range", "Solo Mission", "Later Today"} {
		f.handle(text(userID, answer))
	}
	require.Equal(t, wizard.StateGatheringInput, f.state(userID))
	assert.Contains(t, f.api.last(), "Send a time like 7:30 PM.")

	f.handle(text(userID, "9:45 pm"))
	require.Equal(t, wizard.StateShowingOptions, f.state(userID))
	assert.Equal(t, "21:45", f.gen.last.SpecificDateTime)
}

func TestAnswerButtonsAndBack(t *testing.T) {
	f := newFixture(t)
	f.handle(command(userID, userID, "/start"), press(userID, cbStart))

	f.handle(press(userID, answerData(hangout.KeyVibe, 1)))
	v := f.bot.registry.Get(userID).Session.View()
	assert.Equal(t, 1, v.Step)
	assert.Equal(t, hangout.VibeFood, v.Params.Vibe)

	f.handle(press(userID, cbBack))
	v = f.bot.registry.Get(userID).Session.View()
	assert.Equal(t, 0, v.Step)

	f.api.reset()
	f.handle(press(userID, answerData(hangout.KeyVibe, 99)))
	assert.Contains(t, f.api.all(), "That button has expired.")
}

func TestStaleButtonIsRejected(t *testing.T) {
	f := newFixture(t)
	f.handle(command(userID, userID, "/start"))

	f.handle(press(userID, planData(0)))
	assert.Contains(t, f.api.all(), "That button has expired.")
	assert.Equal(t, wizard.StateWelcome, f.state(userID))
}

func TestSharedLocationAsOrigin(t *testing.T) {
	f := newFixture(t)
	f.toOptions(t, userID)
	f.handle(press(userID, planData(1)))

	f.handle(location(userID, 5.55, -0.2))
	assert.Contains(t, f.api.last(), "When are you heading out?")

	f.handle(text(userID, "7:30 PM"))
	require.Equal(t, wizard.StateShowingFinalPlan, f.state(userID))
	assert.Contains(t, f.api.last(), "Jazz Night")
}

func TestTravelFailureShowsError(t *testing.T) {
	f := newFixture(t)
	f.gen.travelErr = errors.New("upstream down")
	f.toOptions(t, userID)
	f.handle(press(userID, planData(0)), text(userID, "Osu"), press(userID, cbDepartNow))

	require.Equal(t, wizard.StateError, f.state(userID))
	assert.Contains(t, f.api.last(), "😕")

	f.handle(press(userID, cbRestart))
	assert.Equal(t, wizard.StateWelcome, f.state(userID))
}

func TestFindCloser(t *testing.T) {
	f := newFixture(t)
	f.toOptions(t, userID)
	chat := f.bot.registry.Get(userID)

	f.bot.dispatch(press(userID, cbCloser))
	require.Eventually(t, chat.Locator.Waiting, 2*time.Second, time.Millisecond)
	assert.Contains(t, f.api.all(), "Share your location")

	f.handle(location(userID, 5.6, -0.17))
	f.bot.Wait()

	require.Equal(t, wizard.StateShowingOptions, f.state(userID))
	assert.Equal(t, 2, f.gen.calls)
	assert.Equal(t, hangout.ProximityClose, f.gen.last.Proximity)
	require.NotNil(t, f.gen.last.Location)
	assert.InDelta(t, 5.6, f.gen.last.Location.Latitude, 1e-9)
}

func TestFindCloserDeclined(t *testing.T) {
	f := newFixture(t)
	f.toOptions(t, userID)
	chat := f.bot.registry.Get(userID)

	f.bot.dispatch(press(userID, cbCloser))
	require.Eventually(t, chat.Locator.Waiting, 2*time.Second, time.Millisecond)

	f.handle(text(userID, declineLocation))
	f.bot.Wait()

	assert.Equal(t, wizard.StateError, f.state(userID))
	assert.Contains(t, f.api.last(), "Please share your location to find closer vibes.")
	assert.Equal(t, 1, f.gen.calls)
}

func TestRatingAndHistory(t *testing.T) {
	f := newFixture(t)
	f.toOptions(t, userID)
	f.handle(press(userID, planData(0)), text(userID, "Osu"), press(userID, cbDepartNow))
	planID := f.bot.registry.Get(userID).Session.View().SavedPlanID
	require.NotEmpty(t, planID)

	f.handle(press(userID, rateData(planID, 4)))
	assert.Contains(t, f.api.answers, "Rated ⭐⭐⭐⭐")

	f.handle(press(userID, rateData(planID, 9)))
	assert.Contains(t, f.api.answers, "Couldn't save that rating.")

	p, ok := f.bot.registry.Get(userID).History.Get(context.Background(), planID)
	require.True(t, ok)
	require.NotNil(t, p.Rating)
	assert.Equal(t, 4, *p.Rating)

	f.handle(command(userID, userID, "/history"))
	assert.Contains(t, f.api.last(), "Your Saved Plans")
	assert.Contains(t, f.api.last(), "Sunset at Labadi")

	f.handle(press(userID, historyData(planID)))
	assert.Contains(t, f.api.last(), "Saved Sat 15 Mar 2025")
}

func TestThemeIsPersisted(t *testing.T) {
	f := newFixture(t)
	f.handle(command(userID, userID, "/theme"))
	assert.Contains(t, f.api.last(), "light theme")

	v, ok, err := f.bot.registry.Get(userID).Prefs.Get(context.Background(), kv.KeyThemePreference)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, string(ThemeLight), v)

	f.handle(command(userID, userID, "/start"))
	assert.Contains(t, f.api.last(), ThemeLight.icon())
}

func TestMetricsCommandIsAdminOnly(t *testing.T) {
	f := newFixture(t)

	f.handle(command(userID, userID, "/metrics"))
	assert.Contains(t, f.api.last(), "Access Denied")

	f.handle(command(adminID, adminID, "/metrics"))
	assert.Contains(t, f.api.last(), "Usage &amp; Health Report")
	assert.Contains(t, f.api.last(), "Chats: 2")
}

func TestUnknownCommandShowsHelp(t *testing.T) {
	f := newFixture(t)
	f.handle(command(userID, userID, "/wat"))
	assert.Equal(t, helpText, f.api.last())
}

func TestCheckoutFlow(t *testing.T) {
	states := stateParserFunc(func(string) (payment.State, error) { return payment.State{}, errors.New("unused") })
	f := newFixture(t, withPayments(&fakePayments{}, states))

	f.handle(command(userID, userID, "/start"), press(userID, cbUpgrade))
	assert.Contains(t, f.api.last(), "Pick a plan")

	f.handle(press(userID, cbTier+string(entitlement.TierMicroBoost)))
	assert.Contains(t, f.api.last(), "What email should the receipt go to?")

	f.handle(text(userID, "not-an-email"))
	assert.Equal(t, "Please enter a valid email address.", f.api.last())

	f.handle(text(userID, "ama@example.com"))
	assert.Contains(t, f.api.last(), "Tap below to pay")
	mode, _ := f.bot.registry.Get(userID).pendingInput()
	assert.Equal(t, inputNone, mode)

	f.handle(press(userID, cbPayCancel))
	assert.Contains(t, f.api.all(), wizard.PaymentClosedMessage)
	assert.Equal(t, wizard.StateWelcome, f.state(userID))
}

func TestUpgradeWithoutPayments(t *testing.T) {
	f := newFixture(t)
	f.handle(press(userID, cbUpgrade))
	assert.Contains(t, f.api.last(), "Payments aren't available right now.")
}

func TestRoutes(t *testing.T) {
	f := newFixture(t)
	r := f.bot.Routes()

	t.Run("health", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "OK", w.Body.String())
	})

	t.Run("metrics", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("webhook", func(t *testing.T) {
		body := `{"update_id":1,"message":{"message_id":1,"chat":{"id":5,"type":"private"},"from":{"id":5},` +
			`"text":"/help","entities":[{"type":"bot_command","offset":0,"length":5}]}}`
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body)))
		assert.Equal(t, http.StatusOK, w.Code)
		f.bot.Wait()
		assert.Equal(t, helpText, f.api.last())
	})

	t.Run("malformed webhook", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("nope")))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("payment callback without payments", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payment/callback?state=x&reference=y", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestPaymentCallback(t *testing.T) {
	const chatID = 9
	states := stateParserFunc(func(token string) (payment.State, error) {
		if token != "good" {
			return payment.State{}, errors.New("token is expired")
		}
		return payment.State{ChatID: chatID, Tier: entitlement.TierMicroBoost, Reference: "ref-1"}, nil
	})

	callback := func(t *testing.T, f *fixture, query string) *httptest.ResponseRecorder {
		t.Helper()
		w := httptest.NewRecorder()
		f.bot.Routes().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payment/callback?"+query, nil))
		return w
	}

	t.Run("activates tier", func(t *testing.T) {
		f := newFixture(t, withPayments(&fakePayments{}, states))
		w := callback(t, f, "state=good&reference=ref-1&trxref=ref-1")
		require.Equal(t, http.StatusOK, w.Code)

		rec := f.bot.registry.Get(chatID).Entitlements.Get(context.Background(), f.clock.Now())
		assert.Equal(t, entitlement.TierMicroBoost, rec.Tier)
		assert.Equal(t, wizard.StateGatheringInput, f.state(chatID))
		assert.Contains(t, f.api.all(), "is active!")
		assert.Contains(t, f.api.last(), "Step 1 of")
	})

	t.Run("trxref fallback", func(t *testing.T) {
		f := newFixture(t, withPayments(&fakePayments{}, states))
		w := callback(t, f, "state=good&trxref=ref-1")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("verification failure", func(t *testing.T) {
		f := newFixture(t, withPayments(&fakePayments{verifyErr: payment.ErrUnderpaid}, states))
		w := callback(t, f, "state=good&reference=ref-1")
		assert.Equal(t, http.StatusPaymentRequired, w.Code)
		assert.Equal(t, wizard.StateError, f.state(chatID))
		assert.Contains(t, f.api.last(), "Payment verification failed")
	})

	t.Run("bad state", func(t *testing.T) {
		f := newFixture(t, withPayments(&fakePayments{}, states))
		w := callback(t, f, "state=forged&reference=ref-1")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("reference mismatch", func(t *testing.T) {
		f := newFixture(t, withPayments(&fakePayments{}, states))
		w := callback(t, f, "state=good&reference=someone-else")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, 0, f.bot.registry.Len())
	})
}

type recorderFunc func(context.Context, shared.CallMeta) error

func (f recorderFunc) RecordMeta(ctx context.Context, m shared.CallMeta) error { return f(ctx, m) }

func TestAlertingRecorder(t *testing.T) {
	api := &fakeSender{}
	var recorded int
	next := recorderFunc(func(context.Context, shared.CallMeta) error {
		recorded++
		return nil
	})
	r := NewAlertingRecorder(next, api, adminID, 0, logging.Discard())

	small := shared.CallMeta{Operation: "plan-options", Usage: shared.TokenUsage{PromptTokens: 1200, Model: "gemini"}}
	require.NoError(t, r.RecordMeta(context.Background(), small))
	assert.Empty(t, api.texts)

	big := small
	big.Usage.PromptTokens = DefaultPromptTokenLimit + 1
	require.NoError(t, r.RecordMeta(context.Background(), big))
	require.Len(t, api.texts, 1)
	assert.Contains(t, api.texts[0], "Context Bloat Alert")
	assert.Contains(t, api.texts[0], "plan-options")
	assert.Equal(t, 2, recorded)

	silent := NewAlertingRecorder(next, api, 0, 10, logging.Discard())
	require.NoError(t, silent.RecordMeta(context.Background(), big))
	assert.Len(t, api.texts, 1, "no admin configured")
}
