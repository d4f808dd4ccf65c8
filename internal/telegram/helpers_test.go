package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"vibe-planner/internal/entitlement"
	"vibe-planner/internal/geo"
	"vibe-planner/internal/hangout"
	"vibe-planner/internal/history"
	"vibe-planner/internal/wizard"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCallback(t *testing.T) {
	tests := []struct {
		data string
		want callback
	}{
		{answerData(hangout.KeyBudget, 2), callback{action: cbAnswer, key: hangout.KeyBudget, index: 2}},
		{planData(1), callback{action: cbPlan, index: 1}},
		{cbTier + string(entitlement.TierPowerPlanner), callback{action: cbTier, tier: entitlement.TierPowerPlanner}},
		{rateData("plan-1", 5), callback{action: cbRate, id: "plan-1", index: 5}},
		{historyData("plan-2"), callback{action: cbHistory, id: "plan-2"}},
		{cbSurprise, callback{action: cbSurprise}},
		{cbDepartNow, callback{action: cbDepartNow}},
	}
	for _, tt := range tests {
		t.Run(tt.data, func(t *testing.T) {
			got, err := parseCallback(tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", "zzz", "a|vibe", "a|vibe|x", "p|", "rt||3", "rt|plan-1"} {
		_, err := parseCallback(bad)
		assert.Error(t, err, bad)
	}
}

func TestCallbackDataFitsTelegramLimit(t *testing.T) {
	longest := answerData(hangout.KeySpecificDateTime, 10)
	assert.LessOrEqual(t, len(longest), 64)
	assert.LessOrEqual(t, len(rateData("0195f3a2-7b8c-7def-8123-456789abcdef", 5)), 64)
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in                 string
		hour, minute, ampm string
	}{
		{"7:30 PM", "7", "30", "PM"},
		{"7pm", "7", "00", "PM"},
		{"7.15am", "7", "15", "AM"},
		{"19:30", "7", "30", "PM"},
		{"00:05", "12", "05", "AM"},
		{"12:00", "12", "00", "PM"},
		{"9", "9", "00", "AM"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			h, m, ap, err := parseClock(tt.in)
			require.NoError(t, err)
			assert.Equal(t, []string{tt.hour, tt.minute, tt.ampm}, []string{h, m, ap})
		})
	}

	for _, bad := range []string{"", "soon", "25:00", "7:3"} {
		_, _, _, err := parseClock(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseDateTime(t *testing.T) {
	d, h, m, ap, err := parseDateTime("2025-03-18 7:30 PM")
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-03-18", "7", "30", "PM"}, []string{d, h, m, ap})

	_, _, _, _, err = parseDateTime("tomorrow 7pm")
	assert.Error(t, err)
	_, _, _, _, err = parseDateTime("2025-03-18")
	assert.Error(t, err)
}

func TestDepartureTime(t *testing.T) {
	now := time.Date(2025, time.March, 15, 20, 5, 0, 0, time.UTC)

	got, err := departureTime("now", now)
	require.NoError(t, err)
	assert.Equal(t, "20:05", got)

	got, err = departureTime("7:30 PM", now)
	require.NoError(t, err)
	assert.Equal(t, "19:30", got)

	_, err = departureTime("whenever", now)
	assert.Error(t, err)
}

func TestMatchOption(t *testing.T) {
	q := hangout.Questions(hangout.NewParams(), time.Now())[0]

	v, ok := matchOption(q, "food & nightlife")
	assert.True(t, ok)
	assert.Equal(t, string(hangout.VibeFood), v)

	_, ok = matchOption(q, "bowling")
	assert.False(t, ok)
}

func TestLocationWaiter(t *testing.T) {
	t.Run("delivered", func(t *testing.T) {
		w := NewLocationWaiter(time.Second)
		assert.False(t, w.Deliver(hangout.Location{}), "nothing is waiting yet")

		done := make(chan hangout.Location, 1)
		go func() {
			loc, err := w.Locate(context.Background())
			assert.NoError(t, err)
			done <- loc
		}()
		require.Eventually(t, w.Waiting, time.Second, time.Millisecond)
		require.True(t, w.Deliver(hangout.Location{Latitude: 5.6, Longitude: -0.18}))
		assert.Equal(t, hangout.Location{Latitude: 5.6, Longitude: -0.18}, <-done)
		assert.False(t, w.Waiting())
	})

	t.Run("declined", func(t *testing.T) {
		w := NewLocationWaiter(time.Second)
		errs := make(chan error, 1)
		go func() {
			_, err := w.Locate(context.Background())
			errs <- err
		}()
		require.Eventually(t, w.Waiting, time.Second, time.Millisecond)
		require.True(t, w.Decline())

		var gerr *geo.Error
		require.True(t, errors.As(<-errs, &gerr))
		assert.Equal(t, geo.PermissionDenied, gerr.Code)
	})

	t.Run("timeout", func(t *testing.T) {
		w := NewLocationWaiter(10 * time.Millisecond)
		_, err := w.Locate(context.Background())
		var gerr *geo.Error
		require.True(t, errors.As(err, &gerr))
		assert.Equal(t, geo.Timeout, gerr.Code)
	})
}

func TestRenderQuestion(t *testing.T) {
	r := renderer{appName: "Vibe", city: "Accra", catalog: entitlement.DefaultCatalog()}
	qs := hangout.Questions(hangout.NewParams(), time.Now())

	first := r.question(wizard.View{State: wizard.StateGatheringInput, Step: 0, Questions: qs, Question: &qs[0]})
	kb, ok := first.Markup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	assert.Contains(t, first.Text, "Step 1 of")
	nav := kb.InlineKeyboard[len(kb.InlineKeyboard)-1]
	require.Len(t, nav, 1, "no Back button on the first question")
	assert.Equal(t, cbSurprise, *nav[0].CallbackData)

	second := r.question(wizard.View{State: wizard.StateGatheringInput, Step: 1, Questions: qs, Question: &qs[1]})
	kb = second.Markup.(tgbotapi.InlineKeyboardMarkup)
	nav = kb.InlineKeyboard[len(kb.InlineKeyboard)-1]
	require.Len(t, nav, 2)
	assert.Equal(t, cbBack, *nav[0].CallbackData)
}

func TestRenderWelcomeHidesUpgradeWithoutPayments(t *testing.T) {
	r := renderer{appName: "Vibe <Beta>", city: "Accra", catalog: entitlement.DefaultCatalog()}
	out := r.welcome()
	assert.Contains(t, out.Text, "Vibe &lt;Beta&gt;")
	assert.Len(t, out.Markup.(tgbotapi.InlineKeyboardMarkup).InlineKeyboard, 1)

	r.payments = true
	assert.Len(t, r.welcome().Markup.(tgbotapi.InlineKeyboardMarkup).InlineKeyboard, 2)
}

func TestRenderEscapesErrorText(t *testing.T) {
	r := renderer{appName: "Vibe", city: "Accra"}
	out := r.render(wizard.View{State: wizard.StateError, ErrorMessage: "<boom>"})
	require.Len(t, out, 1)
	assert.Contains(t, out[0].Text, "&lt;boom&gt;")

	assert.Len(t, r.render(wizard.View{State: wizard.StateShowingOptions}), 1, "only the closing row without options")
}

func TestFormatHistory(t *testing.T) {
	empty := formatHistory(nil)
	assert.Contains(t, empty.Text, "No saved plans yet")
	assert.Nil(t, empty.Markup)

	rating := 4
	plans := make([]history.SavedPlan, 12)
	for i := range plans {
		plans[i] = history.SavedPlan{
			ID:          "p" + string(rune('a'+i)),
			PlanContent: "OPTION 1\nTitle: Jazz & Jollof\nLocation: Osu",
			SavedAt:     time.Date(2025, time.March, 15, 20, 0, 0, 0, time.UTC),
		}
	}
	plans[0].Rating = &rating

	out := formatHistory(plans)
	assert.Contains(t, out.Text, "Jazz &amp; Jollof")
	assert.Contains(t, out.Text, "⭐⭐⭐⭐")
	assert.Contains(t, out.Text, "and 2 more")
	assert.Len(t, out.Markup.(tgbotapi.InlineKeyboardMarkup).InlineKeyboard, 10)
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "░░░░░░░░", progressBar(0))
	assert.Equal(t, "▓▓▓▓░░░░", progressBar(0.5))
	assert.Equal(t, "▓▓▓▓▓▓▓▓", progressBar(1.2))

	assert.Equal(t, "3h 59m", formatCountdown(3*time.Hour+59*time.Minute+10*time.Second))
	assert.Equal(t, "5m", formatCountdown(5*time.Minute))

	tier, ok := entitlement.DefaultCatalog().Lookup(entitlement.TierMicroBoost)
	require.True(t, ok)
	assert.Equal(t, "GH₵"+strconv.Itoa(tier.Price), formatPrice(tier))
	assert.Equal(t, "USD 3", formatPrice(entitlement.Tier{Currency: "USD", Price: 3}))

	assert.Equal(t, "24h", formatValidity(24*time.Hour))
	assert.Equal(t, "7 days", formatValidity(7*24*time.Hour))

	long := strings.Repeat("é", maxMessageLen)
	cut := truncate(long)
	assert.LessOrEqual(t, len(cut), maxMessageLen)
	assert.True(t, strings.HasSuffix(cut, "…"))
	assert.Equal(t, "short", truncate("short"))

	assert.Equal(t, "abc…", shorten("abcdefgh", 4))
}
