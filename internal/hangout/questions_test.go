package hangout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(hour int) time.Time {
	return time.Date(2025, time.March, 15, hour, 30, 0, 0, time.UTC)
}

func keys(qs []Question) []ParamKey {
	out := make([]ParamKey, 0, len(qs))
	for _, q := range qs {
		out = append(out, q.Key)
	}
	return out
}

func TestQuestions_BaseSequence(t *testing.T) {
	qs := Questions(NewParams(), at(12))
	assert.Equal(t, []ParamKey{KeyVibe, KeyTimeWindow, KeyBudget, KeyAudience, KeyTiming}, keys(qs))
	assert.Equal(t, "Who are you rolling with?", qs[3].Prompt)
	assert.Len(t, qs[0].Options, len(Vibes))
}

func TestQuestions_DynamicSteps(t *testing.T) {
	p := NewParams()
	p.Vibe = VibeRomantic
	p.Audience = AudienceCrew
	p.Timing = TimingThisWeek

	qs := Questions(p, at(12))
	assert.Equal(t, []ParamKey{
		KeyVibe, KeyDateMeal, KeyTimeWindow, KeyBudget, KeyAudience,
		KeyGroupSize, KeyTiming, KeySpecificDateTime,
	}, keys(qs))

	audience := qs[Index(qs, KeyAudience)]
	assert.Equal(t, "And who is this romantic date for?", audience.Prompt)
	assert.True(t, audience.Accepts(string(AudienceTwoOfUs)))
	assert.False(t, audience.Accepts(string(AudienceSolo)))

	last := qs[len(qs)-1]
	assert.Equal(t, KindDateTime, last.Kind)
	assert.Equal(t, "Sounds good. What day and time?", last.Prompt)
}

func TestQuestions_LaterTodayAsksForTime(t *testing.T) {
	p := NewParams()
	p.Timing = TimingLater
	qs := Questions(p, at(9))
	last := qs[len(qs)-1]
	assert.Equal(t, KeySpecificDateTime, last.Key)
	assert.Equal(t, KindTime, last.Kind)
}

func TestTimingOptions(t *testing.T) {
	tests := []struct {
		name string
		meal DateMeal
		hour int
		want []Timing
	}{
		{"BreakfastMorning", MealBreakfast, 8, []Timing{TimingNow, TimingLater, TimingThisWeek}},
		{"BreakfastLate", MealBreakfast, 11, []Timing{TimingThisWeek}},
		{"BrunchEarly", MealBrunch, 10, []Timing{TimingLater, TimingThisWeek}},
		{"BrunchInWindow", MealBrunch, 12, []Timing{TimingNow, TimingLater, TimingThisWeek}},
		{"LunchAfternoon", MealLunch, 15, []Timing{TimingThisWeek}},
		{"DinnerAfternoon", MealDinner, 17, []Timing{TimingLater, TimingThisWeek}},
		{"DinnerEvening", MealDinner, 20, []Timing{TimingNow, TimingLater, TimingThisWeek}},
		{"DinnerLateNight", MealDinner, 22, []Timing{TimingNow, TimingThisWeek}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TimingOptions(VibeRomantic, tt.meal, tt.hour))
		})
	}

	t.Run("OnlyRomanticDatesAreFiltered", func(t *testing.T) {
		assert.Equal(t, Timings, TimingOptions(VibeFood, MealBreakfast, 23))
	})
}

func TestQuestion_Accepts(t *testing.T) {
	p := NewParams()
	p.Audience = AudienceCrew
	p.Timing = TimingLater
	qs := Questions(p, at(12))

	group := qs[Index(qs, KeyGroupSize)]
	assert.True(t, group.Accepts("7"))
	assert.True(t, group.Accepts("10+"))
	assert.False(t, group.Accepts("0"))
	assert.False(t, group.Accepts("many"))

	tm := qs[Index(qs, KeySpecificDateTime)]
	assert.True(t, tm.Accepts("19:45"))
	assert.False(t, tm.Accepts("2025-03-15T19:45"))

	budget := qs[Index(qs, KeyBudget)]
	assert.Equal(t, "💰💰 Mid-Range", budget.Options[1].Label)
	assert.True(t, budget.Accepts(string(BudgetMidRange)))
}

func TestParams_SetClearValue(t *testing.T) {
	p := NewParams()
	require.NoError(t, p.Set(KeyGroupSize, "4"))
	assert.Equal(t, 4, p.GroupSize)
	assert.Equal(t, "4", p.Value(KeyGroupSize))

	require.NoError(t, p.Set(KeyVibe, string(VibeArts)))
	p.Clear(KeyVibe)
	assert.Empty(t, p.Value(KeyVibe))

	assert.Error(t, p.Set(KeyGroupSize, "-1"))
	assert.Error(t, p.Set(ParamKey("colour"), "blue"))
}

func TestFormatSpecificTime(t *testing.T) {
	tests := []struct {
		date, hour, minute, ampm string
		want                     string
	}{
		{"", "7", "30", "PM", "19:30"},
		{"", "12", "05", "AM", "00:05"},
		{"", "12", "00", "PM", "12:00"},
		{"2025-03-18", "9", "15", "am", "2025-03-18T09:15"},
	}
	for _, tt := range tests {
		got, err := FormatSpecificTime(tt.date, tt.hour, tt.minute, tt.ampm)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := FormatSpecificTime("", "13", "00", "PM")
	assert.Error(t, err)
	_, err = FormatSpecificTime("next tuesday", "1", "00", "PM")
	assert.Error(t, err)
}

func TestProgress(t *testing.T) {
	assert.InDelta(t, 0.2, Progress(0, 5), 1e-9)
	assert.InDelta(t, 1.0, Progress(4, 5), 1e-9)
	assert.Zero(t, Progress(0, 0))
}
