package generator

import (
	"context"
	"errors"
	"testing"
	"time"

	"vibe-planner/internal/hangout"
	"vibe-planner/internal/llm"
	"vibe-planner/internal/shared"
	"vibe-planner/internal/testfixtures"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubText struct {
	prompts []string
	resp    llm.ContentResponse
	err     error
}

func (s *stubText) GenerateContent(_ context.Context, prompt string) (llm.ContentResponse, error) {
	s.prompts = append(s.prompts, prompt)
	return s.resp, s.err
}

type recorder struct{ metas []shared.CallMeta }

func (r *recorder) RecordMeta(_ context.Context, m shared.CallMeta) error {
	r.metas = append(r.metas, m)
	return nil
}

func romanticDinner() hangout.Params {
	p := hangout.NewParams()
	p.Vibe = hangout.VibeRomantic
	p.DateMeal = hangout.MealDinner
	p.TimeWindow = hangout.WindowHalfDay
	p.Budget = hangout.BudgetFancy
	p.Audience = hangout.AudienceTwoOfUs
	p.Timing = hangout.TimingNow
	return p
}

func TestGeneratePlanOptions_Prompt(t *testing.T) {
	text := &stubText{resp: llm.ContentResponse{Content: "Title: Skybar 25", Usage: shared.TokenUsage{PromptTokens: 300, Model: "gemini"}}}
	rec := &recorder{}
	clock := testfixtures.NewClock(time.Time{})
	g := New(text, WithCity("Kumasi, Ghana", "Kumasi Vibe Planner"), WithUsageRecorder(rec), WithClock(clock.NowFunc()))

	out, err := g.GeneratePlanOptions(context.Background(), romanticDinner())
	require.NoError(t, err)
	assert.Equal(t, "Title: Skybar 25", out)

	require.Len(t, text.prompts, 1)
	prompt := text.prompts[0]
	assert.Contains(t, prompt, `"The Kumasi Vibe Planner"`)
	assert.Contains(t, prompt, "- Vibe: Romantic Date (The user is planning a date.")
	assert.Contains(t, prompt, "- Meal: Dinner")
	assert.Contains(t, prompt, "Saturday 15 March 2025, 20:00")
	assert.Contains(t, prompt, "Location: [Address or neighbourhood for Plan 1]")
	assert.NotContains(t, prompt, "Crucial Constraint")
	assert.NotContains(t, prompt, "latitude")

	require.Len(t, rec.metas, 1)
	assert.Equal(t, OpPlanOptions, rec.metas[0].Operation)
	assert.Equal(t, 300, rec.metas[0].Usage.PromptTokens)
	assert.False(t, rec.metas[0].Failed)
}

func TestGeneratePlanOptions_CloseProximity(t *testing.T) {
	text := &stubText{resp: llm.ContentResponse{Content: "ok"}}
	g := New(text)

	p := romanticDinner()
	p.Proximity = hangout.ProximityClose
	p.Location = &hangout.Location{Latitude: 5.6037, Longitude: -0.187}
	_, err := g.GeneratePlanOptions(context.Background(), p)
	require.NoError(t, err)

	assert.Contains(t, text.prompts[0], "Crucial Constraint")
	assert.Contains(t, text.prompts[0], "Near latitude 5.6037, longitude -0.187")
}

func TestGenerator_Failures(t *testing.T) {
	tests := []struct {
		name    string
		text    *stubText
		call    func(*Generator) error
		message string
	}{
		{
			name: "OptionsUpstreamError",
			text: &stubText{err: errors.New("quota exceeded")},
			call: func(g *Generator) error {
				_, err := g.GeneratePlanOptions(context.Background(), romanticDinner())
				return err
			},
			message: "Failed to generate hangout options. Please try again.",
		},
		{
			name: "TravelEmptyResponse",
			text: &stubText{resp: llm.ContentResponse{Content: "   "}},
			call: func(g *Generator) error {
				_, err := g.GetTravelDetails(context.Background(), "Osu", "Labadi Beach", "18:00", nil)
				return err
			},
			message: "Failed to generate travel details. Please try again.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			err := tt.call(New(tt.text, WithUsageRecorder(rec)))

			var genErr *Error
			require.ErrorAs(t, err, &genErr)
			assert.Equal(t, tt.message, genErr.UserMessage())
			assert.Len(t, tt.text.prompts, 1, "no retries")
			require.Len(t, rec.metas, 1)
			assert.True(t, rec.metas[0].Failed)
		})
	}
}

func TestGetTravelDetails_Prompt(t *testing.T) {
	text := &stubText{resp: llm.ContentResponse{Content: "Travel Estimate\n- Distance: 4 km"}}
	g := New(text)

	out, err := g.GetTravelDetails(context.Background(), "Osu Oxford Street", "Labadi Beach", "2025-03-18T19:00", &hangout.Location{Latitude: 5.55, Longitude: -0.18})
	require.NoError(t, err)
	assert.Equal(t, "Travel Estimate\n- Distance: 4 km", out)

	prompt := text.prompts[0]
	assert.Contains(t, prompt, `starting from "Osu Oxford Street" (latitude 5.55, longitude -0.18)`)
	assert.Contains(t, prompt, `to get to "Labadi Beach" for 2025-03-18T19:00`)
	assert.Contains(t, prompt, "typical Accra, Ghana traffic")
}

func TestCleanMarkup(t *testing.T) {
	t.Run("Markdown", func(t *testing.T) {
		in := "```text\n## OPTION 1\n**Title:** Osu Castle\n\n\n\nCost: Free\n```"
		assert.Equal(t, "OPTION 1\nTitle: Osu Castle\n\nCost: Free", CleanMarkup(in))
	})

	t.Run("HTML", func(t *testing.T) {
		in := "<p>Title: Osu Castle<br>Cost: Free</p><hr><p>Recommendation: go early</p>"
		got := CleanMarkup(in)
		assert.Contains(t, got, "Title: Osu Castle\nCost: Free")
		assert.Contains(t, got, "---")
		assert.Contains(t, got, "Recommendation: go early")
	})

	t.Run("PlainTextUntouched", func(t *testing.T) {
		in := "Title: A & B Lounge\nCost: GH₵ 100 < GH₵ 200"
		assert.Equal(t, in, CleanMarkup(in))
	})
}
