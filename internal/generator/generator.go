package generator

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"vibe-planner/internal/hangout"
	"vibe-planner/internal/llm"
	"vibe-planner/internal/logging"
	"vibe-planner/internal/metrics"
	"vibe-planner/internal/shared"
)

const (
	OpPlanOptions   = "plan-options"
	OpTravelDetails = "travel-details"
)

//go:embed prompts/plan_options.md
var planOptionsPrompt string

//go:embed prompts/travel_details.md
var travelDetailsPrompt string

var (
	planOptionsTmpl   = template.Must(template.New("plan-options").Parse(planOptionsPrompt))
	travelDetailsTmpl = template.Must(template.New("travel-details").Parse(travelDetailsPrompt))
)

var vibeExplanations = map[hangout.Vibe]string{
	hangout.VibeRelax:    "This means the user wants a low-key, calm experience. Think picnics, quiet cafes, library visits, spa days, or just a cheap and chill hangout.",
	hangout.VibeFood:     "The user is looking for great food or a fun night out. Suggest top-rated restaurants, cool bars with live music, brunch spots, etc.",
	hangout.VibeArts:     "Focus on historical sites, art galleries, museums, and creative workshops.",
	hangout.VibeActive:   "Suggest something energetic like go-karting, paintball, hiking, beach sports, or dance classes.",
	hangout.VibeMovies:   "Suggest cinemas, theatre productions, comedy nights or live performances that are on around the requested time.",
	hangout.VibePicnic:   "Suggest green spaces, gardens, beaches or parks that are good for a picnic, and what to bring.",
	hangout.VibeShopping: "Suggest a mix of modern malls, local craft markets, and unique boutiques.",
	hangout.VibeRomantic: "The user is planning a date. Suggest intimate, atmospheric spots that suit the chosen meal and time of day.",
	hangout.VibeLucky:    "The user is open to anything! Surprise them with a unique and highly-rated experience that they might not have thought of.",
}

// Error is a failed gateway call. UserMessage is safe to show to the user.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) UserMessage() string {
	if e.Op == OpTravelDetails {
		return "Failed to generate travel details. Please try again."
	}
	return "Failed to generate hangout options. Please try again."
}

// UsageRecorder persists per-call token usage.
type UsageRecorder interface {
	RecordMeta(ctx context.Context, meta shared.CallMeta) error
}

// Generator turns hangout parameters into plan text through an LLM. It makes
// exactly one call per request and never retries.
type Generator struct {
	text      llm.TextGenerator
	city      string
	appName   string
	timeout   time.Duration
	usage     UsageRecorder
	collector *metrics.Collector
	now       func() time.Time
}

type Option func(*Generator)

func WithCity(city, appName string) Option {
	return func(g *Generator) {
		if city != "" {
			g.city = city
		}
		if appName != "" {
			g.appName = appName
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(g *Generator) { g.timeout = d }
}

func WithUsageRecorder(r UsageRecorder) Option {
	return func(g *Generator) { g.usage = r }
}

func WithCollector(c *metrics.Collector) Option {
	return func(g *Generator) { g.collector = c }
}

func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

func New(text llm.TextGenerator, opts ...Option) *Generator {
	g := &Generator{
		text:    text,
		city:    "Accra, Ghana",
		appName: "Accra Vibe Planner",
		timeout: 60 * time.Second,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type planOptionsData struct {
	hangout.Params
	AppName         string
	City            string
	Close           bool
	VibeExplanation string
	Now             string
}

// GeneratePlanOptions asks for two option blocks and a recommendation.
func (g *Generator) GeneratePlanOptions(ctx context.Context, p hangout.Params) (string, error) {
	prompt, err := render(planOptionsTmpl, planOptionsData{
		Params:          p,
		AppName:         g.appName,
		City:            g.city,
		Close:           p.Proximity == hangout.ProximityClose && p.Location != nil,
		VibeExplanation: vibeExplanations[p.Vibe],
		Now:             g.now().Format("Monday 2 January 2006, 15:04"),
	})
	if err != nil {
		return "", &Error{Op: OpPlanOptions, Err: err}
	}
	return g.call(ctx, OpPlanOptions, prompt)
}

type travelData struct {
	City           string
	Origin         string
	OriginLocation *hangout.Location
	Destination    string
	IntendedTime   string
}

// GetTravelDetails asks for the travel estimate from origin to destination.
func (g *Generator) GetTravelDetails(ctx context.Context, origin, destination, intendedTime string, originLocation *hangout.Location) (string, error) {
	prompt, err := render(travelDetailsTmpl, travelData{
		City:           g.city,
		Origin:         origin,
		OriginLocation: originLocation,
		Destination:    destination,
		IntendedTime:   intendedTime,
	})
	if err != nil {
		return "", &Error{Op: OpTravelDetails, Err: err}
	}
	return g.call(ctx, OpTravelDetails, prompt)
}

func (g *Generator) call(ctx context.Context, op, prompt string) (string, error) {
	logger := logging.FromContext(ctx).With("operation", op)
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.text.GenerateContent(ctx, prompt)
	latency := time.Since(start)

	text := ""
	if err == nil {
		text = CleanMarkup(resp.Content)
		if text == "" {
			err = errors.New("no content generated")
		}
	}
	g.record(ctx, logger, shared.CallMeta{Operation: op, Usage: resp.Usage, Latency: latency, Failed: err != nil})

	if err != nil {
		logger.ErrorContext(ctx, "generator call failed", "error", err, "latency", latency)
		return "", &Error{Op: op, Err: err}
	}
	logger.InfoContext(ctx, "generator call succeeded",
		"latency", latency,
		"model", resp.Usage.Model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return text, nil
}

func (g *Generator) record(ctx context.Context, logger *slog.Logger, meta shared.CallMeta) {
	g.collector.ObserveGeneratorCall(meta.Operation, meta.Failed, meta.Latency.Seconds())
	if g.usage == nil {
		return
	}
	// The request context may already be done; usage is still worth keeping.
	if err := g.usage.RecordMeta(context.WithoutCancel(ctx), meta); err != nil {
		logger.WarnContext(ctx, "failed to record usage", "error", err)
	}
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}
