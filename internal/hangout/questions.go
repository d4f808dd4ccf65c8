package hangout

import (
	"slices"
	"time"
)

// Kind describes how a question is answered.
type Kind string

const (
	KindOptions  Kind = "options"
	KindNumber   Kind = "number"
	KindTime     Kind = "time"
	KindDateTime Kind = "date-and-time"
)

// Option is one selectable answer. Label is what the user sees.
type Option struct {
	Label string
	Value string
}

// Question is a single step of the questionnaire.
type Question struct {
	Key     ParamKey
	Prompt  string
	Kind    Kind
	Options []Option
}

var (
	Vibes = []Vibe{
		VibeRelax, VibeFood, VibeArts, VibeActive, VibeMovies,
		VibePicnic, VibeShopping, VibeRomantic, VibeLucky,
	}
	TimeWindows       = []TimeWindow{WindowQuickie, WindowHalfDay, WindowMain, WindowDayTrip}
	Budgets           = []Budget{BudgetFree, BudgetMidRange, BudgetFancy}
	Audiences         = []Audience{AudienceSolo, AudienceCrew}
	RomanticAudiences = []Audience{AudienceTwoOfUs, AudienceDoubleDate}
	Timings           = []Timing{TimingNow, TimingLater, TimingThisWeek}
	DateMeals         = []DateMeal{MealBreakfast, MealBrunch, MealLunch, MealDinner}
)

var budgetIcons = map[Budget]string{
	BudgetFree:     "💰",
	BudgetMidRange: "💰💰",
	BudgetFancy:    "💰💰💰",
}

// crewSizes are offered as shortcuts; any positive number is accepted.
var crewSizes = []string{"3", "4", "5", "6", "8", "10"}

// Questions derives the ordered questionnaire for the current draft. The
// result depends only on p and the hour of now, so it is recomputed on every
// transition instead of being cached.
func Questions(p Params, now time.Time) []Question {
	qs := []Question{
		{Key: KeyVibe, Prompt: "First, what's the vibe?", Kind: KindOptions, Options: options(Vibes, nil)},
	}
	if p.Vibe == VibeRomantic {
		qs = append(qs, Question{Key: KeyDateMeal, Prompt: "Perfect! What time of day?", Kind: KindOptions, Options: options(DateMeals, nil)})
	}
	qs = append(qs,
		Question{Key: KeyTimeWindow, Prompt: "How much time have you got?", Kind: KindOptions, Options: options(TimeWindows, nil)},
		Question{Key: KeyBudget, Prompt: "How deep are your pockets?", Kind: KindOptions, Options: options(Budgets, budgetIcons)},
	)
	if p.Vibe == VibeRomantic {
		qs = append(qs, Question{Key: KeyAudience, Prompt: "And who is this romantic date for?", Kind: KindOptions, Options: options(RomanticAudiences, nil)})
	} else {
		qs = append(qs, Question{Key: KeyAudience, Prompt: "Who are you rolling with?", Kind: KindOptions, Options: options(Audiences, nil)})
	}
	if p.Audience == AudienceCrew {
		qs = append(qs, Question{Key: KeyGroupSize, Prompt: "How many in your crew?", Kind: KindNumber, Options: options(crewSizes, nil)})
	}

	qs = append(qs, Question{Key: KeyTiming, Prompt: "And when are we doing this?", Kind: KindOptions, Options: options(TimingOptions(p.Vibe, p.DateMeal, now.Hour()), nil)})

	switch p.Timing {
	case TimingLater:
		qs = append(qs, Question{Key: KeySpecificDateTime, Prompt: "Got it. What time later today?", Kind: KindTime})
	case TimingThisWeek:
		qs = append(qs, Question{Key: KeySpecificDateTime, Prompt: "Sounds good. What day and time?", Kind: KindDateTime})
	}
	return qs
}

// TimingOptions filters the timing choices for a romantic date meal that no
// longer fits the current hour (0-23). Other vibes get every option.
func TimingOptions(vibe Vibe, meal DateMeal, hour int) []Timing {
	out := slices.Clone(Timings)
	if vibe != VibeRomantic || meal == "" {
		return out
	}

	drop := func(t Timing) {
		out = slices.DeleteFunc(out, func(o Timing) bool { return o == t })
	}

	switch meal {
	case MealBreakfast:
		if hour >= 11 {
			drop(TimingNow)
			drop(TimingLater)
		}
	case MealBrunch, MealLunch:
		if hour < 11 || hour >= 15 {
			drop(TimingNow)
		}
		if hour >= 15 {
			drop(TimingLater)
		}
	case MealDinner:
		if hour < 18 {
			drop(TimingNow)
		}
		if hour >= 22 {
			drop(TimingLater)
		}
	}
	return out
}

// Index returns the position of key in qs, or -1.
func Index(qs []Question, key ParamKey) int {
	return slices.IndexFunc(qs, func(q Question) bool { return q.Key == key })
}

// Accepts reports whether value is a valid answer to q.
func (q Question) Accepts(value string) bool {
	switch q.Kind {
	case KindOptions:
		return slices.ContainsFunc(q.Options, func(o Option) bool { return o.Value == value })
	case KindNumber:
		_, err := ParseGroupSize(value)
		return err == nil
	case KindTime:
		_, err := time.Parse("15:04", value)
		return err == nil
	case KindDateTime:
		_, err := time.Parse("2006-01-02T15:04", value)
		return err == nil
	}
	return false
}

// Progress is the fraction of the questionnaire reached at step.
func Progress(step, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(step+1) / float64(total)
}

func options[T ~string](values []T, icons map[T]string) []Option {
	out := make([]Option, 0, len(values))
	for _, v := range values {
		label := string(v)
		if icon, ok := icons[v]; ok {
			label = icon + " " + label
		}
		out = append(out, Option{Label: label, Value: string(v)})
	}
	return out
}
