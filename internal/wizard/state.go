package wizard

import (
	"context"
	"time"

	"vibe-planner/internal/entitlement"
	"vibe-planner/internal/hangout"
	"vibe-planner/internal/plantext"
)

// State is the screen a session is on.
type State string

const (
	StateWelcome          State = "WELCOME"
	StateGatheringInput   State = "GATHERING_INPUT"
	StateRateLimited      State = "RATE_LIMITED"
	StateLoading          State = "LOADING"
	StateShowingOptions   State = "SHOWING_OPTIONS"
	StateAskingLocation   State = "ASKING_LOCATION"
	StateShowingFinalPlan State = "SHOWING_FINAL_PLAN"
	StateError            State = "ERROR"
)

// Transition is one change of state.
type Transition struct {
	From State
	To   State
}

// Listener observes transitions. It runs after the session lock is released
// and may call View.
type Listener func(ctx context.Context, t Transition)

// View is a snapshot of a session for rendering.
type View struct {
	State State
	Busy  bool

	// GATHERING_INPUT
	Step      int
	Questions []hangout.Question
	Question  *hangout.Question
	Progress  float64
	Params    hangout.Params

	// RATE_LIMITED
	TimeLeft time.Duration

	// SHOWING_OPTIONS and later
	Options  string
	Plans    plantext.Document
	Selected string

	// SHOWING_FINAL_PLAN
	FinalPlan   string
	SavedPlanID string

	// ERROR
	Err          error
	ErrorMessage string

	Grant entitlement.TierID
}
