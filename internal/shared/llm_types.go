package shared

import (
	"time"
)

// TokenUsage tracks the tokens consumed by a single generation request.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Model            string
}

// CallMeta holds operational metadata for one gateway call.
type CallMeta struct {
	Operation string // "plan-options" or "travel-details"
	Usage     TokenUsage
	Latency   time.Duration
	Failed    bool
}
