package metrics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"vibe-planner/internal/database"
	"vibe-planner/internal/shared"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "metrics.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db.SQL)
}

func TestStore_DailyUsage(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Date(2025, time.March, 15, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	records := []ExecutionMetric{
		{Operation: "plan-options", Model: "gemini", PromptTokens: 100, CompletionTokens: 50, Timestamp: now},
		{Operation: "travel-details", Model: "gemini", PromptTokens: 40, CompletionTokens: 10, Timestamp: now.Add(-time.Hour)},
		{Operation: "plan-options", Model: "gemini", Failed: true, Timestamp: now.AddDate(0, 0, -1)},
		{Operation: "plan-options", Model: "gemini", PromptTokens: 999, Timestamp: now.AddDate(0, 0, -30)},
	}
	for _, r := range records {
		if err := s.Record(ctx, r); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	usage, err := s.GetDailyUsage(ctx, 7)
	if err != nil {
		t.Fatalf("GetDailyUsage failed: %v", err)
	}
	if len(usage) != 2 {
		t.Fatalf("Expected 2 days of usage, got %d: %+v", len(usage), usage)
	}
	today := usage[0]
	if today.Date != "2025-03-15" || today.TotalPrompt != 140 || today.TotalCompletion != 60 || today.TotalExecution != 2 {
		t.Errorf("Unexpected usage for today: %+v", today)
	}
	if usage[1].Failures != 1 {
		t.Errorf("Expected 1 failure yesterday, got %d", usage[1].Failures)
	}

	removed, err := s.Cleanup(ctx, 7)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Expected 1 removed record, got %d", removed)
	}
}

func TestStore_RecordMeta(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.RecordMeta(ctx, shared.CallMeta{
		Operation: "plan-options",
		Usage:     shared.TokenUsage{PromptTokens: 10, CompletionTokens: 5, Model: "llama"},
		Latency:   1500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("RecordMeta failed: %v", err)
	}

	var latency int64
	if err := s.db.QueryRow(`SELECT latency_ms FROM execution_metrics`).Scan(&latency); err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if latency != 1500 {
		t.Errorf("Expected latency 1500ms, got %d", latency)
	}
}

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveTransition("WELCOME", "GATHERING_INPUT")
	c.ObserveTransition("WELCOME", "GATHERING_INPUT")
	c.ObserveGeneratorCall("plan-options", true, 0.3)
	c.ObservePayment("micro-boost", true)

	if got := testutil.ToFloat64(c.Transitions.WithLabelValues("WELCOME", "GATHERING_INPUT")); got != 2 {
		t.Errorf("Expected 2 transitions, got %v", got)
	}
	if got := testutil.ToFloat64(c.GeneratorCalls.WithLabelValues("plan-options", "failure")); got != 1 {
		t.Errorf("Expected 1 failed call, got %v", got)
	}
	if got := testutil.ToFloat64(c.Payments.WithLabelValues("micro-boost", "verified")); got != 1 {
		t.Errorf("Expected 1 verified payment, got %v", got)
	}

	var nilCollector *Collector
	nilCollector.ObserveTransition("a", "b")
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		512:             "512 B",
		2048:            "2.0 KB",
		5 * 1024 * 1024: "5.0 MB",
	}
	for in, want := range tests {
		if got := formatBytes(in); got != want {
			t.Errorf("formatBytes(%d) = %s, want %s", in, got, want)
		}
	}
}
