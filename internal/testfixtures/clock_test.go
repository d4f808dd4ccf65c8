package testfixtures

import (
	"testing"
	"time"
)

func TestClock(t *testing.T) {
	t.Run("ZeroStartUsesReference", func(t *testing.T) {
		c := NewClock(time.Time{})
		if !c.Now().Equal(ReferenceTime()) {
			t.Errorf("Expected %v, got %v", ReferenceTime(), c.Now())
		}
	})

	t.Run("Advance", func(t *testing.T) {
		c := NewClock(time.Time{})
		got := c.Advance(90 * time.Minute)
		want := ReferenceTime().Add(90 * time.Minute)
		if !got.Equal(want) || !c.Now().Equal(want) {
			t.Errorf("Expected %v, got %v", want, got)
		}
	})

	t.Run("NilClockFallsBackToTimeNow", func(t *testing.T) {
		var c *Clock
		if c.NowFunc() == nil {
			t.Fatal("Expected a non-nil now func")
		}
	})
}
