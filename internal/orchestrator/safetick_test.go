package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSafeTick_SwallowsPanic(t *testing.T) {
	// Must not propagate; the loop has to reach its next tick.
	safeTick(context.Background(), "boom", func(ctx context.Context) error {
		panic("tick exploded")
	})
}

func TestSafeTick_SwallowsError(t *testing.T) {
	safeTick(context.Background(), "bad", func(ctx context.Context) error {
		return errors.New("tick failed")
	})
}

func TestRunLoop_SurvivesFailingTicks(t *testing.T) {
	var calls atomic.Int32
	c := &Coordinator{
		loops: []loop{{
			name:     "flaky",
			interval: 5 * time.Millisecond,
			tick: func(ctx context.Context) error {
				if calls.Add(1)%2 == 0 {
					panic("intermittent")
				}
				return errors.New("always unhappy")
			},
		}},
	}

	c.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	c.Stop()

	if calls.Load() < 5 {
		t.Errorf("loop ticked %d times despite failures, want at least 5", calls.Load())
	}
}
