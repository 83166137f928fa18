package workqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/neilotoole/slogt"
)

func newTestQueue(t *testing.T, cfg Config) *Queue {
	t.Helper()
	cfg.Logger = slogt.New(t)
	q := New(cfg)
	t.Cleanup(q.Stop)
	return q
}

func TestQueue_FIFOPerKey(t *testing.T) {
	q := newTestQueue(t, Config{Shards: 2})

	var (
		mu  sync.Mutex
		got []int
	)
	for i := 0; i < 20; i++ {
		i := i
		err := q.Submit(context.Background(), "conv-1", func(context.Context) error {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			return nil
		})
		if err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}
	if err := q.Barrier(context.Background(), "conv-1"); err != nil {
		t.Fatalf("Barrier: %v", err)
	}

	want := make([]int, 20)
	for i := range want {
		want[i] = i
	}
	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Order mismatch (-want +got):\n%s", diff)
	}
}

func TestQueue_Retry(t *testing.T) {
	tests := []struct {
		name         string
		err          func(n int32) error
		wantAttempts int32
	}{
		{
			name: "RecoversOnThirdAttempt",
			err: func(n int32) error {
				if n < 3 {
					return errors.New("unavailable")
				}
				return nil
			},
			wantAttempts: 3,
		},
		{
			name:         "PermanentNotRetried",
			err:          func(int32) error { return Permanent(errors.New("bad request")) },
			wantAttempts: 1,
		},
		{
			name:         "GivesUpAfterMaxAttempts",
			err:          func(int32) error { return errors.New("unavailable") },
			wantAttempts: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newTestQueue(t, Config{Shards: 1, MaxAttempts: 4, BaseBackoff: time.Millisecond, MaxInterval: 5 * time.Millisecond})

			var attempts int32
			err := q.Submit(context.Background(), "k", func(context.Context) error {
				return tt.err(atomic.AddInt32(&attempts, 1))
			})
			if err != nil {
				t.Fatalf("Submit: %v", err)
			}
			if err := q.Barrier(context.Background(), "k"); err != nil {
				t.Fatalf("Barrier: %v", err)
			}
			if got := atomic.LoadInt32(&attempts); got != tt.wantAttempts {
				t.Errorf("Got %d attempts, want %d", got, tt.wantAttempts)
			}
		})
	}
}

func TestQueue_After(t *testing.T) {
	q := newTestQueue(t, Config{})

	ran := make(chan time.Time, 1)
	start := time.Now()
	q.After(20*time.Millisecond, "k", func(context.Context) error {
		ran <- time.Now()
		return nil
	})

	select {
	case at := <-ran:
		if at.Sub(start) < 20*time.Millisecond {
			t.Errorf("Job ran after %v, want at least 20ms", at.Sub(start))
		}
	case <-time.After(time.Second):
		t.Fatal("Delayed job did not run")
	}
}

func TestQueue_Stop(t *testing.T) {
	q := New(Config{Logger: slogt.New(t)})

	var ran atomic.Bool
	q.After(50*time.Millisecond, "k", func(context.Context) error {
		ran.Store(true)
		return nil
	})
	q.Stop()
	q.Stop()

	if err := q.Submit(context.Background(), "k", func(context.Context) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Errorf("Got error %v, want ErrClosed", err)
	}
	time.Sleep(80 * time.Millisecond)
	if ran.Load() {
		t.Error("Delayed job ran after Stop")
	}
}

func TestQueue_PanicIsContained(t *testing.T) {
	q := newTestQueue(t, Config{Shards: 1})

	if err := q.Submit(context.Background(), "k", func(context.Context) error { panic("boom") }); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := q.Barrier(context.Background(), "k"); err != nil {
		t.Fatalf("Worker did not survive panic: %v", err)
	}
}
