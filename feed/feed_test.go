package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/neilotoole/slogt"

	"github.com/pegaoupassa/swipe-core/api"
)

type testprofiles struct {
	getFeed    func(ctx context.Context, userID string, filters api.FeedFilters) ([]api.Profile, error)
	getProfile func(ctx context.Context, userID string) (api.Profile, error)
}

func (s *testprofiles) GetFeed(ctx context.Context, userID string, filters api.FeedFilters) ([]api.Profile, error) {
	return s.getFeed(ctx, userID, filters)
}

func (s *testprofiles) GetProfile(ctx context.Context, userID string) (api.Profile, error) {
	return s.getProfile(ctx, userID)
}

type testlocator func(ctx context.Context) (api.Location, error)

func (f testlocator) Locate(ctx context.Context) (api.Location, error) { return f(ctx) }

func profiles(ids ...string) []api.Profile {
	out := make([]api.Profile, len(ids))
	for i, id := range ids {
		out[i] = api.Profile{ID: id, Name: "Profile " + id}
	}
	return out
}

func ids(ps []api.Profile) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}

// batches returns a store serving the given batches in order, then empty
// batches.
func batches(bs ...[]api.Profile) (*testprofiles, *int) {
	var (
		mu    sync.Mutex
		calls int
	)
	return &testprofiles{
		getFeed: func(context.Context, string, api.FeedFilters) ([]api.Profile, error) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if calls > len(bs) {
				return nil, nil
			}
			return bs[calls-1], nil
		},
	}, &calls
}

func TestManager_Dedup(t *testing.T) {
	tests := []struct {
		name      string
		batches   [][]api.Profile
		consume   int
		wantQueue []string
	}{
		{
			name:      "DuplicatesInsideBatch",
			batches:   [][]api.Profile{profiles("a", "b", "b", "c", "a")},
			wantQueue: []string{"a", "b", "c"},
		},
		{
			name:      "AlreadyQueued",
			batches:   [][]api.Profile{profiles("a", "b"), profiles("b", "c", "a", "d")},
			wantQueue: []string{"a", "b", "c", "d"},
		},
		{
			name:      "AlreadyConsumed",
			batches:   [][]api.Profile{profiles("a", "b"), profiles("a", "c")},
			consume:   1,
			wantQueue: []string{"b", "c"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, _ := batches(tt.batches...)
			m := New(Config{UserID: "me", Store: store, LowWatermark: 1, Logger: slogt.New(t)})
			t.Cleanup(m.Close)

			if _, err := m.Replenish(context.Background()); err != nil {
				t.Fatalf("Replenish: %v", err)
			}
			for i := 0; i < tt.consume; i++ {
				m.Next()
			}
			for i := 1; i < len(tt.batches); i++ {
				if _, err := m.Replenish(context.Background()); err != nil {
					t.Fatalf("Replenish: %v", err)
				}
			}

			if diff := cmp.Diff(tt.wantQueue, ids(m.Profiles())); diff != "" {
				t.Errorf("Queue mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestManager_LowWatermark(t *testing.T) {
	store, calls := batches(profiles("a", "b", "c", "d"), profiles("e", "f"))
	m := New(Config{UserID: "me", Store: store, Logger: slogt.New(t)})
	t.Cleanup(m.Close)

	if _, err := m.Replenish(context.Background()); err != nil {
		t.Fatalf("Replenish: %v", err)
	}

	if p, ok := m.Next(); !ok || p.ID != "a" {
		t.Fatalf("Next() = %v, %v, want a", p.ID, ok)
	}
	m.wg.Wait()
	if *calls != 1 {
		t.Fatalf("Got %d fetches with 3 queued, want 1", *calls)
	}

	if p, ok := m.Next(); !ok || p.ID != "b" {
		t.Fatalf("Next() = %v, %v, want b", p.ID, ok)
	}
	m.wg.Wait()
	if *calls != 2 {
		t.Fatalf("Got %d fetches below the watermark, want 2", *calls)
	}

	if diff := cmp.Diff([]string{"c", "d", "e", "f"}, ids(m.Profiles())); diff != "" {
		t.Errorf("Queue mismatch (-want +got):\n%s", diff)
	}
}

func TestManager_OneReplenishInFlight(t *testing.T) {
	release := make(chan struct{})
	var (
		mu    sync.Mutex
		calls int
	)
	store := &testprofiles{
		getFeed: func(context.Context, string, api.FeedFilters) ([]api.Profile, error) {
			mu.Lock()
			calls++
			n := calls
			mu.Unlock()
			if n == 1 {
				return profiles("a", "b", "c"), nil
			}
			<-release
			return profiles("x"), nil
		},
	}
	m := New(Config{UserID: "me", Store: store, Logger: slogt.New(t)})
	t.Cleanup(m.Close)

	if _, err := m.Replenish(context.Background()); err != nil {
		t.Fatalf("Replenish: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, ok := m.Next(); !ok {
			t.Fatalf("Next() %d returned nothing", i)
		}
	}
	if got := m.State(); got != StateLoading {
		t.Errorf("State() = %v while fetching, want loading", got)
	}
	close(release)
	m.wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Errorf("Got %d fetches, want 2", calls)
	}
}

func TestManager_States(t *testing.T) {
	store, _ := batches(profiles("a"))
	m := New(Config{UserID: "me", Store: store, LowWatermark: 1, Logger: slogt.New(t)})
	t.Cleanup(m.Close)

	if got := m.State(); got != StateIdle {
		t.Errorf("State() = %v before fetching, want idle", got)
	}
	if _, err := m.Replenish(context.Background()); err != nil {
		t.Fatalf("Replenish: %v", err)
	}
	if got := m.State(); got != StateReady {
		t.Errorf("State() = %v with a queued card, want ready", got)
	}

	m.Next()
	m.wg.Wait()
	if got := m.State(); got != StateExhausted {
		t.Errorf("State() = %v after an empty batch, want exhausted", got)
	}
	if _, ok := m.Next(); ok {
		t.Error("Next() returned a card from an exhausted feed")
	}
}

func TestManager_ReplenishError(t *testing.T) {
	boom := errors.New("network down")
	store := &testprofiles{
		getFeed: func(context.Context, string, api.FeedFilters) ([]api.Profile, error) {
			return nil, boom
		},
	}
	m := New(Config{UserID: "me", Store: store, Logger: slogt.New(t)})
	t.Cleanup(m.Close)

	if _, err := m.Replenish(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Got error %v, want %v", err, boom)
	}
	if got := m.State(); got != StateIdle {
		t.Errorf("State() = %v after a failed fetch, want idle", got)
	}
}

func TestManager_Filters(t *testing.T) {
	var got api.FeedFilters
	store := &testprofiles{
		getFeed: func(_ context.Context, userID string, f api.FeedFilters) ([]api.Profile, error) {
			if userID != "me" {
				t.Errorf("Got user %q, want me", userID)
			}
			got = f
			return profiles("a"), nil
		},
	}
	loc := testlocator(func(context.Context) (api.Location, error) {
		return api.Location{Latitude: -23.5, Longitude: -46.6}, nil
	})
	m := New(Config{UserID: "me", Store: store, Locator: loc, Logger: slogt.New(t)})
	t.Cleanup(m.Close)

	prefs := api.Preferences{LookingFor: "female", MinAge: 21, MaxAge: 35, MaxDistance: 20, MinHeight: 160, Zodiac: "leo"}
	if _, err := m.SetPreferences(context.Background(), prefs); err != nil {
		t.Fatalf("SetPreferences: %v", err)
	}

	want := api.FeedFilters{
		Limit:       DefaultBatchSize,
		Gender:      "female",
		MinAge:      21,
		MaxAge:      35,
		MinHeight:   160,
		Zodiac:      "leo",
		MaxDistance: 20,
		Location:    &api.Location{Latitude: -23.5, Longitude: -46.6},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Filters mismatch (-want +got):\n%s", diff)
	}
}

func TestManager_LocateTimeout(t *testing.T) {
	var got api.FeedFilters
	store := &testprofiles{
		getFeed: func(_ context.Context, _ string, f api.FeedFilters) ([]api.Profile, error) {
			got = f
			return nil, nil
		},
	}
	loc := testlocator(func(context.Context) (api.Location, error) {
		time.Sleep(time.Second)
		return api.Location{Latitude: 1, Longitude: 1}, nil
	})
	m := New(Config{UserID: "me", Store: store, Locator: loc, LocateTimeout: 10 * time.Millisecond, Logger: slogt.New(t)})
	t.Cleanup(m.Close)

	start := time.Now()
	if _, err := m.Replenish(context.Background()); err != nil {
		t.Fatalf("Replenish: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Replenish waited %v for the locator", elapsed)
	}
	if got.Location != nil {
		t.Errorf("Got location %+v, want none", got.Location)
	}
}

func TestManager_RemoveAndRestore(t *testing.T) {
	store, _ := batches(profiles("a", "b", "c", "d"))
	m := New(Config{UserID: "me", Store: store, LowWatermark: 1, Logger: slogt.New(t)})
	t.Cleanup(m.Close)

	if _, err := m.Replenish(context.Background()); err != nil {
		t.Fatalf("Replenish: %v", err)
	}
	p, ok := m.Remove("c")
	if !ok {
		t.Fatal("Remove(c) found nothing")
	}
	if _, ok := m.Remove("c"); ok {
		t.Error("Remove(c) succeeded twice")
	}
	m.Restore(p)
	m.Restore(p)

	if diff := cmp.Diff([]string{"c", "a", "b", "d"}, ids(m.Profiles())); diff != "" {
		t.Errorf("Queue mismatch (-want +got):\n%s", diff)
	}
}
