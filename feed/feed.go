// Package feed keeps the queue of candidate profiles shown on the swipe deck.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pegaoupassa/swipe-core/api"
)

// Defaults for Config.
const (
	DefaultBatchSize     = 10
	DefaultLowWatermark  = 3
	DefaultLocateTimeout = 3 * time.Second
)

// State is the supply state reported to the deck.
type State int

const (
	// StateIdle means nothing was fetched yet.
	StateIdle State = iota
	// StateLoading means the queue is empty and a fetch is in flight.
	StateLoading
	// StateReady means at least one candidate is queued.
	StateReady
	// StateExhausted means the backend has no more candidates for the
	// current filters.
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateExhausted:
		return "exhausted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Config holds the Manager dependencies. Locator is optional.
type Config struct {
	UserID        string
	Store         api.ProfileStore
	Locator       api.Locator
	Preferences   api.Preferences
	BatchSize     int
	LowWatermark  int
	LocateTimeout time.Duration
	Logger        *slog.Logger
}

// Manager owns the candidate queue. Only its methods mutate it.
type Manager struct {
	cfg Config

	bg     context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	queue     []api.Profile
	consumed  map[string]struct{}
	prefs     api.Preferences
	inflight  int
	exhausted bool
	// gen changes whenever the queue is reset, so batches fetched for old
	// filters are dropped.
	gen int
}

// New returns an empty Manager. Call Replenish to load the first batch.
func New(cfg Config) *Manager {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.LowWatermark <= 0 {
		cfg.LowWatermark = DefaultLowWatermark
	}
	if cfg.LocateTimeout <= 0 {
		cfg.LocateTimeout = DefaultLocateTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Preferences == (api.Preferences{}) {
		cfg.Preferences = api.DefaultPreferences()
	}
	bg, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:      cfg,
		bg:       bg,
		cancel:   cancel,
		consumed: make(map[string]struct{}),
		prefs:    cfg.Preferences,
	}
}

// Close cancels any background replenishment and waits for it.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

// State reports the supply state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *Manager) stateLocked() State {
	switch {
	case len(m.queue) > 0:
		return StateReady
	case m.inflight > 0:
		return StateLoading
	case m.exhausted:
		return StateExhausted
	}
	return StateIdle
}

// Len returns the number of queued candidates.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Profiles returns a copy of the queue, head first.
func (m *Manager) Profiles() []api.Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]api.Profile, len(m.queue))
	copy(out, m.queue)
	return out
}

// Peek returns the current card without consuming it.
func (m *Manager) Peek() (api.Profile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return api.Profile{}, false
	}
	return m.queue[0], true
}

// Next consumes the head of the queue. It never waits for replenishment.
func (m *Manager) Next() (api.Profile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return api.Profile{}, false
	}
	p := m.queue[0]
	m.queue = m.queue[1:]
	m.consumed[p.ID] = struct{}{}
	m.afterConsumeLocked()
	return p, true
}

// Remove consumes the candidate with the given id wherever it sits in the
// queue. It reports false if the candidate is not queued.
func (m *Manager) Remove(id string) (api.Profile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range m.queue {
		if p.ID != id {
			continue
		}
		m.queue = append(m.queue[:i:i], m.queue[i+1:]...)
		m.consumed[id] = struct{}{}
		m.afterConsumeLocked()
		return p, true
	}
	return api.Profile{}, false
}

// Restore puts a consumed candidate back at the head of the queue.
func (m *Manager) Restore(p api.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.indexLocked(p.ID) >= 0 {
		return
	}
	delete(m.consumed, p.ID)
	m.queue = append([]api.Profile{p}, m.queue...)
	m.exhausted = false
}

// Preferences returns the filters used for fetching.
func (m *Manager) Preferences() api.Preferences {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prefs
}

// SetPreferences replaces the filters, drops the queue and fetches a fresh
// batch.
func (m *Manager) SetPreferences(ctx context.Context, p api.Preferences) (int, error) {
	m.mu.Lock()
	m.prefs = p
	m.queue = nil
	m.exhausted = false
	m.gen++
	m.mu.Unlock()
	return m.Replenish(ctx)
}

// Replenish fetches one batch and appends the candidates that are neither
// queued nor consumed. It returns how many were appended.
func (m *Manager) Replenish(ctx context.Context) (int, error) {
	m.mu.Lock()
	m.inflight++
	m.mu.Unlock()
	return m.fetch(ctx)
}

// fetch runs one reserved fetch. The caller has already counted it in
// inflight.
func (m *Manager) fetch(ctx context.Context) (int, error) {
	m.mu.Lock()
	gen := m.gen
	filters := m.prefs.Filters(m.cfg.BatchSize)
	m.mu.Unlock()

	filters.Location = m.locate(ctx)
	batch, err := m.cfg.Store.GetFeed(ctx, m.cfg.UserID, filters)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.inflight--
	if err != nil {
		replenishments.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("get feed: %w", err)
	}
	if gen != m.gen {
		replenishments.WithLabelValues("stale").Inc()
		return 0, nil
	}

	added := m.appendLocked(batch)
	if added == 0 && len(m.queue) == 0 {
		m.exhausted = true
		replenishments.WithLabelValues("exhausted").Inc()
	} else {
		m.exhausted = false
		replenishments.WithLabelValues("ok").Inc()
	}
	return added, nil
}

func (m *Manager) appendLocked(batch []api.Profile) int {
	seen := make(map[string]struct{}, len(m.queue)+len(batch))
	for _, p := range m.queue {
		seen[p.ID] = struct{}{}
	}
	added := 0
	for _, p := range batch {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		if _, ok := m.consumed[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		m.queue = append(m.queue, p)
		added++
	}
	return added
}

func (m *Manager) indexLocked(id string) int {
	for i, p := range m.queue {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// afterConsumeLocked starts a background fetch when the queue fell below the
// low watermark and none is running.
func (m *Manager) afterConsumeLocked() {
	if len(m.queue) >= m.cfg.LowWatermark || m.inflight > 0 || m.bg.Err() != nil {
		return
	}
	m.inflight++
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if _, err := m.fetch(m.bg); err != nil {
			m.cfg.Logger.Warn("Could not replenish feed", "user_id", m.cfg.UserID, "error", err.Error())
		}
	}()
}

// locate asks the Locator for the device position, giving up silently after
// the configured timeout.
func (m *Manager) locate(ctx context.Context) *api.Location {
	if m.cfg.Locator == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.LocateTimeout)
	defer cancel()

	type located struct {
		loc api.Location
		err error
	}
	ch := make(chan located, 1)
	go func() {
		loc, err := m.cfg.Locator.Locate(ctx)
		ch <- located{loc, err}
	}()

	select {
	case <-ctx.Done():
		m.cfg.Logger.Debug("Location lookup timed out", "timeout", m.cfg.LocateTimeout)
		return nil
	case r := <-ch:
		if r.err != nil {
			m.cfg.Logger.Debug("Location unavailable", "error", r.err.Error())
			return nil
		}
		return &r.loc
	}
}
