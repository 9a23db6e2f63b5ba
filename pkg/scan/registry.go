package scan

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nnnkkk7/tds-bridge/pkg/logging"
)

// DefaultTTL is the idle time after which a registered scan is reaped.
const DefaultTTL = 10 * time.Minute

// ErrHandleNotFound is returned for unknown or reaped scan handles.
var ErrHandleNotFound = errors.New("scan handle not found")

// Entry is a registered scan. Access to the scan goes through Do, which
// serializes callers sharing a handle.
type Entry struct {
	Handle    string
	Table     string
	CreatedOn time.Time

	mu       sync.Mutex
	scan     *Scan
	lastUsed time.Time
}

// Do runs fn with exclusive access to the scan.
func (e *Entry) Do(fn func(*Scan) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastUsed = time.Now()
	return fn(e.scan)
}

// Registry keeps open scans addressable by handle between requests. Scans
// left idle for longer than the TTL are closed and forgotten.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	ttl     time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewRegistry creates a registry and starts its reaper. A non-positive
// ttl selects DefaultTTL.
func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	r := &Registry{
		entries: make(map[string]*Entry),
		ttl:     ttl,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go r.cleanupLoop()
	return r
}

// Add registers s and returns its entry.
func (r *Registry) Add(table string, s *Scan) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	e := &Entry{
		Handle:    generateHandle(),
		Table:     table,
		CreatedOn: now,
		scan:      s,
		lastUsed:  now,
	}
	r.entries[e.Handle] = e
	return e
}

// Get retrieves an entry by handle.
func (r *Registry) Get(handle string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[handle]
	return e, ok
}

// Len returns the number of registered scans.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Delete unregisters a scan and closes it.
func (r *Registry) Delete(handle string) error {
	r.mu.Lock()
	e, ok := r.entries[handle]
	delete(r.entries, handle)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrHandleNotFound, handle)
	}
	return e.Do(func(s *Scan) error { return s.Close() })
}

// CloseAll stops the reaper and closes every registered scan.
func (r *Registry) CloseAll() error {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done

	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*Entry)
	r.mu.Unlock()

	var errs []error
	for _, e := range entries {
		if err := e.Do(func(s *Scan) error { return s.Close() }); err != nil {
			errs = append(errs, fmt.Errorf("close scan %s: %w", e.Handle, err))
		}
	}
	return errors.Join(errs...)
}

// cleanupLoop periodically reaps idle scans.
func (r *Registry) cleanupLoop() {
	defer close(r.done)

	ticker := time.NewTicker(r.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case now := <-ticker.C:
			r.cleanup(now)
		}
	}
}

// cleanup closes scans idle for longer than the TTL. Scans in use are
// left for the next round.
func (r *Registry) cleanup(now time.Time) {
	r.mu.Lock()
	var expired []*Entry
	for handle, e := range r.entries {
		if !e.mu.TryLock() {
			continue
		}
		if now.Sub(e.lastUsed) > r.ttl {
			delete(r.entries, handle)
			expired = append(expired, e)
			continue
		}
		e.mu.Unlock()
	}
	r.mu.Unlock()

	for _, e := range expired {
		if err := e.scan.Close(); err != nil {
			logging.Warn().Err(err).Str("handle", e.Handle).Msg("failed to close idle scan")
		}
		logging.Debug().Str("handle", e.Handle).Str("table", e.Table).Msg("reaped idle scan")
		e.mu.Unlock()
	}
}

func generateHandle() string {
	return uuid.NewString()
}
