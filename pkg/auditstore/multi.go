package auditstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/auditkit/pkg/auditing"
)

// WriteObserver receives the outcome of each sink write
type WriteObserver interface {
	ObserveStoreWrite(store string, duration time.Duration, err error)
}

// Sink is a named store taking part in a fan-out
type Sink struct {
	Name  string
	Store auditing.Store
}

// MultiStore writes every audit log to all of its sinks concurrently
type MultiStore struct {
	sinks    []Sink
	limit    int
	observer WriteObserver
}

// NewMultiStore creates a fan-out over sinks. limit bounds concurrent
// writes; zero or less means one goroutine per sink.
func NewMultiStore(limit int, sinks ...Sink) *MultiStore {
	return &MultiStore{
		sinks: sinks,
		limit: limit,
	}
}

// SetObserver sets the per-sink write observer
func (m *MultiStore) SetObserver(observer WriteObserver) {
	m.observer = observer
}

// Sinks returns the configured sinks
func (m *MultiStore) Sinks() []Sink {
	return m.sinks
}

// Save writes to all sinks and waits for them. Every sink is attempted; the
// returned error joins the failures of all sinks that failed.
func (m *MultiStore) Save(ctx context.Context, info *auditing.AuditLogInfo) error {
	if len(m.sinks) == 0 {
		return nil
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	if m.limit > 0 {
		g.SetLimit(m.limit)
	}

	for _, sink := range m.sinks {
		sink := sink
		g.Go(func() error {
			start := time.Now()
			err := sink.Store.Save(ctx, info)
			if m.observer != nil {
				m.observer.ObserveStoreWrite(sink.Name, time.Since(start), err)
			}
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", sink.Name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}
