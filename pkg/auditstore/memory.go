package auditstore

import (
	"context"
	"sync"

	"github.com/platinummonkey/auditkit/pkg/auditing"
)

// MemoryStore keeps audit logs in memory, for development and tests
type MemoryStore struct {
	mu   sync.RWMutex
	logs []*auditing.AuditLogInfo
	max  int
}

// NewMemoryStore creates a store holding at most max logs. Zero or less keeps
// everything.
func NewMemoryStore(max int) *MemoryStore {
	return &MemoryStore{max: max}
}

// Save stores a copy of the log, evicting the oldest when full
func (s *MemoryStore) Save(ctx context.Context, info *auditing.AuditLogInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logs = append(s.logs, info.Clone())
	if s.max > 0 && len(s.logs) > s.max {
		s.logs = s.logs[len(s.logs)-s.max:]
	}
	return nil
}

// Logs returns copies of the stored logs, oldest first
func (s *MemoryStore) Logs() []*auditing.AuditLogInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*auditing.AuditLogInfo, len(s.logs))
	for i, l := range s.logs {
		out[i] = l.Clone()
	}
	return out
}

// Len returns the number of stored logs
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.logs)
}
