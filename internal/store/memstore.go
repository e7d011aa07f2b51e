package store

import (
	"sort"
	"sync"
	"time"

	"rpreport/internal/reporting"
)

// MemStore implements Store in memory, for tests and the MCP server when no
// state path is configured.
type MemStore struct {
	mu       sync.Mutex
	sessions map[string]memEntry
}

type memEntry struct {
	snap    *reporting.Snapshot
	updated time.Time
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{sessions: make(map[string]memEntry)}
}

// SaveSession implements Store. The snapshot is copied.
func (s *MemStore) SaveSession(name string, snap *reporting.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[name] = memEntry{snap: cloneSnapshot(snap), updated: time.Now().UTC()}
	return nil
}

// LoadSession implements Store.
func (s *MemStore) LoadSession(name string) (*reporting.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[name]
	if !ok {
		return nil, nil
	}
	return cloneSnapshot(e.snap), nil
}

// DeleteSession implements Store.
func (s *MemStore) DeleteSession(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, name)
	return nil
}

// ListSessions implements Store.
func (s *MemStore) ListSessions() ([]SessionRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SessionRow, 0, len(s.sessions))
	for name, e := range s.sessions {
		out = append(out, summarize(name, e.snap, e.updated))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Close implements Store.
func (s *MemStore) Close() error { return nil }

func cloneSnapshot(snap *reporting.Snapshot) *reporting.Snapshot {
	if snap == nil {
		return nil
	}
	out := &reporting.Snapshot{
		LaunchUUID:  snap.LaunchUUID,
		LaunchState: snap.LaunchState,
		Items:       append([]reporting.ItemInfo(nil), snap.Items...),
	}
	if snap.Suites != nil {
		out.Suites = make(map[string]string, len(snap.Suites))
		for k, v := range snap.Suites {
			out.Suites[k] = v
		}
	}
	for _, rec := range snap.Pending {
		if rec.Attachment != nil {
			a := *rec.Attachment
			a.Data = append([]byte(nil), a.Data...)
			rec.Attachment = &a
		}
		out.Pending = append(out.Pending, rec)
	}
	return out
}
