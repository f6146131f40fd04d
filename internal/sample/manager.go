package sample

import (
	"log/slog"
	"path"
	"path/filepath"
	"sort"
)

// Manager is the engine's sample table. It is owned by whichever context owns
// the engine; it is not safe for concurrent mutation.
type Manager struct {
	samples  map[ID]*Sample
	reparent map[ID]string
	logger   *slog.Logger
}

// NewManager returns an empty sample table.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		samples: make(map[ID]*Sample),
		logger:  logger,
	}
}

// Add inserts or replaces s.
func (m *Manager) Add(s *Sample) {
	if s == nil {
		return
	}
	m.samples[s.ID] = s
}

// Get returns the sample with id, or nil.
func (m *Manager) Get(id ID) *Sample {
	return m.samples[id]
}

// Len returns the number of samples held.
func (m *Manager) Len() int { return len(m.samples) }

// Samples returns every sample ordered by ID.
func (m *Manager) Samples() []*Sample {
	out := make([]*Sample, 0, len(m.samples))
	for _, s := range m.samples {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Purge drops every sample for which referenced returns false and reports how
// many were removed.
func (m *Manager) Purge(referenced func(ID) bool) int {
	n := 0
	for id := range m.samples {
		if !referenced(id) {
			delete(m.samples, id)
			n++
		}
	}
	if n > 0 {
		m.logger.Debug("purged unreferenced samples", "count", n, "remaining", len(m.samples))
	}
	return n
}

// ReparentSamplesOnStreamToRelative makes StreamPath report every sample as
// prefix/<filename> until ClearReparenting is called. The live paths are untouched.
func (m *Manager) ReparentSamplesOnStreamToRelative(prefix string) {
	m.reparent = make(map[ID]string, len(m.samples))
	for id, s := range m.samples {
		m.reparent[id] = path.Join(filepath.ToSlash(prefix), filepath.Base(s.Path))
	}
}

// ClearReparenting drops any stream path rewrite.
func (m *Manager) ClearReparenting() {
	m.reparent = nil
}

// StreamPath is the path written into saved documents for id.
func (m *Manager) StreamPath(id ID) string {
	if p, ok := m.reparent[id]; ok {
		return p
	}
	if s := m.samples[id]; s != nil {
		return s.Path
	}
	return ""
}
