// ABOUTME: Session trust memory - per-function always-allow / always-block
// ABOUTME: decisions, persisted on every mutation, never exported.

package trust

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Verdict is a remembered decision for a function name.
type Verdict string

const (
	// VerdictAllow skips the interactive decision and executes immediately.
	VerdictAllow Verdict = "allow"
	// VerdictBlock fails the invocation immediately, no interaction.
	VerdictBlock Verdict = "block"
)

// Store is the durable keyed storage for verdicts. Trust memory is excluded
// from every export/share payload; only this store ever sees it.
type Store interface {
	SaveVerdict(ctx context.Context, name string, verdict string) error
	DeleteVerdict(ctx context.Context, name string) error
	LoadVerdicts(ctx context.Context) (map[string]string, error)
}

// Memory holds the two disjoint sets of function names. A name present in
// one set is absent from the other: adding to one evicts it from the other.
type Memory struct {
	mu       sync.RWMutex
	logger   *slog.Logger
	store    Store
	verdicts map[string]Verdict
}

// New creates an empty trust memory. store may be nil for in-memory use.
func New(logger *slog.Logger, store Store) *Memory {
	return &Memory{
		logger:   logger.With("component", "trust"),
		store:    store,
		verdicts: make(map[string]Verdict),
	}
}

// Hydrate loads persisted verdicts.
func (m *Memory) Hydrate(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	raw, err := m.store.LoadVerdicts(ctx)
	if err != nil {
		return fmt.Errorf("loading verdicts: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, v := range raw {
		switch Verdict(v) {
		case VerdictAllow, VerdictBlock:
			m.verdicts[name] = Verdict(v)
		default:
			m.logger.Warn("ignoring unknown verdict", "function", name, "verdict", v)
		}
	}
	return nil
}

// Remember records a verdict for a function, evicting any opposite verdict.
func (m *Memory) Remember(ctx context.Context, name string, verdict Verdict) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.store != nil {
		if err := m.store.SaveVerdict(ctx, name, string(verdict)); err != nil {
			return fmt.Errorf("persisting verdict: %w", err)
		}
	}
	m.verdicts[name] = verdict
	m.logger.Info("verdict remembered", "function", name, "verdict", verdict)
	return nil
}

// Forget drops any remembered verdict for a function.
func (m *Memory) Forget(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.verdicts[name]; !ok {
		return nil
	}
	if m.store != nil {
		if err := m.store.DeleteVerdict(ctx, name); err != nil {
			return fmt.Errorf("deleting verdict: %w", err)
		}
	}
	delete(m.verdicts, name)
	return nil
}

// Verdict returns the remembered verdict for a function, if any.
func (m *Memory) Verdict(name string) (Verdict, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.verdicts[name]
	return v, ok
}

// IsAllowed reports whether the function is in the always-allow set.
func (m *Memory) IsAllowed(name string) bool {
	v, ok := m.Verdict(name)
	return ok && v == VerdictAllow
}

// IsBlocked reports whether the function is in the always-block set.
func (m *Memory) IsBlocked(name string) bool {
	v, ok := m.Verdict(name)
	return ok && v == VerdictBlock
}

// Allowed returns the always-allow set in unspecified order.
func (m *Memory) Allowed() []string { return m.names(VerdictAllow) }

// Blocked returns the always-block set in unspecified order.
func (m *Memory) Blocked() []string { return m.names(VerdictBlock) }

func (m *Memory) names(want Verdict) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for name, v := range m.verdicts {
		if v == want {
			out = append(out, name)
		}
	}
	return out
}
