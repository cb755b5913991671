// Package precedent holds the pluggable prior-case provider: a safe no-op
// default, a process-wide registry for composition-root wiring, and the
// prompt formatter for retrieved cases.
package precedent

import (
	"context"
	"sync"

	"github.com/alekb/botesq/internal/domain"
	"github.com/alekb/botesq/internal/ports"
)

var (
	mu     sync.RWMutex
	active ports.PrecedentProvider = NoopProvider{}
)

// Register installs the active provider. Intended for startup wiring and
// test harnesses, not hot-swapping under load; the arbitration engine takes
// its provider through dependency injection.
func Register(p ports.PrecedentProvider) {
	mu.Lock()
	defer mu.Unlock()
	if p == nil {
		p = NoopProvider{}
	}
	active = p
}

func Active() ports.PrecedentProvider {
	mu.RLock()
	defer mu.RUnlock()
	return active
}

// Reset restores the no-op default. Test isolation hook.
func Reset() {
	Register(NoopProvider{})
}

// NoopProvider always reports available and returns zero cases, so
// deployments without a proprietary corpus degrade to plain arbitration.
type NoopProvider struct{}

func (NoopProvider) Available(context.Context) bool { return true }

func (NoopProvider) FindRelevant(_ context.Context, _ domain.Dispute, _ int) (domain.PrecedentResult, error) {
	return domain.PrecedentResult{Cases: []domain.PrecedentCase{}, Source: "none"}, nil
}
