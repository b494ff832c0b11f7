package llm

import (
	"context"

	"github.com/GriffinCanCode/good-listener/backend/notes/internal/resilience"
)

// Guarded trips a circuit breaker around another provider so a dead endpoint
// fails fast instead of stalling every enhancement.
type Guarded struct {
	inner   Provider
	breaker *resilience.Breaker
}

func NewGuarded(name string, inner Provider, cfg resilience.Config) *Guarded {
	return &Guarded{inner: inner, breaker: resilience.New("llm:"+name, cfg)}
}

func (g *Guarded) Generate(ctx context.Context, req Request) (Response, error) {
	return resilience.DoWithResult(ctx, g.breaker, func(ctx context.Context) (Response, error) {
		return g.inner.Generate(ctx, req)
	})
}

func (g *Guarded) Stream(ctx context.Context, req Request, onDelta func(string)) error {
	return g.breaker.Do(ctx, func(ctx context.Context) error {
		return g.inner.Stream(ctx, req, onDelta)
	})
}

// Breaker exposes the underlying breaker for health reporting.
func (g *Guarded) Breaker() *resilience.Breaker { return g.breaker }
