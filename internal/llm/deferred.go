package llm

import (
	"context"
	"sync"
)

// Deferred creates its provider on first use, so processes that never
// generate do not need credentials. A creation error is returned by every call.
type Deferred struct {
	create func() (Provider, error)

	once     sync.Once
	provider Provider
	err      error
}

// NewDeferred wraps a provider constructor.
func NewDeferred(create func() (Provider, error)) *Deferred {
	return &Deferred{create: create}
}

func (d *Deferred) get() (Provider, error) {
	d.once.Do(func() {
		d.provider, d.err = d.create()
	})
	return d.provider, d.err
}

func (d *Deferred) Generate(ctx context.Context, req Request) (Outcome, error) {
	p, err := d.get()
	if err != nil {
		return nil, err
	}
	return p.Generate(ctx, req)
}

func (d *Deferred) Stream(ctx context.Context, req Request, onFragment FragmentFunc) error {
	p, err := d.get()
	if err != nil {
		return err
	}
	return p.Stream(ctx, req, onFragment)
}
