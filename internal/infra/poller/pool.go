package poller

import (
	"context"
	"sync"

	"product-media-studio/internal/domain"
)

// Pool bounds how many poll loops run at once. Unlike a queueing worker pool,
// a saturated Pool rejects immediately: a generation job whose poll loop
// cannot start would silently eat its deadline while queued, so failing the
// submission fast is the safer behavior.
type Pool struct {
	sem chan struct{}
	wg  sync.WaitGroup
}

func NewPool(max int) *Pool {
	if max <= 0 {
		max = 64
	}
	return &Pool{sem: make(chan struct{}, max)}
}

// Go runs fn on its own goroutine if a slot is free, otherwise returns
// ErrTooBusy without blocking.
func (p *Pool) Go(ctx context.Context, fn func(ctx context.Context)) error {
	select {
	case p.sem <- struct{}{}:
	default:
		return domain.ErrTooBusy
	}
	p.wg.Add(1)
	go func() {
		defer func() {
			<-p.sem
			p.wg.Done()
		}()
		fn(ctx)
	}()
	return nil
}

// Wait blocks until every running loop has returned.
func (p *Pool) Wait() { p.wg.Wait() }
