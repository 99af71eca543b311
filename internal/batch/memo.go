package batch

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/phobologic/apidrift/internal/harness"
	"github.com/phobologic/apidrift/internal/model"
)

// memo caches extracted collections by input fingerprint and collapses
// concurrent extractions of the same input into one.
//
// A shared extraction runs under the run's context with its own ceiling,
// not under the context of whichever job started it, so one job's
// deadline never fails another job waiting on the same input.
type memo struct {
	extractor Extractor
	cache     *lru.Cache[string, *model.Collection]
	group     singleflight.Group
	run       context.Context
	ceiling   time.Duration
}

func newMemo(run context.Context, extractor Extractor, size int, ceiling time.Duration) (*memo, error) {
	cache, err := lru.New[string, *model.Collection](size)
	if err != nil {
		return nil, err
	}
	return &memo{extractor: extractor, cache: cache, run: run, ceiling: ceiling}, nil
}

// extract returns the collection for in, waiting no longer than ctx allows.
func (m *memo) extract(ctx context.Context, in harness.Input) (*model.Collection, error) {
	key := in.Fingerprint()
	if c, ok := m.cache.Get(key); ok {
		return c, nil
	}
	ch := m.group.DoChan(key, func() (any, error) {
		if c, ok := m.cache.Get(key); ok {
			return c, nil
		}
		shared, cancel := context.WithTimeout(m.run, m.ceiling)
		defer cancel()
		res, err := m.extractor.RunIsolated(shared, in)
		if err != nil {
			return nil, err
		}
		m.cache.Add(key, res.Collection)
		return res.Collection, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*model.Collection), nil
	}
}
