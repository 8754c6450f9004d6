package coeffs

import (
	"context"
	"fmt"
	"sync"

	"github.com/signalsfoundry/geomag/internal/logging"
)

// Cache loads a coefficient file exactly once and hands the same read-only
// Store to every caller. A failed load is remembered; the model is then
// unavailable for the lifetime of the process.
type Cache struct {
	path string
	log  logging.Logger

	once  sync.Once
	store *Store
	err   error
}

// NewCache prepares a cache for the coefficient file at path. Nothing is
// read until Store is first called.
func NewCache(path string, log logging.Logger) *Cache {
	if log == nil {
		log = logging.Noop()
	}
	return &Cache{path: path, log: log}
}

// Store returns the shared Store, loading it on first use.
func (c *Cache) Store() (*Store, error) {
	c.once.Do(func() {
		ctx := context.Background()
		c.store, c.err = LoadFile(c.path)
		if c.err != nil {
			c.log.Error(ctx, "coefficient load failed", logging.String("path", c.path), logging.Err(c.err))
			return
		}
		c.log.Info(ctx, "loaded coefficient table",
			logging.String("path", c.path),
			logging.Int("entries", c.store.Len()),
			logging.Int("snapshots", len(c.store.epochs)),
			logging.Float64("first_epoch", c.store.FirstEpoch()),
			logging.Float64("last_epoch", c.store.LastEpoch()),
			logging.String("fingerprint", fmt.Sprintf("%016x", c.store.Fingerprint())),
		)
	})
	return c.store, c.err
}
