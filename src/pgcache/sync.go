package pgcache

import (
	"golang.org/x/sync/errgroup"

	"coalos/src/defs"
)

// syncAllConcurrent fans writeback of pages out across an errgroup and
// returns the first writeback error, if any -- spec.md section 4.2's
// `sync_all`, parallelized because a full-cache sync is expected to
// cover many files and the per-page writeback below already serializes
// correctly through each page's own cooperative lock.
func syncAllConcurrent(c *Cache_t, pages []*Page_t) defs.Err_t {
	var g errgroup.Group
	for _, p := range pages {
		p := p
		g.Go(func() error {
			if err := c.WritebackPage(p); err != 0 {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if e, ok := err.(defs.Err_t); ok {
			return e
		}
		return defs.EIO
	}
	return 0
}
