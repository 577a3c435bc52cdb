package cache

import (
	"crypto/sha256"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/jmorganca/chatcaps/caps"
	"github.com/jmorganca/chatcaps/types/syncmap"
)

// Capabilities caches probe results by template digest so each template
// source is probed once per process.
type Capabilities struct {
	prober  *caps.Prober
	entries *syncmap.SyncMap[string, caps.Result]
	group   singleflight.Group
}

func NewCapabilities(p *caps.Prober) *Capabilities {
	return &Capabilities{
		prober:  p,
		entries: syncmap.NewSyncMap[string, caps.Result](),
	}
}

// Get returns the capabilities of the template in source, probing it if it
// has not been seen before.
func (c *Capabilities) Get(source string) caps.Result {
	digest := Digest(source)
	if r, ok := c.entries.Load(digest); ok {
		return r
	}

	// concurrent callers for the same digest share a single probe
	v, _, _ := c.group.Do(digest, func() (any, error) {
		return c.entries.LoadOrStore(digest, func() caps.Result {
			slog.Debug("probing template", "digest", digest)
			return c.prober.Probe(source)
		}), nil
	})

	return v.(caps.Result)
}

// Len returns the number of templates probed.
func (c *Capabilities) Len() int {
	return c.entries.Len()
}

// Digest identifies a template source.
func Digest(source string) string {
	return fmt.Sprintf("sha256:%x", sha256.Sum256([]byte(source)))
}
