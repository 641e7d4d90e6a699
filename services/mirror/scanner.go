package mirror

import (
	"context"
	"io/fs"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// claimSet remembers canonical descriptor paths already handed to the queue
// this run. Symlink cycles and aliased paths resolve to one claim.
type claimSet struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func newClaimSet() *claimSet {
	return &claimSet{seen: make(map[string]struct{})}
}

// tryClaim returns true exactly once per distinct path.
func (c *claimSet) tryClaim(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.seen[path]; ok {
		return false
	}
	c.seen[path] = struct{}{}
	return true
}

// Scanner walks the artifact tree, resolves descriptors and feeds admitted
// artifacts into the queue. One bad entry never stops the walk.
type Scanner struct {
	resolver *Resolver
	filter   *Filter
	claims   *claimSet
	sink     Sink
	logger   *log.Logger
}

// NewScanner builds a scanner over resolver.Root.
func NewScanner(resolver *Resolver, filter *Filter, sink Sink, logger *log.Logger) *Scanner {
	return &Scanner{
		resolver: resolver,
		filter:   filter,
		claims:   newClaimSet(),
		sink:     sink,
		logger:   logger,
	}
}

func isDescriptor(name string) bool {
	return name == "pom.xml" || strings.HasSuffix(name, ".pom")
}

// Run walks the tree once and closes out when the walk finishes. The only
// error it returns is context cancellation; per-entry failures are logged
// and skipped.
func (s *Scanner) Run(ctx context.Context, out chan<- Artifact) error {
	defer close(out)

	return filepath.WalkDir(s.resolver.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			s.logger.Printf("WARN scan skip %s: %v", path, err)
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !d.Type().IsRegular() || !isDescriptor(d.Name()) {
			return nil
		}
		s.process(ctx, path, out)
		return nil
	})
}

func (s *Scanner) process(ctx context.Context, path string, out chan<- Artifact) {
	canonical, err := filepath.EvalSymlinks(path)
	if err != nil {
		s.logger.Printf("WARN scan skip %s: %v", path, err)
		return
	}
	if !s.claims.tryClaim(canonical) {
		return
	}

	art, err := s.resolver.Resolve(path)
	if err != nil {
		s.logger.Printf("WARN scan skip %s: %v", path, err)
		return
	}

	if reason, ok := s.filter.Admit(art); !ok {
		s.sink.Send(Event{Time: time.Now().UTC(), Outcome: OutcomeExcluded, Coord: art.Coordinate, Reason: reason})
		return
	}

	select {
	case out <- art:
		s.sink.Send(Event{Time: time.Now().UTC(), Outcome: OutcomeQueued, Coord: art.Coordinate})
	case <-ctx.Done():
	}
}
