package mirror

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// Pool drains resolved artifacts with a fixed number of workers, applying
// the idempotency protocol per file: local ledger check, then remote probe,
// then transfer. One worker owns one artifact and walks its files in order;
// artifacts race freely against each other.
type Pool struct {
	releaseBase  string
	snapshotBase string
	force        bool
	workers      int

	store  Store
	remote Remote
	sink   Sink
	logger *log.Logger
}

// NewPool wires a worker pool against the given ledger and repository.
func NewPool(cfg Config, store Store, remote Remote, sink Sink, logger *log.Logger) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	snapshotBase := ""
	if cfg.SnapshotURL != "" {
		snapshotBase = normalizeBase(cfg.SnapshotURL)
	}

	return &Pool{
		releaseBase:  normalizeBase(cfg.URL),
		snapshotBase: snapshotBase,
		force:        cfg.Force,
		workers:      workers,
		store:        store,
		remote:       remote,
		sink:         sink,
		logger:       logger,
	}
}

// normalizeBase guarantees a base URL ending in exactly one slash, the form
// the target URL template concatenates against.
func normalizeBase(url string) string {
	return strings.TrimRight(url, "/") + "/"
}

// targetURL builds the remote destination for one file of a coordinate.
// Snapshot versions route to the snapshot base when one is configured.
func (p *Pool) targetURL(coord Coordinate, suffix string) string {
	base := p.releaseBase
	if coord.IsSnapshot() && p.snapshotBase != "" {
		base = p.snapshotBase
	}
	return fmt.Sprintf("%s%s/%s/%s/%s-%s.%s",
		base, coord.GroupPath(), coord.ArtifactID, coord.Version, coord.ArtifactID, coord.Version, suffix)
}

// Run consumes in until it is closed and every dequeued artifact has been
// processed. Safe to call once per pool.
func (p *Pool) Run(ctx context.Context, in <-chan Artifact) {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for art := range in {
				p.processArtifact(ctx, art)
			}
		}()
	}
	wg.Wait()
}

func (p *Pool) processArtifact(ctx context.Context, art Artifact) {
	for _, file := range art.Files {
		if ctx.Err() != nil {
			return
		}
		p.processFile(ctx, art.Coordinate, file)
	}
}

// processFile runs the three-tier protocol for a single file. Failures are
// reported and dropped: no record is written, so the file stays a candidate
// on every following run until a transfer succeeds. That is the whole retry
// mechanism.
func (p *Pool) processFile(ctx context.Context, coord Coordinate, file File) {
	url := p.targetURL(coord, file.RemoteSuffix)

	info, err := os.Stat(file.LocalPath)
	if err != nil {
		p.report(Event{Outcome: OutcomeFailed, Coord: coord, Suffix: file.RemoteSuffix, URL: url,
			Reason: fmt.Sprintf("stat %s: %v", file.LocalPath, err)})
		return
	}
	mtime := info.ModTime().Unix()

	if !p.force {
		stored, ok, err := p.store.Get(ctx, url)
		if err != nil {
			p.logger.Printf("WARN ledger lookup %s: %v", url, err)
		} else if ok && stored == mtime {
			p.report(Event{Outcome: OutcomeSkippedLocal, Coord: coord, Suffix: file.RemoteSuffix, URL: url})
			return
		}

		exists, err := p.remote.Exists(ctx, url)
		if err != nil {
			p.logger.Printf("DEBUG probe %s: %v", url, err)
		}
		if exists {
			p.record(ctx, url, mtime)
			p.report(Event{Outcome: OutcomeSkippedRemote, Coord: coord, Suffix: file.RemoteSuffix, URL: url})
			return
		}
	}

	body, err := os.ReadFile(file.LocalPath)
	if err != nil {
		p.report(Event{Outcome: OutcomeFailed, Coord: coord, Suffix: file.RemoteSuffix, URL: url,
			Reason: fmt.Sprintf("read %s: %v", file.LocalPath, err)})
		return
	}

	if err := p.remote.Upload(ctx, url, body); err != nil {
		p.report(Event{Outcome: OutcomeFailed, Coord: coord, Suffix: file.RemoteSuffix, URL: url,
			Reason: err.Error()})
		return
	}

	// The ledger entry is the only evidence future runs skip on; it is
	// written after a confirmed transfer, never before.
	p.record(ctx, url, mtime)
	p.report(Event{Outcome: OutcomeUploaded, Coord: coord, Suffix: file.RemoteSuffix, URL: url,
		Size: int64(len(body))})
}

// record persists the delivered mtime. A write failure is logged and
// swallowed: the next run re-uploads, which the repository tolerates, and
// the remote probe is the second line of defense.
func (p *Pool) record(ctx context.Context, url string, mtime int64) {
	if err := p.store.Put(ctx, url, mtime); err != nil {
		p.logger.Printf("ERROR record %s: %v", url, err)
	}
}

func (p *Pool) report(ev Event) {
	if p.sink == nil {
		return
	}
	ev.Time = time.Now().UTC()
	p.sink.Send(ev)
}
