package mirror

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"mvnmirror/pkg/bus"
)

// Queue depth between the scanner and the pool. Scanning is cheap next to
// uploading, so the buffer only needs to absorb bursts, not the whole tree.
const queueDepth = 1024

const (
	subjectUploads = "mirror.uploads"
	subjectRuns    = "mirror.runs"
)

// RunReport is the terminal summary of one sync run, published on the bus
// when one is configured and printed at completion either way.
type RunReport struct {
	RunID    string            `json:"run_id"`
	Dir      string            `json:"dir"`
	Started  time.Time         `json:"started"`
	Finished time.Time         `json:"finished"`
	Outcomes map[Outcome]int64 `json:"outcomes"`
}

// Sync runs the full pipeline once: walk the tree, resolve and filter
// descriptors, drain the queue with the worker pool against the configured
// repository and ledger. Per-file failures never fail the run; the only
// fatal setup error is a ledger that cannot be opened.
func Sync(ctx context.Context, cfg Config, logger *log.Logger, stdout io.Writer) (*Summary, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	started := time.Now().UTC()
	logger.Printf("INFO run %s syncing %s to %s", runID, cfg.Dir, cfg.URL)

	store, err := OpenStore(ctx, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open state %s: %w", cfg.DBPath, err)
	}
	defer store.Close()

	remote, err := NewRemote(cfg)
	if err != nil {
		return nil, err
	}

	summary := &Summary{}
	reg := prometheus.NewRegistry()
	sinks := []Sink{summary, NewConsoleSink(stdout), NewMetricsSink(reg)}

	var eventBus *bus.Bus
	if cfg.EventsURL != "" {
		eventBus, err = bus.New(cfg.EventsURL)
		if err != nil {
			logger.Printf("WARN connect events bus %s: %v", cfg.EventsURL, err)
		} else {
			defer eventBus.Close()
			sinks = append(sinks, NewBusSink(eventBus, subjectUploads, logger))
		}
	}
	sink := CombineSinks(sinks...)

	var phase atomic.Value
	phase.Store(PhaseScanning)

	if cfg.AdminAddr != "" {
		admin := newAdminServer(cfg.AdminAddr, func() RunStatus {
			return RunStatus{
				RunID:    runID,
				Phase:    phase.Load().(Phase),
				Started:  started,
				Outcomes: summary.Counts(),
			}
		}, reg, logger)

		adminCtx, stopAdmin := context.WithCancel(ctx)
		defer stopAdmin()
		go admin.run(adminCtx)
	}

	resolver := &Resolver{Root: cfg.Dir, Strategy: cfg.Strategy}
	filter := &Filter{Exclude: cfg.Exclude, MaxSizeMiB: cfg.MaxSizeMiB}
	scanner := NewScanner(resolver, filter, sink, logger)
	pool := NewPool(cfg, store, remote, sink, logger)

	queue := make(chan Artifact, queueDepth)
	scanErr := make(chan error, 1)
	go func() {
		scanErr <- scanner.Run(ctx, queue)
		phase.Store(PhaseDraining)
	}()

	pool.Run(ctx, queue)
	phase.Store(PhaseDone)

	if err := <-scanErr; err != nil {
		return summary, fmt.Errorf("scan %s: %w", cfg.Dir, err)
	}
	if err := ctx.Err(); err != nil {
		return summary, err
	}

	finished := time.Now().UTC()
	logger.Printf("INFO run %s finished in %s: %s", runID, finished.Sub(started).Round(time.Millisecond), summary)
	fmt.Fprintf(stdout, "%s\n", summary)

	if eventBus != nil {
		report := RunReport{
			RunID:    runID,
			Dir:      cfg.Dir,
			Started:  started,
			Finished: finished,
			Outcomes: summary.Counts(),
		}
		publishCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := eventBus.Publish(publishCtx, subjectRuns, report); err != nil {
			logger.Printf("WARN publish run report: %v", err)
		}
	}

	return summary, nil
}
