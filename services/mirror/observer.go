package mirror

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mvnmirror/pkg/bus"
)

// Outcome classifies a reported state transition. Queued and Excluded apply
// to whole artifacts; the rest are terminal per-file states for one run.
type Outcome string

const (
	OutcomeQueued        Outcome = "queued"
	OutcomeExcluded      Outcome = "excluded"
	OutcomeSkippedLocal  Outcome = "skipped_local_match"
	OutcomeSkippedRemote Outcome = "skipped_remote_match"
	OutcomeUploaded      Outcome = "uploaded"
	OutcomeFailed        Outcome = "failed"
)

// Event is one reported transition of the sync run. Time is stamped when
// the transition is reported so bus consumers can order events.
type Event struct {
	Time    time.Time  `json:"time"`
	Outcome Outcome    `json:"outcome"`
	Coord   Coordinate `json:"coordinate"`
	Suffix  string     `json:"suffix,omitempty"`
	URL     string     `json:"url,omitempty"`
	Size    int64      `json:"size,omitempty"`
	Reason  string     `json:"reason,omitempty"`
}

// Sink consumes sync events. Implementations must be safe for concurrent
// use; workers report from multiple goroutines.
type Sink interface {
	Send(Event)
}

// CombineSinks fans events out to every non-nil sink in order.
func CombineSinks(sinks ...Sink) Sink {
	var combined multiSink
	for _, s := range sinks {
		if s != nil {
			combined = append(combined, s)
		}
	}
	return combined
}

type multiSink []Sink

func (m multiSink) Send(ev Event) {
	for _, s := range m {
		s.Send(ev)
	}
}

// NewConsoleSink returns a sink printing one human-readable line per
// outcome. Checksum companions (sha1/md5 suffixes) upload without a success
// line so runs over large trees stay readable.
func NewConsoleSink(w io.Writer) Sink {
	return &consoleSink{w: w}
}

type consoleSink struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *consoleSink) Send(ev Event) {
	if ev.Outcome == OutcomeUploaded && (strings.Contains(ev.Suffix, "sha1") || strings.Contains(ev.Suffix, "md5")) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch ev.Outcome {
	case OutcomeExcluded:
		fmt.Fprintf(s.w, "excluded %s (%s)\n", ev.Coord, ev.Reason)
	case OutcomeSkippedLocal:
		fmt.Fprintf(s.w, "skip %s (unchanged)\n", ev.URL)
	case OutcomeSkippedRemote:
		fmt.Fprintf(s.w, "skip %s (already in repository)\n", ev.URL)
	case OutcomeUploaded:
		fmt.Fprintf(s.w, "uploaded %s (%d bytes)\n", ev.URL, ev.Size)
	case OutcomeFailed:
		fmt.Fprintf(s.w, "failed %s: %s\n", ev.URL, ev.Reason)
	}
}

// NewMetricsSink registers outcome counters with reg and returns the sink
// feeding them.
func NewMetricsSink(reg prometheus.Registerer) Sink {
	s := &metricsSink{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mvnmirror_outcomes_total",
			Help: "Sync outcomes by kind.",
		}, []string{"outcome"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mvnmirror_uploaded_bytes_total",
			Help: "Bytes transferred to the repository.",
		}),
	}
	reg.MustRegister(s.outcomes, s.bytes)
	return s
}

type metricsSink struct {
	outcomes *prometheus.CounterVec
	bytes    prometheus.Counter
}

func (s *metricsSink) Send(ev Event) {
	s.outcomes.WithLabelValues(string(ev.Outcome)).Inc()
	if ev.Outcome == OutcomeUploaded {
		s.bytes.Add(float64(ev.Size))
	}
}

// NewBusSink publishes every event as JSON on the given subject. Publish
// failures are logged and dropped; eventing never blocks or fails a sync.
func NewBusSink(b *bus.Bus, subject string, logger *log.Logger) Sink {
	return &busSink{bus: b, subject: subject, logger: logger}
}

type busSink struct {
	bus     *bus.Bus
	subject string
	logger  *log.Logger
}

func (s *busSink) Send(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.bus.Publish(ctx, s.subject, ev); err != nil {
		s.logger.Printf("WARN publish %s event: %v", s.subject, err)
	}
}

// Summary aggregates run totals. It is itself a Sink so totals flow through
// the same path as every other consumer.
type Summary struct {
	Queued        atomic.Int64
	Excluded      atomic.Int64
	SkippedLocal  atomic.Int64
	SkippedRemote atomic.Int64
	Uploaded      atomic.Int64
	Failed        atomic.Int64
}

func (s *Summary) Send(ev Event) {
	switch ev.Outcome {
	case OutcomeQueued:
		s.Queued.Add(1)
	case OutcomeExcluded:
		s.Excluded.Add(1)
	case OutcomeSkippedLocal:
		s.SkippedLocal.Add(1)
	case OutcomeSkippedRemote:
		s.SkippedRemote.Add(1)
	case OutcomeUploaded:
		s.Uploaded.Add(1)
	case OutcomeFailed:
		s.Failed.Add(1)
	}
}

// Counts snapshots the totals keyed by outcome.
func (s *Summary) Counts() map[Outcome]int64 {
	return map[Outcome]int64{
		OutcomeQueued:        s.Queued.Load(),
		OutcomeExcluded:      s.Excluded.Load(),
		OutcomeSkippedLocal:  s.SkippedLocal.Load(),
		OutcomeSkippedRemote: s.SkippedRemote.Load(),
		OutcomeUploaded:      s.Uploaded.Load(),
		OutcomeFailed:        s.Failed.Load(),
	}
}

func (s *Summary) String() string {
	return fmt.Sprintf("uploaded %d, skipped %d unchanged, %d already remote, failed %d, excluded %d",
		s.Uploaded.Load(), s.SkippedLocal.Load(), s.SkippedRemote.Load(), s.Failed.Load(), s.Excluded.Load())
}
