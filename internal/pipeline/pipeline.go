// Package pipeline wires the normalize -> enrich -> persist -> broadcast ->
// correlate flow behind a single channel-serialized worker, so that every
// alert observed by the store, the in-memory ring, and the broadcaster sees
// the same global order regardless of which ingest path produced it.
package pipeline

import (
	"context"

	"github.com/iff-guardian/siem-gateway/internal/alert"
	"github.com/iff-guardian/siem-gateway/internal/broadcast"
	"github.com/iff-guardian/siem-gateway/internal/correlate"
	"github.com/iff-guardian/siem-gateway/internal/enrich"
	"github.com/iff-guardian/siem-gateway/internal/store"
	"github.com/iff-guardian/siem-gateway/pkg/logger"
)

// inboxSize bounds how many commands can be queued waiting for the single
// worker; ingest, the tailer, and subscribe requests all send into this
// channel, which is what gives them a single total order.
const inboxSize = 1024

// Metrics is the subset of the Prometheus collector the pipeline updates.
type Metrics interface {
	RecordAlertIngested(source string)
	RecordAlertCorrelated()
	RecordStorePruned()
	SetBroadcastClients(n int)
}

// command is the single type flowing through the worker's channel, so that
// ingests and subscribe requests share one FIFO order instead of racing
// across two channels.
type command struct {
	raw        *alert.RawAlert
	canonical  *alert.CanonicalAlert
	subscribed chan *broadcast.Client
	replay     chan []alert.CanonicalAlert
}

// Config carries the tunables from spec.md §6 that shape the Orchestrator.
type Config struct {
	RetentionLimit int
	PruneInterval  int
	RingSize       int // also the startup replay batch size
}

// Orchestrator owns the pipeline's private state: the in-memory replay ring,
// the correlator, and the counter driving prune cadence. All of it is
// mutated only from the single worker goroutine started by Run.
type Orchestrator struct {
	store       *store.Store
	broadcaster *broadcast.Broadcaster
	correlator  *correlate.Correlator
	metrics     Metrics
	log         logger.Logger

	retentionLimit int
	pruneInterval  int
	ringSize       int

	inbox   chan command
	ring    []alert.CanonicalAlert
	counter int
}

// New constructs an Orchestrator. LoadRing should be called once at startup
// to seed the in-memory ring from the store before Run is started.
func New(st *store.Store, bc *broadcast.Broadcaster, corr *correlate.Correlator, m Metrics, cfg Config, log logger.Logger) *Orchestrator {
	return &Orchestrator{
		store:          st,
		broadcaster:    bc,
		correlator:     corr,
		metrics:        m,
		log:            log.With("component", "orchestrator"),
		retentionLimit: cfg.RetentionLimit,
		pruneInterval:  cfg.PruneInterval,
		ringSize:       cfg.RingSize,
		inbox:          make(chan command, inboxSize),
	}
}

// LoadRing reloads at most ringSize rows from the store into the in-memory
// replay ring. Store read errors on startup are logged; the ring starts
// empty in that case.
func (o *Orchestrator) LoadRing() {
	rows, err := o.store.RecentN(o.ringSize)
	if err != nil {
		o.log.Warn("failed to load recent alerts from store on startup", "error", err)
		return
	}
	o.ring = rows
}

// Ingest hands a raw alert (from the tailer, or any caller that does not need
// the id back) to the worker, which normalizes and enriches it before
// processing. It returns once the command is queued; it blocks only while
// the inbox is full.
func (o *Orchestrator) Ingest(source string, raw alert.RawAlert) {
	o.metrics.RecordAlertIngested(source)
	o.inbox <- command{raw: &raw}
}

// IngestCanonical hands an already-normalized, already-enriched alert to the
// worker. Since Normalize and Enrich are pure functions, a caller that needs
// the assigned id back immediately (the HTTP ingest handler, per spec.md §6)
// runs them synchronously and enqueues the result here instead of calling
// Ingest; the enqueue onto the worker's inbox remains the single
// serialization point, so global ordering is unaffected.
func (o *Orchestrator) IngestCanonical(source string, a alert.CanonicalAlert) {
	o.metrics.RecordAlertIngested(source)
	o.inbox <- command{canonical: &a}
}

// Subscribe registers a new streaming client and blocks until the worker has
// performed the replay, guaranteeing the client's replay batch precedes any
// broadcast accepted by the worker afterward — the atomic subscribe+replay
// step spec.md §4.E requires.
func (o *Orchestrator) Subscribe() *broadcast.Client {
	reply := make(chan *broadcast.Client, 1)
	o.inbox <- command{subscribed: reply}
	return <-reply
}

// Unsubscribe removes a client from the broadcaster. This does not need to
// route through the worker: it only ever shrinks the client set, so it
// cannot race with a replay in progress for that same client.
func (o *Orchestrator) Unsubscribe(c *broadcast.Client) {
	o.broadcaster.Unsubscribe(c)
}

// Replay returns the current in-memory ring, oldest first, routed through the
// worker so it reflects a consistent point in the alert order (the same
// batch GET /alerts and a concurrently subscribing client would observe).
func (o *Orchestrator) Replay() []alert.CanonicalAlert {
	reply := make(chan []alert.CanonicalAlert, 1)
	o.inbox <- command{replay: reply}
	return <-reply
}

// Run drives the single worker goroutine until ctx is cancelled. It is the
// only goroutine that ever touches o.ring, o.counter, the correlator's
// state, or appends to the store (retention pruning runs on its own
// goroutine, see prune) — this is the serialization point spec.md §5
// requires.
func (o *Orchestrator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-o.inbox:
			o.handle(cmd)
		}
	}
}

func (o *Orchestrator) handle(cmd command) {
	switch {
	case cmd.subscribed != nil:
		cmd.subscribed <- o.broadcaster.Subscribe(o.replayLocked())
	case cmd.replay != nil:
		cmd.replay <- o.replayLocked()
	case cmd.canonical != nil:
		o.process(*cmd.canonical)
	default:
		canonical := enrich.Enrich(alert.Normalize(*cmd.raw))
		o.process(canonical)
	}
}

// Process runs a single canonical alert through persist -> prune-check ->
// ring -> broadcast -> correlate, recursing into itself for any synthetic
// correlation alert the Correlator emits. Exposed for tests that want to
// drive the pipeline with an already-canonical alert.
func (o *Orchestrator) Process(a alert.CanonicalAlert) {
	o.process(a)
}

func (o *Orchestrator) process(a alert.CanonicalAlert) {
	if err := o.store.Append(a); err != nil {
		o.log.Warn("failed to persist alert", "error", err, "alert_id", a.ID)
	}

	o.counter++
	if o.counter%o.pruneInterval == 0 {
		// Pruning runs off the worker goroutine so a slow prune never delays
		// broadcast delivery for this or any later alert; it still observes
		// recency as of the moment it actually runs against the store.
		go o.prune()
	}

	o.ring = append(o.ring, a)
	if len(o.ring) > o.ringSize {
		o.ring = o.ring[len(o.ring)-o.ringSize:]
	}

	o.broadcaster.Broadcast(a)
	o.metrics.SetBroadcastClients(o.broadcaster.Count())

	if synthetic, ok := o.correlator.Process(a); ok {
		o.metrics.RecordAlertCorrelated()
		o.process(synthetic)
	}
}

// prune runs the store's retention prune off the worker goroutine. The store
// handle carries its own internal locking, so this is safe to run
// concurrently with the worker's own Append calls.
func (o *Orchestrator) prune() {
	if err := o.store.Prune(o.retentionLimit); err != nil {
		o.log.Warn("failed to prune store", "error", err)
		return
	}
	o.metrics.RecordStorePruned()
}

// replayLocked returns a copy of the current ring. Only ever called from the
// worker goroutine, so no additional locking is needed here.
func (o *Orchestrator) replayLocked() []alert.CanonicalAlert {
	out := make([]alert.CanonicalAlert, len(o.ring))
	copy(out, o.ring)
	return out
}
