package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iff-guardian/siem-gateway/internal/alert"
	"github.com/iff-guardian/siem-gateway/internal/broadcast"
	"github.com/iff-guardian/siem-gateway/internal/correlate"
	"github.com/iff-guardian/siem-gateway/internal/store"
	"github.com/iff-guardian/siem-gateway/pkg/logger"
)

// noopMetrics satisfies the pipeline's Metrics interface without touching
// Prometheus, so tests don't double-register collectors across packages.
type noopMetrics struct{}

func (noopMetrics) RecordAlertIngested(string) {}
func (noopMetrics) RecordAlertCorrelated()      {}
func (noopMetrics) RecordStorePruned()          {}
func (noopMetrics) SetBroadcastClients(int)     {}

func newTestOrchestrator(t *testing.T, cfg Config) (*Orchestrator, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "alerts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	bc := broadcast.New(logger.NewNoop())
	corr := correlate.New(300, 5)
	o := New(st, bc, corr, noopMetrics{}, cfg, logger.NewNoop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go o.Run(ctx)

	return o, st
}

func waitForRingLen(t *testing.T, o *Orchestrator, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if len(o.Replay()) >= n {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("ring never reached length %d", n)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestOrchestrator_IngestPersistsAndBroadcasts(t *testing.T) {
	o, st := newTestOrchestrator(t, Config{RetentionLimit: 100, PruneInterval: 100, RingSize: 50})

	client := o.Subscribe()
	defer o.Unsubscribe(client)

	o.Ingest(alert.SourceWazuh, alert.RawAlert{"full_log": "hello"})

	select {
	case got := <-client.Send:
		assert.Equal(t, "hello", got.Description)
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the broadcast alert")
	}

	waitForRingLen(t, o, 1)
	rows, err := st.RecentN(10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "hello", rows[0].Description)
}

func TestOrchestrator_IngestCanonicalPersistsPreAssignedID(t *testing.T) {
	o, st := newTestOrchestrator(t, Config{RetentionLimit: 100, PruneInterval: 100, RingSize: 50})

	canonical := alert.CanonicalAlert{ID: "fixed-id", Timestamp: "2025-01-01T00:00:00Z", Description: "pre-normalized"}
	o.IngestCanonical(alert.SourceWazuh, canonical)

	waitForRingLen(t, o, 1)
	rows, err := st.RecentN(10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "fixed-id", rows[0].ID, "IngestCanonical must not reassign the id the caller already generated")
}

func TestOrchestrator_S6ReplayOrderingPrecedesLiveBroadcast(t *testing.T) {
	o, _ := newTestOrchestrator(t, Config{RetentionLimit: 1000, PruneInterval: 1000, RingSize: 50})

	for i := 0; i < 60; i++ {
		o.Ingest(alert.SourceWazuh, alert.RawAlert{"full_log": fmt.Sprintf("alert-%d", i)})
	}
	waitForRingLen(t, o, 50)

	client := o.Subscribe()
	defer o.Unsubscribe(client)

	o.Ingest(alert.SourceWazuh, alert.RawAlert{"full_log": "post-subscribe"})

	var received []string
	for i := 0; i < 51; i++ {
		select {
		case a := <-client.Send:
			received = append(received, a.Description)
		case <-time.After(time.Second):
			t.Fatalf("only received %d of 51 expected alerts", len(received))
		}
	}

	require.Len(t, received, 51)
	assert.Equal(t, "alert-10", received[0], "replay batch is the most recent 50, oldest first")
	assert.Equal(t, "alert-59", received[49])
	assert.Equal(t, "post-subscribe", received[50], "live broadcast must arrive after the full replay batch")
}

func TestOrchestrator_CorrelationSynthesizesAndDoesNotRecurse(t *testing.T) {
	o, _ := newTestOrchestrator(t, Config{RetentionLimit: 1000, PruneInterval: 1000, RingSize: 50})

	client := o.Subscribe()
	defer o.Unsubscribe(client)

	for i := 0; i < 5; i++ {
		o.Ingest(alert.SourceWazuh, alert.RawAlert{
			"agent": map[string]interface{}{"name": "h1", "ip": "10.0.0.9"},
		})
	}

	var sawCorrelation bool
	for i := 0; i < 6; i++ {
		select {
		case a := <-client.Send:
			if a.Source == alert.SourceCorrelation {
				sawCorrelation = true
			}
		case <-time.After(time.Second):
			t.Fatalf("did not receive all 5 raw alerts plus the correlation alert")
		}
	}
	assert.True(t, sawCorrelation, "5th alert sharing an IP must trigger a correlation alert")

	// The correlation alert itself never recurses back through the
	// correlator: no 7th event should appear.
	select {
	case extra := <-client.Send:
		t.Fatalf("unexpected extra broadcast: %+v", extra)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestOrchestrator_PruneRunsOnInterval(t *testing.T) {
	o, st := newTestOrchestrator(t, Config{RetentionLimit: 3, PruneInterval: 5, RingSize: 50})

	// Each alert has its own agent, so no correlation alert adds a sixth row
	// after the prune that the fifth alert starts.
	for i := 0; i < 5; i++ {
		o.Ingest(alert.SourceWazuh, alert.RawAlert{
			"full_log": fmt.Sprintf("a-%d", i),
			"agent":    map[string]interface{}{"name": fmt.Sprintf("h%d", i), "ip": fmt.Sprintf("10.0.1.%d", i)},
		})
	}
	waitForRingLen(t, o, 5)

	require.Eventually(t, func() bool {
		rows, err := st.RecentN(100)
		return err == nil && len(rows) <= 3
	}, 2*time.Second, 20*time.Millisecond, "store should be pruned down to the retention limit")
}

func TestOrchestrator_LoadRingSeedsFromStore(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "alerts.db"))
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.Append(alert.CanonicalAlert{ID: "seed", Timestamp: "2025-01-01T00:00:00Z"}))

	bc := broadcast.New(logger.NewNoop())
	corr := correlate.New(300, 5)
	o := New(st, bc, corr, noopMetrics{}, Config{RetentionLimit: 10, PruneInterval: 10, RingSize: 50}, logger.NewNoop())
	o.LoadRing()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	replay := o.Replay()
	require.Len(t, replay, 1)
	assert.Equal(t, "seed", replay[0].ID)
}
