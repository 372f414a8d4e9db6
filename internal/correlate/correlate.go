// Package correlate implements the sliding-window threshold detector that
// synthesizes a "correlation" alert from a burst of alerts sharing a key.
package correlate

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iff-guardian/siem-gateway/internal/alert"
	"github.com/iff-guardian/siem-gateway/internal/enrich"
)

// event is a single (time, ip, agent name) observation kept in history.
type event struct {
	at        int64
	ip        string
	agentName string
}

// Correlator holds the in-memory sliding window and per-key cooldowns. It is
// never persisted: on restart, history is empty and cooldowns are cleared.
type Correlator struct {
	mu sync.Mutex

	windowSeconds int64
	threshold     int

	history   []event
	cooldowns map[string]int64
}

// New builds a Correlator with the given window length and firing threshold.
func New(windowSeconds, threshold int) *Correlator {
	return &Correlator{
		windowSeconds: int64(windowSeconds),
		threshold:     threshold,
		cooldowns:     make(map[string]int64),
	}
}

// Process evaluates a canonical alert against the sliding window and
// returns a synthetic correlation alert if a key has just crossed threshold.
// Correlation alerts never recurse: they are rejected up front.
func (c *Correlator) Process(a alert.CanonicalAlert) (alert.CanonicalAlert, bool) {
	if a.Source == alert.SourceCorrelation {
		return alert.CanonicalAlert{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC().Unix()
	c.history = append(c.history, event{at: now, ip: a.Agent.IP, agentName: a.Agent.Name})
	c.evict(now)

	ipCount := 0
	nameCount := 0
	for _, e := range c.history {
		if e.ip == a.Agent.IP {
			ipCount++
		}
		if e.agentName == a.Agent.Name {
			nameCount++
		}
	}

	if key, count, keyType, ok := c.pickKey(a.Agent.IP, ipCount, a.Agent.Name, nameCount, now); ok {
		c.cooldowns[key] = now
		return c.buildSynthetic(keyType, key, count, now), true
	}

	return alert.CanonicalAlert{}, false
}

// pickKey evaluates the IP key before the agent-name key, per the tie-break
// rule: at most one synthetic alert is emitted per input alert.
func (c *Correlator) pickKey(ip string, ipCount int, name string, nameCount int, now int64) (key string, count int, keyType string, ok bool) {
	if ipCount >= c.threshold && c.offCooldown(ip, now) {
		return ip, ipCount, "IP Address", true
	}
	if nameCount >= c.threshold && c.offCooldown(name, now) {
		return name, nameCount, "Agent Name", true
	}
	return "", 0, "", false
}

func (c *Correlator) offCooldown(key string, now int64) bool {
	last, fired := c.cooldowns[key]
	return !fired || last <= now-c.windowSeconds
}

// evict drops history events that have fallen out of the sliding window.
// Must be called with mu held.
func (c *Correlator) evict(now int64) {
	cutoff := now - c.windowSeconds
	kept := c.history[:0]
	for _, e := range c.history {
		if e.at > cutoff {
			kept = append(kept, e)
		}
	}
	c.history = kept
}

func (c *Correlator) buildSynthetic(keyType, key string, count int, now int64) alert.CanonicalAlert {
	mitre := enrich.CorrelationMITRE()
	return alert.CanonicalAlert{
		ID:          uuid.NewString(),
		Timestamp:   time.Unix(now, 0).UTC().Format(time.RFC3339),
		Source:      alert.SourceCorrelation,
		Agent:       alert.Agent{Name: "SIEM Engine", IP: "127.0.0.1"},
		Severity:    10,
		Level:       "high",
		Category:    alert.SourceCorrelation,
		Title:       fmt.Sprintf("Suspicious Activity Detected: %s", keyType),
		Description: fmt.Sprintf("Observed %d events for %s %q within the last %d seconds", count, keyType, key, c.windowSeconds),
		Raw: map[string]interface{}{
			"type":            "threshold",
			"correlation_key": key,
			"count":           count,
			"window":          c.windowSeconds,
		},
		MITRE: &mitre,
	}
}
