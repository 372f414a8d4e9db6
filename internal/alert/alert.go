// Package alert defines the canonical alert schema and the normalization
// step that maps heterogeneous upstream documents into it.
package alert

import "time"

// Agent identifies the monitored host an alert originated from.
type Agent struct {
	Name string `json:"name"`
	IP   string `json:"ip"`
}

// MITRE is the threat-framework tag attached by the enricher.
type MITRE struct {
	Tactic        string `json:"tactic"`
	TechniqueID   string `json:"technique_id"`
	TechniqueName string `json:"technique_name"`
}

// RawAlert is the arbitrary nested document produced by an upstream source.
// It is decoded loosely so that Normalizer never fails on missing fields.
type RawAlert map[string]interface{}

// CanonicalAlert is the unit that flows through the rest of the pipeline.
type CanonicalAlert struct {
	ID          string                 `json:"id"`
	Timestamp   string                 `json:"timestamp"`
	Source      string                 `json:"source"`
	Agent       Agent                  `json:"agent"`
	Severity    int                    `json:"severity"`
	Level       string                 `json:"level"`
	Category    string                 `json:"category"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Raw         map[string]interface{} `json:"raw"`
	MITRE       *MITRE                 `json:"mitre,omitempty"`
}

const (
	SourceWazuh       = "wazuh"
	SourceCorrelation = "correlation"
)

// Level thresholds from the severity scale, per the boundary cases:
// 4 -> low, 5/6 -> medium, 7-11 -> high, >=12 -> critical.
func LevelForSeverity(severity int) string {
	switch {
	case severity >= 12:
		return "critical"
	case severity >= 7:
		return "high"
	case severity >= 5:
		return "medium"
	default:
		return "low"
	}
}

// NowUTC returns the current time formatted as an ISO-8601 UTC string, the
// timestamp representation used throughout the pipeline.
func NowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}
