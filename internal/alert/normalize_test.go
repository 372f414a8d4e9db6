package alert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelForSeverity_Boundaries(t *testing.T) {
	cases := []struct {
		severity int
		want     string
	}{
		{0, "low"},
		{4, "low"},
		{5, "medium"},
		{6, "medium"},
		{7, "high"},
		{11, "high"},
		{12, "critical"},
		{15, "critical"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, LevelForSeverity(tc.severity), "severity %d", tc.severity)
	}
}

func TestNormalize_S1BasicIngest(t *testing.T) {
	raw := RawAlert{
		"rule": map[string]interface{}{
			"level":       float64(6),
			"groups":      []interface{}{"sshd"},
			"description": "SSH login",
		},
		"agent":     map[string]interface{}{"name": "h1", "ip": "10.0.0.1"},
		"timestamp": "2025-01-01T00:00:00Z",
		"full_log":  "sshd[1234]: login accepted",
	}

	got := Normalize(raw)

	require.NotEmpty(t, got.ID)
	assert.Equal(t, 6, got.Severity)
	assert.Equal(t, "medium", got.Level)
	assert.Equal(t, "sshd", got.Category)
	assert.Equal(t, SourceWazuh, got.Source)
	assert.Equal(t, "h1", got.Agent.Name)
	assert.Equal(t, "10.0.0.1", got.Agent.IP)
	assert.Equal(t, "2025-01-01T00:00:00Z", got.Timestamp)
	assert.Equal(t, "SSH login", got.Title)
	assert.Equal(t, map[string]interface{}(raw), got.Raw)
}

func TestNormalize_S2MissingFields(t *testing.T) {
	got := Normalize(RawAlert{})

	require.NotEmpty(t, got.ID, "id must always be generated")
	assert.Equal(t, 0, got.Severity)
	assert.Equal(t, "low", got.Level)
	assert.Equal(t, "unknown", got.Category)
	assert.Equal(t, Agent{Name: "Unknown", IP: "0.0.0.0"}, got.Agent)
	assert.NotEmpty(t, got.Timestamp, "timestamp defaults to current UTC when absent")
	assert.Nil(t, got.MITRE)
}

func TestNormalize_FreshIDIgnoresUpstreamID(t *testing.T) {
	raw := RawAlert{"id": "upstream-123"}
	got := Normalize(raw)

	assert.NotEqual(t, "upstream-123", got.ID)
	assert.Equal(t, "upstream-123", got.Raw["id"])
}

func TestNormalize_NeverPanicsOnGarbageTypes(t *testing.T) {
	raw := RawAlert{
		"rule":      "not-a-map",
		"agent":     []interface{}{"not", "a", "map"},
		"timestamp": 12345,
		"full_log":  map[string]interface{}{"nested": true},
	}

	assert.NotPanics(t, func() {
		got := Normalize(raw)
		assert.Equal(t, "unknown", got.Category)
		assert.Equal(t, Agent{Name: "Unknown", IP: "0.0.0.0"}, got.Agent)
	})
}

func TestNormalize_IDsAreUnique(t *testing.T) {
	a := Normalize(RawAlert{})
	b := Normalize(RawAlert{})
	assert.NotEqual(t, a.ID, b.ID)
}
