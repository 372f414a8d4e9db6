package alert

import "github.com/google/uuid"

// Normalize maps a heterogeneous RawAlert into the canonical schema. It never
// fails: every field missing from raw gets the default named in the schema.
// The upstream's own id, if any, is not reused — it survives only inside raw.
func Normalize(raw RawAlert) CanonicalAlert {
	rule, _ := raw["rule"].(map[string]interface{})

	severity := 0
	if rule != nil {
		severity = toInt(rule["level"])
	}

	category := "unknown"
	if rule != nil {
		if groups, ok := rule["groups"].([]interface{}); ok && len(groups) > 0 {
			if first, ok := groups[0].(string); ok && first != "" {
				category = first
			}
		}
	}

	title := ""
	if rule != nil {
		title, _ = rule["description"].(string)
	}

	description, _ := raw["full_log"].(string)

	timestamp, _ := raw["timestamp"].(string)
	if timestamp == "" {
		timestamp = NowUTC()
	}

	agentDoc, _ := raw["agent"].(map[string]interface{})
	agentName := "Unknown"
	agentIP := "0.0.0.0"
	if agentDoc != nil {
		if name, ok := agentDoc["name"].(string); ok && name != "" {
			agentName = name
		}
		if ip, ok := agentDoc["ip"].(string); ok && ip != "" {
			agentIP = ip
		}
	}

	return CanonicalAlert{
		ID:          uuid.NewString(),
		Timestamp:   timestamp,
		Source:      SourceWazuh,
		Agent:       Agent{Name: agentName, IP: agentIP},
		Severity:    severity,
		Level:       LevelForSeverity(severity),
		Category:    category,
		Title:       title,
		Description: description,
		Raw:         raw,
	}
}

// toInt extracts an integer from a JSON-decoded value that may surface as
// float64, int, or int64. Any other type, including a numeric string, yields 0.
func toInt(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	default:
		return 0
	}
}
