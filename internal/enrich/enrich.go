// Package enrich attaches MITRE ATT&CK threat-framework tags to canonical
// alerts via a static, table-driven lookup.
package enrich

import (
	"strings"

	"github.com/iff-guardian/siem-gateway/internal/alert"
)

// mitreTable is the authoritative category -> threat-framework mapping.
var mitreTable = map[string]alert.MITRE{
	"authentication_failed": {Tactic: "Credential Access", TechniqueID: "T1110", TechniqueName: "Brute Force"},
	"invalid_login":         {Tactic: "Credential Access", TechniqueID: "T1110", TechniqueName: "Brute Force"},
	"sshd":                  {Tactic: "Initial Access", TechniqueID: "T1078", TechniqueName: "Valid Accounts"},
	"sudo":                  {Tactic: "Privilege Escalation", TechniqueID: "T1078", TechniqueName: "Valid Accounts"},
	"shell":                 {Tactic: "Execution", TechniqueID: "T1059", TechniqueName: "Command and Scripting Interpreter"},
	"script":                {Tactic: "Execution", TechniqueID: "T1059", TechniqueName: "Command and Scripting Interpreter"},
	"process_creation":      {Tactic: "Execution", TechniqueID: "T1204", TechniqueName: "User Execution"},
	"correlation":           {Tactic: "Defense Evasion", TechniqueID: "T1562", TechniqueName: "Impair Defenses"},
	"syslog":                {Tactic: "Discovery", TechniqueID: "T1082", TechniqueName: "System Information Discovery"},
	"web":                   {Tactic: "Initial Access", TechniqueID: "T1190", TechniqueName: "Exploit Public-Facing Application"},
}

// CorrelationMITRE is the tag the Correlator attaches explicitly to its own
// synthetic alerts.
func CorrelationMITRE() alert.MITRE {
	return mitreTable["correlation"]
}

// Enrich returns a copy of the given alert with a mitre tag attached, if one
// can be found. It is pure: the same input always yields the same output.
func Enrich(a alert.CanonicalAlert) alert.CanonicalAlert {
	if tag, ok := mitreTable[strings.ToLower(a.Category)]; ok {
		t := tag
		a.MITRE = &t
		return a
	}

	haystack := strings.ToLower(a.Title + " " + a.Description)
	switch {
	case strings.Contains(haystack, "ssh") && (strings.Contains(haystack, "fail") || strings.Contains(haystack, "password")):
		t := mitreTable["authentication_failed"]
		a.MITRE = &t
	case strings.Contains(haystack, "powershell") || strings.Contains(haystack, "cmd.exe"):
		t := mitreTable["shell"]
		a.MITRE = &t
	}

	return a
}
