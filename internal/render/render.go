// Package render turns verdicts and session state into display text shared
// by the web page, the JSON API and the terminal console.
package render

import (
	"fmt"

	"wafshield/internal/model"
	"wafshield/internal/session"
)

const (
	Title    = "Network Traffic Analysis Console"
	Subtitle = "Real-time Anomaly Detection System (WAF Engine)"

	SourceRuleMessage  = "Heuristic Rule Engine (Abnormal Data Volume)"
	SourceModelMessage = "ML Anomaly Model"
)

type Verdict struct {
	Suspicious      bool     `json:"suspicious"`
	Headline        string   `json:"headline"`
	Message         string   `json:"message"`
	SourceMessage   string   `json:"source_message"`
	ConfidenceLabel string   `json:"confidence_label"`
	Confidence      float64  `json:"confidence"`
	ConfidenceText  string   `json:"confidence_text"`
	RiskLevel       string   `json:"risk_level"`
	RiskDelta       string   `json:"risk_delta"`
	ActionsTitle    string   `json:"actions_title"`
	ActionsIntro    string   `json:"actions_intro"`
	Actions         []string `json:"actions"`
}

type Status struct {
	Engine    string `json:"engine"`
	Status    string `json:"status"`
	Threshold string `json:"threshold"`
	Online    bool   `json:"online"`
}

type Field struct {
	Key   string `json:"key"`
	Group string `json:"group"`
	Label string `json:"label"`
	Value int64  `json:"value"`
}

type Page struct {
	Title     string   `json:"title"`
	Subtitle  string   `json:"subtitle"`
	Status    Status   `json:"status"`
	Fields    []Field  `json:"fields"`
	Error     string   `json:"error,omitempty"`
	Verdict   *Verdict `json:"verdict,omitempty"`
	SessionID string   `json:"session_id"`
}

// Percent formats a probability the way the console shows it.
func Percent(p float64) string {
	return fmt.Sprintf("%.2f%%", p*100)
}

func SourceMessage(src model.Source) string {
	if src == model.SourceRule {
		return SourceRuleMessage
	}
	return SourceModelMessage
}

func FromVerdict(v model.Verdict) Verdict {
	if v.IsSuspicious {
		return Verdict{
			Suspicious:      true,
			Headline:        "THREAT DETECTED",
			Message:         "Suspicious Activity Flagged in Network Request.",
			SourceMessage:   SourceMessage(v.Source),
			ConfidenceLabel: "Threat Confidence",
			Confidence:      v.Confidence,
			ConfidenceText:  Percent(v.Confidence),
			RiskLevel:       "CRITICAL",
			RiskDelta:       "High Risk",
			ActionsTitle:    "View Recommended Actions (High Priority)",
			ActionsIntro:    "Based On Analysis Indicating High Data Volume Anomalies:",
			Actions: []string{
				"Immediate Block: Block The Source IP Address.",
				"Check for Data Exfiltration: Investigate Outbound Transfers.",
				"Apply Rate Limiting: Mitigate Potential DDoS Attacks.",
				"Notify SOC: Elevate Incident To Security Operations Center.",
			},
		}
	}
	safe := 1 - v.Confidence
	return Verdict{
		Headline:        "TRAFFIC IS SAFE",
		Message:         "No Anomalies Detected. Request Authorized.",
		SourceMessage:   SourceMessage(v.Source),
		ConfidenceLabel: "Safety Confidence",
		Confidence:      safe,
		ConfidenceText:  Percent(safe),
		RiskLevel:       "LOW",
		RiskDelta:       "Safe",
		ActionsTitle:    "View System Actions (Safe Traffic)",
		ActionsIntro:    "Standard Protocols:",
		Actions: []string{
			"Allow Traffic: Permit Packet To Proceed.",
			"Log Event: Record Transaction For Auditing.",
			"No Action Required: Continue Routine Monitoring.",
		},
	}
}

func SystemStatus(available bool) Status {
	st := Status{
		Engine:    "Hybrid (AI+Heuristic)",
		Threshold: "50%",
		Online:    available,
		Status:    "Online",
	}
	if !available {
		st.Status = "Unavailable"
	}
	return st
}

func Fields(in model.TrafficSample) []Field {
	return []Field{
		{Key: "bytes_in", Group: "Inbound Traffic", Label: "Bytes Received", Value: in.BytesIn},
		{Key: "bytes_out", Group: "Outbound Traffic", Label: "Bytes Sent", Value: in.BytesOut},
		{Key: "dst_port", Group: "Target Port", Label: "Destination Port", Value: in.DstPort},
		{Key: "time_taken", Group: "Latency", Label: "Response Time (ms)", Value: in.TimeTaken},
	}
}

// FromSnapshot builds the page for a session. The result section is present
// only after a completed scan.
func FromSnapshot(snap session.Snapshot, available bool) Page {
	p := Page{
		Title:     Title,
		Subtitle:  Subtitle,
		Status:    SystemStatus(available),
		Fields:    Fields(snap.Inputs),
		Error:     snap.LastError,
		SessionID: snap.ID,
	}
	if snap.ScanDone && snap.Verdict != nil {
		v := FromVerdict(*snap.Verdict)
		p.Verdict = &v
	}
	return p
}
