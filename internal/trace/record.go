// Package trace decodes request-trace records and turns them into metric
// events: the synthesised per-invocation defaults followed by the explicit
// events published on the metrics diagnostics channel.
package trace

import (
	"encoding/json"
)

// Trigger names for the event that started a trace.
const (
	TriggerFetch     = "fetch"
	TriggerScheduled = "scheduled"
	TriggerQueue     = "queue"
	TriggerEmail     = "email"
	TriggerAlarm     = "alarm"
	TriggerUnknown   = "unknown"
)

// ScriptVersion identifies the deployed script that produced a trace.
type ScriptVersion struct {
	ID  string `json:"id"`
	Tag string `json:"tag"`
}

// Diagnostic is one message published to a diagnostics channel during the
// trace.
type Diagnostic struct {
	Channel   string          `json:"channel"`
	Message   json.RawMessage `json:"message"`
	Timestamp int64           `json:"timestamp"`
}

// Record is one completed request trace.
type Record struct {
	ScriptName     string         `json:"scriptName"`
	ScriptVersion  *ScriptVersion `json:"scriptVersion,omitempty"`
	Outcome        string         `json:"outcome"`
	EventTimestamp int64          `json:"eventTimestamp"`
	// CPUTime and WallTime are in milliseconds.
	CPUTime  float64 `json:"cpuTime"`
	WallTime float64 `json:"wallTime"`
	// Event describes what triggered the trace. Only its shape is used.
	Event                    map[string]json.RawMessage `json:"event,omitempty"`
	DiagnosticsChannelEvents []Diagnostic               `json:"diagnosticsChannelEvents,omitempty"`
}

// DecodeRecords decodes a JSON array of trace records.
func DecodeRecords(data []byte) ([]Record, error) {
	var records []Record

	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}

	return records, nil
}

// Trigger reports what kind of event started the trace. An explicit
// string "type" field wins over shape detection.
func (r Record) Trigger() string {
	if raw, ok := r.Event["type"]; ok {
		var t string
		if err := json.Unmarshal(raw, &t); err == nil && t != "" {
			return t
		}
	}

	switch {
	case r.hasEventField("request"):
		return TriggerFetch
	case r.hasEventField("cron"):
		return TriggerScheduled
	case r.hasEventField("queue"):
		return TriggerQueue
	case r.hasEventField("mailFrom"):
		return TriggerEmail
	case r.hasEventField("scheduledTime"):
		return TriggerAlarm
	default:
		return TriggerUnknown
	}
}

// Version returns the script version tag, falling back to its ID.
func (r Record) Version() string {
	if r.ScriptVersion == nil {
		return ""
	}

	if r.ScriptVersion.Tag != "" {
		return r.ScriptVersion.Tag
	}

	return r.ScriptVersion.ID
}

func (r Record) hasEventField(name string) bool {
	raw, ok := r.Event[name]
	if !ok {
		return false
	}

	return string(raw) != "null"
}
