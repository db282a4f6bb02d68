package model

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Severity is the closed severity enumeration carried by every event.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Severities lists the enumeration in ascending order.
var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

const (
	DefaultProtocol = "TCP"
	DefaultAction   = "logged"

	MinSeverityScore = 1
	MaxSeverityScore = 10
)

// ParseSeverity normalizes s and reports whether it names a known severity.
func ParseSeverity(s string) (Severity, bool) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	return sev, sev.Valid()
}

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Ordinal is the position of s in Severities, or -1 when s is unknown.
func (s Severity) Ordinal() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	}
	return -1
}

// Severe reports whether s counts towards "severe" (critical or high) figures.
func (s Severity) Severe() bool {
	return s == SeverityCritical || s == SeverityHigh
}

// -------------------- SECURITY EVENT --------------------

// SecurityEvent is one immutable security log record. Once appended to the
// store none of its fields change.
type SecurityEvent struct {
	ID              int64           `json:"id" ch:"id"`                               // store sequence id
	EventID         uuid.UUID       `json:"event_id" ch:"event_id"`                   // globally unique
	Timestamp       time.Time       `json:"timestamp" ch:"timestamp"`                 // UTC, may be back-dated
	SourceIP        string          `json:"source_ip" ch:"source_ip"`
	DestinationIP   string          `json:"destination_ip" ch:"destination_ip"`
	SourcePort      *int            `json:"source_port,omitempty" ch:"source_port"`
	DestinationPort *int            `json:"destination_port,omitempty" ch:"destination_port"`
	Protocol        string          `json:"protocol" ch:"protocol"`
	EventType       string          `json:"event_type" ch:"event_type"`
	Severity        Severity        `json:"severity" ch:"severity"`
	SeverityScore   int             `json:"severity_score" ch:"severity_score"`
	Description     string          `json:"description" ch:"description"`
	ThreatCategory  string          `json:"threat_category,omitempty" ch:"threat_category"` // empty means null
	ActionTaken     string          `json:"action_taken" ch:"action_taken"`
	UserAgent       string          `json:"user_agent,omitempty" ch:"user_agent"`
	GeoCountry      string          `json:"geo_country,omitempty" ch:"geo_country"` // empty means null
	RawLog          json.RawMessage `json:"raw_log,omitempty" ch:"raw_log"`
	CreatedAt       time.Time       `json:"created_at" ch:"created_at"` // insertion time
}

// HasThreatCategory reports whether the nullable threat category is set.
func (e *SecurityEvent) HasThreatCategory() bool {
	return e.ThreatCategory != ""
}

// HasCountry reports whether the nullable country code is set.
func (e *SecurityEvent) HasCountry() bool {
	return e.GeoCountry != ""
}

// Normalize applies defaults and canonical forms before validation. It is
// called by the store on append and never after.
func (e *SecurityEvent) Normalize() {
	e.SourceIP = strings.TrimSpace(e.SourceIP)
	e.DestinationIP = strings.TrimSpace(e.DestinationIP)
	e.EventType = strings.TrimSpace(e.EventType)
	e.Severity = Severity(strings.ToLower(strings.TrimSpace(string(e.Severity))))
	e.ThreatCategory = strings.TrimSpace(e.ThreatCategory)
	e.GeoCountry = strings.ToUpper(strings.TrimSpace(e.GeoCountry))
	if e.Protocol == "" {
		e.Protocol = DefaultProtocol
	}
	if e.ActionTaken == "" {
		e.ActionTaken = DefaultAction
	}
	if e.EventID == uuid.Nil {
		e.EventID = uuid.New()
	}
	if !e.Timestamp.IsZero() {
		e.Timestamp = e.Timestamp.UTC()
	}
}

// Validate checks the record invariants: known severity, score within
// [1,10] and presence of the required fields.
func (e *SecurityEvent) Validate() error {
	switch {
	case e.Timestamp.IsZero():
		return NewValidationError("timestamp", "is required")
	case e.SourceIP == "":
		return NewValidationError("source_ip", "is required")
	case e.DestinationIP == "":
		return NewValidationError("destination_ip", "is required")
	case e.EventType == "":
		return NewValidationError("event_type", "is required")
	case !e.Severity.Valid():
		return NewValidationError("severity", "must be one of low, medium, high, critical")
	case e.SeverityScore < MinSeverityScore || e.SeverityScore > MaxSeverityScore:
		return NewValidationError("severity_score", "must be between 1 and 10")
	case e.Description == "":
		return NewValidationError("description", "is required")
	}
	if e.SourcePort != nil && (*e.SourcePort < 0 || *e.SourcePort > 65535) {
		return NewValidationError("source_port", "out of range")
	}
	if e.DestinationPort != nil && (*e.DestinationPort < 0 || *e.DestinationPort > 65535) {
		return NewValidationError("destination_port", "out of range")
	}
	return nil
}
