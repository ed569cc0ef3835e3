package models

import "time"

// ServiceHealth is the result of probing a dependency over HTTP.
type ServiceHealth struct {
	Name       string
	Reachable  bool
	Status     string
	StatusCode int
	Error      string
	Elapsed    time.Duration
}

// ContextEntry is one active patient context reported by the vault.
type ContextEntry struct {
	Email     string
	PatientID string
	SetBy     string
	SetAt     *time.Time
}

// ContextEvent is one entry of the vault's context change history.
type ContextEvent struct {
	Action    string
	Email     string
	PatientID string
	Actor     string
	Timestamp *time.Time
}
