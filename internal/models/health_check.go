package models

import "time"

type HealthCheck struct {
	Status        string            `json:"status"`
	BackendStatus string            `json:"backend_status,omitempty"`
	LedgerStatus  string            `json:"ledger_status,omitempty"`
	Services      map[string]string `json:"services,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}
