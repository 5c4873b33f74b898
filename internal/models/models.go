package models

import (
	"github.com/kartoza/renewal-predictor/internal/journal"
	"github.com/kartoza/renewal-predictor/internal/scheduler"
)

// InfoResponse describes the running service and its model
type InfoResponse struct {
	Version        string          `json:"version"`
	Route          string          `json:"route"`
	ModelKind      string          `json:"model_kind"`
	IDColumn       string          `json:"id_column"`
	Features       []string        `json:"features"`
	ContentTypes   []string        `json:"content_types"`
	Pool           scheduler.Stats `json:"pool"`
	JournalEnabled bool            `json:"journal_enabled"`
}

// OutcomesResponse lists recent part outcomes from the journal
type OutcomesResponse struct {
	Outcomes []journal.Entry `json:"outcomes"`
}

// ErrorResponse is the body of JSON error replies
type ErrorResponse struct {
	Error string `json:"error"`
}
