package models

import (
	"time"
)

// Job lifecycle states. Transitions only move forward:
// pending -> processing -> completed|failed.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Ingredient risk tiers returned by the inference service. Anything outside
// this set is a contract violation and fails the job.
const (
	ClassificationHighRisk     = "high_risk"
	ClassificationModerateRisk = "moderate_risk"
	ClassificationHealthy      = "healthy"
)

// ValidClassification reports whether c belongs to the closed risk-tier set.
func ValidClassification(c string) bool {
	switch c {
	case ClassificationHighRisk, ClassificationModerateRisk, ClassificationHealthy:
		return true
	}
	return false
}

// Job is the unit of asynchronous analysis work, stored as one JSON document
// per id. Result and Error are mutually exclusive and only set in terminal
// states. Timestamp is the last-mutation time and drives expiry.
type Job struct {
	ID        string          `json:"id"`
	Status    string          `json:"status"`
	Result    *AnalysisResult `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Terminal reports whether the job reached completed or failed.
func (j Job) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// AnalysisResult is the normalized payload produced by the pipeline.
// Ingredient order is whatever the inference service produced.
type AnalysisResult struct {
	Ingredients []Ingredient `json:"ingredients"`
}

// Ingredient is one classified label entry with supporting citations.
type Ingredient struct {
	Name           string  `json:"name"`
	Classification string  `json:"classification"`
	Explanation    string  `json:"explanation"`
	Papers         []Paper `json:"papers"`
}

// Paper is a single literature citation.
type Paper struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}
