package db

import (
	"encoding/json"
	"time"
)

// ===========================
// STAGE CATALOG MODELS
// ===========================

// Escalation levels attached to a stage tracking record
const (
	EscalationLevelNone   = 0 // on time, or overdue but below the first threshold
	EscalationLevelFirst  = 1
	EscalationLevelSecond = 2
)

// DefaultEscalationLevel1Days applies when a stage definition leaves the first threshold unset.
const DefaultEscalationLevel1Days = 1

// StageDefinition is one top-level step of the request pipeline.
// Code is the stable identifier referenced by trackings and never changes.
type StageDefinition struct {
	Code                 string    `json:"code"`
	Label                string    `json:"label"`
	Position             int       `json:"position"`
	ExpectedDurationDays int       `json:"expected_duration_days"` // 0 = open-ended, no SLA
	WarningThresholdDays int       `json:"warning_threshold_days"`
	EscalationLevel1Days int       `json:"escalation_level1_days"`
	EscalationLevel2Days int       `json:"escalation_level2_days"` // added on top of level 1
	IsActive             bool      `json:"is_active"`
	Description          string    `json:"description,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`

	// For API responses
	SubStages []SubStageDefinition `json:"sub_stages,omitempty"`
}

// HasSLA reports whether trackings of this stage get a due timestamp.
func (s StageDefinition) HasSLA() bool {
	return s.ExpectedDurationDays > 0
}

// Level1Threshold is the number of days past due that reaches escalation level 1.
func (s StageDefinition) Level1Threshold() int {
	if s.EscalationLevel1Days <= 0 {
		return DefaultEscalationLevel1Days
	}
	return s.EscalationLevel1Days
}

// Level2Threshold is additive: level 2 is reached EscalationLevel2Days after level 1.
func (s StageDefinition) Level2Threshold() int {
	return s.Level1Threshold() + s.EscalationLevel2Days
}

// SubStageDefinition is a finer-grained step owned by exactly one parent stage.
// Sub-stage codes are unique across the whole catalog.
type SubStageDefinition struct {
	Code                 string    `json:"code"`
	StageCode            string    `json:"stage_code"`
	Label                string    `json:"label"`
	Position             int       `json:"position"`
	ExpectedDurationDays int       `json:"expected_duration_days"`
	Description          string    `json:"description,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// ===========================
// TRACKING MODELS
// ===========================

// StageTracking is one activation of a stage for one request. Rows are never deleted.
type StageTracking struct {
	ID              string     `json:"id"`
	RequestID       string     `json:"request_id"`
	StageCode       string     `json:"stage_code"`
	StartedAt       time.Time  `json:"started_at"`
	DueAt           *time.Time `json:"due_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CompletedBy     string     `json:"completed_by,omitempty"`
	AssignedTo      string     `json:"assigned_to,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	IsDelayed       bool       `json:"is_delayed"`
	DelayDays       int        `json:"delay_days"`
	EscalationLevel int        `json:"escalation_level"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`

	// For API responses (populated via JOINs)
	StageLabel string `json:"stage_label,omitempty"`
}

// IsOpen reports whether the tracking has not been completed yet.
func (t StageTracking) IsOpen() bool {
	return t.CompletedAt == nil
}

// SubStageTracking mirrors StageTracking for a sub-stage inside an open parent tracking.
type SubStageTracking struct {
	ID              string          `json:"id"`
	StageTrackingID string          `json:"stage_tracking_id"`
	RequestID       string          `json:"request_id"`
	StageCode       string          `json:"stage_code"`
	SubStageCode    string          `json:"sub_stage_code"`
	StartedAt       time.Time       `json:"started_at"`
	DueAt           *time.Time      `json:"due_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	CompletedBy     string          `json:"completed_by,omitempty"`
	AssignedTo      string          `json:"assigned_to,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	ActionPayload   json.RawMessage `json:"action_payload,omitempty"` // stored, never interpreted
	IsDelayed       bool            `json:"is_delayed"`
	DelayDays       int             `json:"delay_days"`
	EscalationLevel int             `json:"escalation_level"` // always 0; sub-stages are marked delayed but never escalate
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// EscalationLogEntry is an immutable record of one escalation level increase.
type EscalationLogEntry struct {
	ID              string    `json:"id"`
	StageTrackingID string    `json:"stage_tracking_id"`
	RequestID       string    `json:"request_id"`
	StageCode       string    `json:"stage_code"`
	EscalationLevel int       `json:"escalation_level"`
	DelayDays       int       `json:"delay_days"`
	EscalatedFrom   string    `json:"escalated_from,omitempty"`
	EscalatedTo     string    `json:"escalated_to,omitempty"`
	Reason          string    `json:"reason"`
	CreatedAt       time.Time `json:"created_at"`
}

// ===========================
// REQUEST MODELS
// ===========================

type UpsertStageRequest struct {
	Label                string `json:"label" binding:"required"`
	Position             int    `json:"position" binding:"required,min=1"`
	ExpectedDurationDays int    `json:"expected_duration_days" binding:"min=0"`
	WarningThresholdDays int    `json:"warning_threshold_days" binding:"min=0"`
	EscalationLevel1Days int    `json:"escalation_level1_days" binding:"min=0"`
	EscalationLevel2Days int    `json:"escalation_level2_days" binding:"min=0"`
	IsActive             *bool  `json:"is_active,omitempty"`
	Description          string `json:"description"`
}

type UpsertSubStageRequest struct {
	Label                string `json:"label" binding:"required"`
	Position             int    `json:"position" binding:"required,min=1"`
	ExpectedDurationDays int    `json:"expected_duration_days" binding:"min=0"`
	Description          string `json:"description"`
}

type SetStageActiveRequest struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

type EnterStageRequest struct {
	AssignedTo string `json:"assigned_to"`
	Notes      string `json:"notes"`
}

type ExitStageRequest struct {
	CompletedBy string `json:"completed_by" binding:"required"`
	Notes       string `json:"notes"`
}

type CloseTrackingRequest struct {
	CompletedBy string `json:"completed_by" binding:"required"`
	Notes       string `json:"notes"`
}

type ReassignTrackingRequest struct {
	AssignedTo string `json:"assigned_to" binding:"required"`
}

type OpenSubStageRequest struct {
	StageCode  string `json:"stage_code"` // optional, defaults to the sub-stage's parent
	AssignedTo string `json:"assigned_to"`
	Notes      string `json:"notes"`
}

type CompleteSubStageRequest struct {
	CompletedBy   string          `json:"completed_by" binding:"required"`
	Notes         string          `json:"notes"`
	ActionPayload json.RawMessage `json:"action_payload,omitempty"`
}

// EscalationLogFilter narrows ListEscalations. Empty fields match everything.
type EscalationLogFilter struct {
	RequestID string
	StageCode string
	Limit     int
	Offset    int
}
