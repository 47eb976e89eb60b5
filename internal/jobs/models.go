// Package jobs keeps the ledger of extraction jobs and the clips they
// produced, and runs pending jobs in the background.
package jobs

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"

	ClipStatusOK      = "ok"
	ClipStatusPartial = "partial"
	ClipStatusFailed  = "failed"
)

// Job extracts the records found in InputDir into OutputDir. RecordName
// restricts the job to a single record.
type Job struct {
	ID           string    `json:"id"`
	Status       string    `json:"status"`
	InputDir     string    `json:"input_dir"`
	OutputDir    string    `json:"output_dir"`
	RecordName   string    `json:"record_name,omitempty"`
	Ext          string    `json:"ext"`
	Progress     int       `json:"progress"`
	RecordsTotal int       `json:"records_total"`
	RecordsDone  int       `json:"records_done"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Clip struct {
	ID         string    `json:"id"`
	JobID      string    `json:"job_id"`
	RecordName string    `json:"record_name"`
	PairIndex  int       `json:"pair_index"`
	StartFrame int       `json:"start_frame"`
	EndFrame   int       `json:"end_frame"`
	Path       string    `json:"path"`
	Frames     int       `json:"frames"`
	Size       int64     `json:"size"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	RemoteURL  string    `json:"remote_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func NewID() string {
	return uuid.NewString()
}
