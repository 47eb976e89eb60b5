package api

import (
	"time"

	"github.com/dustin/go-humanize"

	"github.com/heimdex/heimdex-clipper/internal/annotation"
	"github.com/heimdex/heimdex-clipper/internal/jobs"
	"github.com/heimdex/heimdex-clipper/internal/media"
	"github.com/heimdex/heimdex-clipper/internal/session"
)

type HealthResponse struct {
	Status  string       `json:"status"`
	Version string       `json:"version"`
	UptimeS int64        `json:"uptime_s"`
	Media   *MediaStatus `json:"media,omitempty"`
}

type MediaStatus struct {
	CanExtract     bool   `json:"can_extract"`
	FFmpegVersion  string `json:"ffmpeg_version,omitempty"`
	FFprobeVersion string `json:"ffprobe_version,omitempty"`
	LastProbeAt    string `json:"last_probe_at,omitempty"`
}

type StatusResponse struct {
	State       string          `json:"state"`
	LastError   string          `json:"last_error,omitempty"`
	JobsRunning int             `json:"jobs_running"`
	ActiveJob   *JobResponse    `json:"active_job,omitempty"`
	Session     *session.Status `json:"session,omitempty"`
}

type MarkRequest struct {
	Position float64 `json:"position"`
	Frame    *int    `json:"frame,omitempty"`
	// TimeMs and FPS derive the frame when Frame is omitted.
	TimeMs *int64  `json:"time_ms,omitempty"`
	FPS    float64 `json:"fps,omitempty"`
}

type MarkResponse struct {
	Key    string `json:"key"`
	Frame  int    `json:"frame"`
	Cursor string `json:"cursor"`
}

type UndoResponse struct {
	Removed string `json:"removed,omitempty"`
	Cursor  string `json:"cursor"`
}

type CursorRequest struct {
	Action string `json:"action"`
	Key    string `json:"key,omitempty"`
}

type CursorResponse struct {
	Cursor string `json:"cursor"`
}

type MoveResponse struct {
	session.Move
	Status session.Status `json:"status"`
}

type SaveResponse struct {
	Record string `json:"record"`
	Keys   int    `json:"keys"`
}

type VideosResponse struct {
	Videos  []session.Video `json:"videos"`
	Current int             `json:"current"`
}

type ExtractResponse struct {
	JobID string `json:"job_id"`
}

type JobResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	InputDir     string `json:"input_dir"`
	OutputDir    string `json:"output_dir"`
	RecordName   string `json:"record_name,omitempty"`
	Ext          string `json:"ext"`
	Progress     int    `json:"progress"`
	RecordsTotal int    `json:"records_total"`
	RecordsDone  int    `json:"records_done"`
	Error        string `json:"error,omitempty"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

type JobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type ClipResponse struct {
	ID         string `json:"id"`
	RecordName string `json:"record_name"`
	PairIndex  int    `json:"pair_index"`
	StartFrame int    `json:"start_frame"`
	EndFrame   int    `json:"end_frame"`
	Name       string `json:"name"`
	Frames     int    `json:"frames"`
	Size       int64  `json:"size"`
	SizeHuman  string `json:"size_human"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	RemoteURL  string `json:"remote_url,omitempty"`
}

type ClipsResponse struct {
	Clips []ClipResponse `json:"clips"`
}

type ErrorResponse struct {
	Error   string   `json:"error"`
	Code    string   `json:"code,omitempty"`
	Missing []string `json:"missing,omitempty"`
}

func JobToResponse(j *jobs.Job) JobResponse {
	return JobResponse{
		ID:           j.ID,
		Status:       j.Status,
		InputDir:     j.InputDir,
		OutputDir:    j.OutputDir,
		RecordName:   j.RecordName,
		Ext:          j.Ext,
		Progress:     j.Progress,
		RecordsTotal: j.RecordsTotal,
		RecordsDone:  j.RecordsDone,
		Error:        j.Error,
		CreatedAt:    j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    j.UpdatedAt.Format(time.RFC3339),
	}
}

func ClipToResponse(c *jobs.Clip, name string) ClipResponse {
	return ClipResponse{
		ID:         c.ID,
		RecordName: c.RecordName,
		PairIndex:  c.PairIndex,
		StartFrame: c.StartFrame,
		EndFrame:   c.EndFrame,
		Name:       name,
		Frames:     c.Frames,
		Size:       c.Size,
		SizeHuman:  humanize.Bytes(uint64(c.Size)),
		Status:     c.Status,
		Error:      c.Error,
		RemoteURL:  c.RemoteURL,
	}
}

func MediaToStatus(caps *media.Capabilities) *MediaStatus {
	if caps == nil {
		return nil
	}
	st := &MediaStatus{
		CanExtract:     caps.CanExtract(),
		FFmpegVersion:  caps.FFmpeg.Version,
		FFprobeVersion: caps.FFprobe.Version,
	}
	if !caps.ProbedAt.IsZero() {
		st.LastProbeAt = caps.ProbedAt.Format(time.RFC3339)
	}
	return st
}

func keyStrings(keys []annotation.Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}
