// Package ingest imports external media clips: it validates and resolves the
// source, records a provisional clip, and drives the worker download, the
// provider upload and the record finalization in the background. Each run is
// tracked as an Attempt in a Ledger so it can resume after a restart.
package ingest

import (
	"errors"
	"time"

	"github.com/maauso/clipvault-api/internal/ingest/id"
)

// Status is the step an ingestion attempt has reached.
type Status string

const (
	// StatusPending indicates the record exists but no download was requested.
	StatusPending Status = "PENDING"
	// StatusExtracting indicates the worker is downloading the media.
	StatusExtracting Status = "EXTRACTING"
	// StatusUploading indicates the media is staged and must be uploaded.
	StatusUploading Status = "UPLOADING"
	// StatusFinalizing indicates the asset exists and the record must point at it.
	StatusFinalizing Status = "FINALIZING"
	// StatusReady indicates the clip is fully imported.
	StatusReady Status = "READY"
	// StatusFailed indicates the attempt was abandoned.
	StatusFailed Status = "FAILED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("ingest: invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusExtracting, StatusFailed},
	StatusExtracting: {StatusUploading, StatusFailed},
	StatusUploading:  {StatusFinalizing, StatusFailed},
	StatusFinalizing: {StatusReady, StatusFailed},
	StatusReady:      {},
	StatusFailed:     {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Attempt is one background ingestion run of a clip.
type Attempt struct {
	ID          string    `json:"id"`
	ClipName    string    `json:"clipName"`
	SourceURL   string    `json:"sourceUrl"`
	CreatorName string    `json:"creatorName"`
	Status      Status    `json:"status"`
	JobID       string    `json:"jobId,omitempty"`
	FileName    string    `json:"fileName,omitempty"`
	AssetID     string    `json:"assetId,omitempty"`
	Duration    float64   `json:"duration,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// NewAttempt creates a PENDING attempt for clipName.
func NewAttempt(clipName, sourceURL, creatorName string) *Attempt {
	now := time.Now().UTC()
	return &Attempt{
		ID:          id.Generate(),
		ClipName:    clipName,
		SourceURL:   sourceURL,
		CreatorName: creatorName,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// TransitionTo changes the status. Returns ErrInvalidTransition if the
// transition is not allowed.
func (a *Attempt) TransitionTo(status Status) error {
	if !canTransition(a.Status, status) {
		return ErrInvalidTransition
	}
	a.Status = status
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkExtracting records the worker job id.
func (a *Attempt) MarkExtracting(jobID string) error {
	if err := a.TransitionTo(StatusExtracting); err != nil {
		return err
	}
	a.JobID = jobID
	return nil
}

// MarkUploading records the staged file name.
func (a *Attempt) MarkUploading(fileName string) error {
	if err := a.TransitionTo(StatusUploading); err != nil {
		return err
	}
	a.FileName = fileName
	return nil
}

// MarkFinalizing records the uploaded asset id and the probed duration.
func (a *Attempt) MarkFinalizing(assetID string, duration float64) error {
	if err := a.TransitionTo(StatusFinalizing); err != nil {
		return err
	}
	a.AssetID = assetID
	a.Duration = duration
	return nil
}

// MarkReady completes the attempt.
func (a *Attempt) MarkReady() error {
	return a.TransitionTo(StatusReady)
}

// Fail abandons the attempt with an error message.
func (a *Attempt) Fail(errMsg string) error {
	if err := a.TransitionTo(StatusFailed); err != nil {
		return err
	}
	a.Error = errMsg
	return nil
}

// IsTerminal returns true if the attempt is in a terminal state.
func (a *Attempt) IsTerminal() bool {
	return a.Status == StatusReady || a.Status == StatusFailed
}

// Clone returns a copy of the attempt.
func (a *Attempt) Clone() *Attempt {
	cp := *a
	return &cp
}
