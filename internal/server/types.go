// Package server provides the HTTP server for the clipvault API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"time"

	"github.com/maauso/clipvault-api/internal/clip"
)

// ImportClipRequest is the HTTP request body for importing an external clip.
type ImportClipRequest struct {
	// URL is the public URL of the source clip.
	URL string `json:"url" validate:"required,url"`
}

// ImportClipResponse is the HTTP response after an import request.
type ImportClipResponse struct {
	// Status is "accepted" or "already_imported".
	Status string `json:"status"`
	// ClipName is the natural key of the clip record.
	ClipName string `json:"clipName"`
	// Message is a human-readable description of the outcome.
	Message string `json:"message"`
}

// TrimClipRequest is the HTTP request body for trimming a clip.
type TrimClipRequest struct {
	// Start is the first second to keep.
	Start float64 `json:"start" validate:"min=0"`
	// End is the last second to keep.
	End float64 `json:"end" validate:"gtfield=Start"`
}

// EditClipRequest is the HTTP request body for editing a clip's metadata.
type EditClipRequest struct {
	// ContentName is the new display title.
	ContentName string `json:"contentName" validate:"required,max=140"`
}

// ClipResponse is the HTTP representation of a clip record.
type ClipResponse struct {
	ClipName        string    `json:"clipName"`
	ContentID       string    `json:"contentId,omitempty"`
	ContentName     string    `json:"contentName"`
	GameID          int64     `json:"gameId"`
	GameName        string    `json:"gameName"`
	CreatorID       int64     `json:"creatorId"`
	CreatorName     string    `json:"creatorName"`
	StreamStartedAt time.Time `json:"streamStartedAt"`
	ClipCreatedAt   time.Time `json:"clipCreatedAt"`
	ClipDuration    float64   `json:"clipDuration"`
	ClipLastEdited  time.Time `json:"clipLastEdited"`
	State           string    `json:"state"`
}

// ClipListResponse is a page of clip records.
type ClipListResponse struct {
	Clips  []ClipResponse `json:"clips"`
	Offset int            `json:"offset"`
	// NextOffset is set when a further page may exist.
	NextOffset *int `json:"nextOffset,omitempty"`
}

// DownloadResponse describes the downloadable rendition of a clip.
type DownloadResponse struct {
	Status          string  `json:"status"`
	URL             string  `json:"url,omitempty"`
	PercentComplete float64 `json:"percentComplete"`
}

// RefreshSessionRequest is the optional body of POST /auth/refresh. The
// Refresh cookie is used when it is empty.
type RefreshSessionRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// SessionResponse carries a new session token pair.
type SessionResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}

func toClipResponse(c *clip.Clip) ClipResponse {
	return ClipResponse{
		ClipName:        c.ClipName,
		ContentID:       c.ContentID,
		ContentName:     c.ContentName,
		GameID:          c.GameID,
		GameName:        c.GameName,
		CreatorID:       c.CreatorID,
		CreatorName:     c.CreatorName,
		StreamStartedAt: c.StreamStartedAt,
		ClipCreatedAt:   c.ClipCreatedAt,
		ClipDuration:    c.ClipDuration,
		ClipLastEdited:  c.ClipLastEdited,
		State:           string(c.State),
	}
}

func toClipList(clips []*clip.Clip, offset int) ClipListResponse {
	resp := ClipListResponse{Clips: make([]ClipResponse, 0, len(clips)), Offset: offset}
	for _, c := range clips {
		resp.Clips = append(resp.Clips, toClipResponse(c))
	}
	if len(clips) == clip.PageSize {
		next := offset + clip.PageSize
		resp.NextOffset = &next
	}
	return resp
}
