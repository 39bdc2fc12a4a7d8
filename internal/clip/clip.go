// Package clip provides the Clip record persisted for every imported video
// clip, the Store port used to reach it and helpers for serializing record
// mutations per clip name.
package clip

import (
	"errors"
	"time"
)

// State tracks whether a record points at a finalized provider asset.
type State string

const (
	// StateProvisional is set at import time, before the media reached the provider.
	StateProvisional State = "provisional"
	// StateReady indicates ContentID refers to an existing provider asset.
	StateReady State = "ready"
)

// PageSize is the number of records returned per listing page.
const PageSize = 12

var (
	// ErrNotFound is returned when no record exists for a clip name.
	ErrNotFound = errors.New("clip: not found")
	// ErrAlreadyExists is returned when a record with the same clip name is live.
	ErrAlreadyExists = errors.New("clip: already exists")
	// ErrNameRequired is returned when a record is created without a clip name.
	ErrNameRequired = errors.New("clip: clip name is required")
)

// Clip is the persisted metadata for a stored video clip.
type Clip struct {
	ClipName        string    `json:"clipName" bson:"clipName"`
	ContentID       string    `json:"contentId" bson:"contentId"`
	ContentName     string    `json:"contentName" bson:"contentName"`
	GameID          int64     `json:"gameId" bson:"gameId"`
	GameName        string    `json:"gameName" bson:"gameName"`
	CreatorID       int64     `json:"creatorId" bson:"creatorId"`
	CreatorName     string    `json:"creatorName" bson:"creatorName"`
	StreamStartedAt time.Time `json:"streamStartedAt" bson:"streamStartedAt"`
	ClipCreatedAt   time.Time `json:"clipCreatedAt" bson:"clipCreatedAt"`
	ClipDuration    float64   `json:"clipDuration" bson:"clipDuration"`
	ClipLastEdited  time.Time `json:"clipLastEdited" bson:"clipLastEdited"`
	State           State     `json:"state" bson:"state"`
	Version         int64     `json:"version" bson:"version"`
}

// IsReady reports whether the record points at a finalized asset.
func (c *Clip) IsReady() bool {
	return c.State == StateReady && c.ContentID != ""
}

// Clone returns a copy of the record.
func (c *Clip) Clone() *Clip {
	cp := *c
	return &cp
}

// Patch describes a partial update. Nil fields are left untouched.
type Patch struct {
	ContentID      *string
	ContentName    *string
	ClipDuration   *float64
	ClipLastEdited *time.Time
	State          *State
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.ContentID == nil && p.ContentName == nil && p.ClipDuration == nil &&
		p.ClipLastEdited == nil && p.State == nil
}

// Apply writes the non-nil fields of p onto c and bumps its version.
func (p Patch) Apply(c *Clip) {
	if p.ContentID != nil {
		c.ContentID = *p.ContentID
	}
	if p.ContentName != nil {
		c.ContentName = *p.ContentName
	}
	if p.ClipDuration != nil {
		c.ClipDuration = *p.ClipDuration
	}
	if p.ClipLastEdited != nil {
		c.ClipLastEdited = *p.ClipLastEdited
	}
	if p.State != nil {
		c.State = *p.State
	}
	c.Version++
}
