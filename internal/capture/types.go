package capture

import (
	"bytes"
	"strconv"
	"time"

	"github.com/maauso/clipvault-api/internal/clip"
)

// getClipResponse is the payload of GET /getClip.
type getClipResponse struct {
	ClipName     string    `json:"clipName"`
	ChannelTitle string    `json:"channelTitle"`
	GameID       gameID    `json:"gameId"`
	GameName     string    `json:"gameName"`
	StartedAt    time.Time `json:"startedAt"`
	URL          struct {
		UID     string    `json:"uid"`
		Created time.Time `json:"created"`
	} `json:"url"`
}

func (r getClipResponse) record(user Requester, now time.Time) *clip.Clip {
	created := r.URL.Created
	if created.IsZero() {
		created = now
	}
	return &clip.Clip{
		ClipName:        r.ClipName,
		ContentID:       r.URL.UID,
		ContentName:     r.ChannelTitle,
		GameID:          int64(r.GameID),
		GameName:        r.GameName,
		CreatorID:       user.ID,
		CreatorName:     user.DisplayName,
		StreamStartedAt: r.StartedAt,
		ClipCreatedAt:   created,
		ClipDuration:    LiveClipDuration,
		ClipLastEdited:  created,
		State:           clip.StateReady,
	}
}

// gameID accepts the game id as a JSON number or a quoted string.
type gameID int64

func (g *gameID) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*g = 0
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return err
	}
	*g = gameID(n)
	return nil
}
