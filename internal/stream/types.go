package stream

import (
	"encoding/json"
	"strings"
)

// AssetMeta is the metadata attached to a derived asset.
type AssetMeta struct {
	Name        string `json:"name"`
	CreatorName string `json:"creatorName"`
}

// Download describes the downloadable rendition of an asset.
type Download struct {
	Status          string  `json:"status"`
	URL             string  `json:"url"`
	PercentComplete float64 `json:"percentComplete"`
}

// envelope wraps every provider response.
type envelope struct {
	Success bool            `json:"success"`
	Errors  []apiError      `json:"errors"`
	Result  json.RawMessage `json:"result"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e envelope) errorText() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, er := range e.Errors {
		msgs = append(msgs, er.Message)
	}
	if len(msgs) == 0 {
		return "unknown error"
	}
	return strings.Join(msgs, "; ")
}

type assetResult struct {
	UID string `json:"uid"`
}

type clipRequest struct {
	ClippedFromVideoUID string    `json:"clippedFromVideoUID"`
	StartTimeSeconds    float64   `json:"startTimeSeconds"`
	EndTimeSeconds      float64   `json:"endTimeSeconds"`
	Meta                AssetMeta `json:"meta"`
}

type downloadsResult struct {
	Default Download `json:"default"`
}

type annotateRequest struct {
	Creator string `json:"creator"`
}
