// Package id provides unique identifier generation for ingestion attempts.
package id

import "github.com/google/uuid"

// Generate creates a new unique attempt ID.
// Format: ing-<uuid>
func Generate() string {
	return "ing-" + uuid.NewString()
}
