package indexer

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Job is the payload delivered by the dispatch transport. Delivery is at-least-once, so
// handling the same Job twice must leave the index as if it ran once.
type Job struct {
	DocumentID    string `json:"documentId"`
	OwnerID       string `json:"ownerId"`
	FileExtension string `json:"fileExtension"`
}

// Validate checks required fields.
func (j Job) Validate() error {
	if strings.TrimSpace(j.DocumentID) == "" {
		return fmt.Errorf("%w: missing documentId", ErrInvalidJob)
	}
	return nil
}

// Encode serializes the job for the queue.
func (j Job) Encode() ([]byte, error) {
	return json.Marshal(j)
}

// DecodeJob parses a queued payload.
func DecodeJob(data []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return Job{}, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	return j, j.Validate()
}
