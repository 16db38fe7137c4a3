package queue

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates the job payload union.
type Kind string

const (
	// KindProcessUpload reassembles a finished chunked upload and
	// verifies its hash.
	KindProcessUpload Kind = "process-upload"
	// KindProcessPublish unpacks a verified archive, classifies and
	// compresses its files, and publishes the version.
	KindProcessPublish Kind = "process-publish"
)

// Payload is the serialized body of a queued job. VersionID is always
// set; UploadID and ConcurrentID are set only for process-upload jobs.
type Payload struct {
	Kind         Kind   `json:"kind"`
	VersionID    string `json:"versionId"`
	UploadID     string `json:"uploadId,omitempty"`
	ConcurrentID string `json:"concurrentId,omitempty"`
}

// Validate rejects payloads that cannot drive a worker.
func (p Payload) Validate() error {
	switch p.Kind {
	case KindProcessUpload:
		if p.VersionID == "" || p.UploadID == "" || p.ConcurrentID == "" {
			return fmt.Errorf("process-upload payload missing ids")
		}
	case KindProcessPublish:
		if p.VersionID == "" {
			return fmt.Errorf("process-publish payload missing version id")
		}
	default:
		return fmt.Errorf("unknown job kind %q", p.Kind)
	}
	return nil
}

// Encode serializes the payload for storage in the job hash.
func (p Payload) Encode() ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(p)
}

// DecodePayload parses a stored payload and validates it.
func DecodePayload(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("decode job payload: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// UploadJobID names the reassembly job for one upload epoch. The epoch
// is part of the identity, so a rotated upload gets a fresh job while a
// stale failed one can be purged.
func UploadJobID(versionID, uploadID, concurrentID string) string {
	return fmt.Sprintf("version-%s-%s-%s", versionID, uploadID, concurrentID)
}

// PublishJobID names the publish job for a version. One id per version
// keeps concurrent publish requests collapsed into a single job.
func PublishJobID(versionID string) string {
	return fmt.Sprintf("version-%s", versionID)
}
