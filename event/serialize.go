package event

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// MarshalStep serialises a Step to JSON.
func MarshalStep(s *Step) ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalStep deserialises a Step from JSON.
func UnmarshalStep(data []byte) (*Step, error) {
	var s Step
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// MarshalRun serialises a Run to JSON.
func MarshalRun(r *Run) ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalRun deserialises a Run from JSON.
func UnmarshalRun(data []byte) (*Run, error) {
	var r Run
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// HashPayload returns the hex-encoded SHA-256 of a script payload. An empty
// payload hashes to the empty string.
func HashPayload(payload string) string {
	if payload == "" {
		return ""
	}
	h := sha256.Sum256([]byte(payload))
	return fmt.Sprintf("%x", h)
}
