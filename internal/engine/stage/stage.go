// Package stage holds the coaching-stage rules and the customer metadata codec that mirrors them.
package stage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	Pre  = "pre"
	Mid  = "mid"
	Post = "post"
)

// Metadata keys mirrored into the customer metadata blob.
const (
	KeyStage     = "coach_stage"
	KeyUpdatedAt = "coach_stage_updated_at"
)

var ErrInvalidStage = errors.New("invalid coach stage")

func Valid(s string) bool {
	switch s {
	case Pre, Mid, Post:
		return true
	}
	return false
}

// Parse normalizes s and rejects anything outside pre, mid and post.
func Parse(s string) (string, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if !Valid(v) {
		return "", fmt.Errorf("%w: %q", ErrInvalidStage, s)
	}
	return v, nil
}

// OrDefault returns s, or Pre when s is unset or unknown.
func OrDefault(s string) string {
	if Valid(s) {
		return s
	}
	return Pre
}

// Advance moves one step forward and saturates at Post.
func Advance(current string) string {
	switch OrDefault(current) {
	case Pre:
		return Mid
	default:
		return Post
	}
}

// ReadMetadata extracts the stage keys from a metadata blob. Missing keys yield empty strings.
func ReadMetadata(raw string) (stage, updatedAt string, err error) {
	fields, err := decode(raw)
	if err != nil {
		return "", "", err
	}
	if v, ok := fields[KeyStage]; ok {
		if err := json.Unmarshal(v, &stage); err != nil {
			return "", "", fmt.Errorf("decode %s: %w", KeyStage, err)
		}
	}
	if v, ok := fields[KeyUpdatedAt]; ok {
		if err := json.Unmarshal(v, &updatedAt); err != nil {
			return "", "", fmt.Errorf("decode %s: %w", KeyUpdatedAt, err)
		}
	}
	return stage, updatedAt, nil
}

// WriteMetadata sets the stage keys in raw and returns the new blob. Other keys keep
// their original encoding.
func WriteMetadata(raw, stage, updatedAt string) (string, error) {
	fields, err := decode(raw)
	if err != nil {
		return "", err
	}
	if fields == nil {
		fields = map[string]json.RawMessage{}
	}
	s, _ := json.Marshal(stage)
	u, _ := json.Marshal(updatedAt)
	fields[KeyStage] = s
	fields[KeyUpdatedAt] = u
	out, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode customer metadata: %w", err)
	}
	return string(out), nil
}

func decode(raw string) (map[string]json.RawMessage, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]json.RawMessage{}, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("decode customer metadata: %w", err)
	}
	return fields, nil
}
