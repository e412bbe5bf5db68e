// Package tags merges scoring-derived and coach-applied tags into the set used for SOP matching.
package tags

import (
	"errors"
	"fmt"
	"strings"
)

// CoachPrefix namespaces tags applied manually by a coach.
const CoachPrefix = "coach:"

var ErrInvalidCoachTag = errors.New("invalid coach tag")

// Aggregate returns system tags followed by coach tags. Empty entries are dropped and a
// repeated tag keeps its first position.
func Aggregate(system, coach []string) []string {
	out := make([]string, 0, len(system)+len(coach))
	seen := make(map[string]struct{}, len(system)+len(coach))
	for _, list := range [][]string{system, coach} {
		for _, t := range list {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

// ValidateCoachTag trims tag and checks that it carries the coach namespace.
func ValidateCoachTag(tag string) (string, error) {
	tag = strings.TrimSpace(tag)
	if !strings.HasPrefix(tag, CoachPrefix) {
		return "", fmt.Errorf("%w: %q must start with %q", ErrInvalidCoachTag, tag, CoachPrefix)
	}
	if strings.TrimSpace(strings.TrimPrefix(tag, CoachPrefix)) == "" {
		return "", fmt.Errorf("%w: %q has an empty name", ErrInvalidCoachTag, tag)
	}
	return tag, nil
}

// Set indexes tags for containment checks.
func Set(tags []string) map[string]struct{} {
	s := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		s[t] = struct{}{}
	}
	return s
}
