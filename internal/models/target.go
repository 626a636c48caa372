package models

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
)

// DefaultLocatorTemplate is the arrival page for a stop, {stop} and {line} are substituted
const DefaultLocatorTemplate = "https://www.ego.gov.tr/tr/otobusnerede/index?durak_no={stop}&hat_no={line}"

// Target is one monitored (line, stop) pair.
// Targets are immutable; a reconfiguration replaces the whole set.
type Target struct {
	ID      string `json:"id" validate:"required,max=64"`
	Line    string `json:"line" validate:"required,max=16"`
	Stop    string `json:"stop" validate:"required,max=16"`
	Locator string `json:"locator" validate:"required,url"`
}

// NewTarget builds a target and derives its locator from the template
func NewTarget(id, line, stop, template string) Target {
	id = strings.TrimSpace(id)
	line = strings.TrimSpace(line)
	stop = strings.TrimSpace(stop)
	return Target{
		ID:      id,
		Line:    line,
		Stop:    stop,
		Locator: BuildLocator(template, line, stop),
	}
}

// BuildLocator substitutes line and stop into the locator template.
// An empty template falls back to DefaultLocatorTemplate.
func BuildLocator(template, line, stop string) string {
	if template == "" {
		template = DefaultLocatorTemplate
	}
	r := strings.NewReplacer(
		"{stop}", url.QueryEscape(stop),
		"{line}", url.QueryEscape(line),
	)
	return r.Replace(template)
}

var targetValidator = validator.New()

// ValidateTargets checks a full target set before it is applied.
// An empty set is valid and pauses monitoring.
func ValidateTargets(targets []Target) error {
	seen := make(map[string]bool, len(targets))
	for i, t := range targets {
		if err := targetValidator.Struct(t); err != nil {
			return &ReconfigurationFailure{
				Reason: fmt.Sprintf("target %d (%q) is invalid", i, t.ID),
				Err:    err,
			}
		}
		if seen[t.ID] {
			return &ReconfigurationFailure{
				Reason: fmt.Sprintf("duplicate target id %q", t.ID),
			}
		}
		seen[t.ID] = true
	}
	return nil
}

// TargetIDs returns the ids of the targets in order
func TargetIDs(targets []Target) []string {
	ids := make([]string, 0, len(targets))
	for _, t := range targets {
		ids = append(ids, t.ID)
	}
	return ids
}
