package validation

import (
	"fmt"
	"regexp"
)

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateTemplateID validates template ID format
func ValidateTemplateID(id string) error {
	if len(id) == 0 || len(id) > 64 {
		return fmt.Errorf("template ID must be 1-64 characters")
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("template ID can only contain alphanumeric characters, hyphens, and underscores")
	}
	return nil
}

// ValidateExperimentID validates experiment ID format
func ValidateExperimentID(id string) error {
	if len(id) == 0 || len(id) > 64 {
		return fmt.Errorf("experiment ID must be 1-64 characters")
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("experiment ID can only contain alphanumeric characters, hyphens, and underscores")
	}
	return nil
}
