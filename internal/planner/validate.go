package planner

import (
	"time"

	"itinera/api/internal/errs"
)

const clockLayout = "15:04"

// ValidateTime accepts "" (unset) or a 24h "HH:MM" time.
func ValidateTime(value string) error {
	if value == "" {
		return nil
	}
	if len(value) != len(clockLayout) {
		return errs.Validation("time %q must be HH:MM", value)
	}
	if _, err := time.Parse(clockLayout, value); err != nil {
		return errs.Validation("time %q must be HH:MM", value)
	}
	return nil
}

// ValidateTimes checks both times and that the end is not before the start.
func ValidateTimes(start, end string) error {
	if err := ValidateTime(start); err != nil {
		return err
	}
	if err := ValidateTime(end); err != nil {
		return err
	}
	// Zero-padded HH:MM strings order the same way as the times they denote.
	if start != "" && end != "" && end < start {
		return errs.Validation("end time %s is before start time %s", end, start)
	}
	return nil
}
