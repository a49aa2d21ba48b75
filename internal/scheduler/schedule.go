package scheduler

import (
	"time"

	"github.com/adhocore/gronx"
	"github.com/pkg/errors"

	"github.com/ametnes/nesis-sub000/internal/apperr"
	"github.com/ametnes/nesis-sub000/internal/models"
)

// timestampLayouts are the absolute-time forms accepted for one-shot triggers.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseSchedule classifies a schedule expression as either a one-shot future
// timestamp or a recurring cron expression (5-field, with extended weekday
// syntax such as "#" and "L"), returning the first firing after now.
func ParseSchedule(expr string, now time.Time) (models.JobKind, time.Time, error) {
	for _, layout := range timestampLayouts {
		at, err := time.Parse(layout, expr)
		if err != nil {
			continue
		}
		if !at.After(now) {
			return "", time.Time{}, errors.Wrapf(apperr.ErrInvalidSchedule, "timestamp %q is not in the future", expr)
		}
		return models.JobOnce, at.UTC(), nil
	}

	if !gronx.New().IsValid(expr) {
		return "", time.Time{}, errors.Wrapf(apperr.ErrInvalidSchedule, "%q is neither a future timestamp nor a cron expression", expr)
	}
	next, err := gronx.NextTickAfter(expr, now, false)
	if err != nil {
		return "", time.Time{}, errors.Wrapf(apperr.ErrInvalidSchedule, "cron %q has no next firing", expr)
	}
	return models.JobCron, next.UTC(), nil
}

// ValidateSchedule reports whether expr would be accepted by ParseSchedule.
func ValidateSchedule(expr string, now time.Time) error {
	_, _, err := ParseSchedule(expr, now)
	return err
}
