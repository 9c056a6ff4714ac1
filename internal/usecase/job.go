package usecase

import (
	"errors"
	"time"

	"github.com/forPelevin/vibecut/internal/domain/timecode"
	"github.com/forPelevin/vibecut/internal/export"
)

type JobState int

const (
	JobIdle JobState = iota
	JobRunning
	JobSucceeded
	JobFailed
)

func (s JobState) String() string {
	switch s {
	case JobIdle:
		return "idle"
	case JobRunning:
		return "running"
	case JobSucceeded:
		return "succeeded"
	case JobFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Job is the export state of one highlight. Only JobRunning blocks a new
// export of the same ordinal.
type Job struct {
	Ordinal  int
	State    JobState
	Progress int
	Path     string
	Err      error
	Started  time.Time
	Finished time.Time
}

// UserMessage turns an export failure into the single line shown to the user.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrJobInFlight):
		return "This highlight is already being exported."
	case errors.Is(err, ErrOrdinal):
		return "There is no highlight with that number."
	case errors.Is(err, timecode.ErrInvalidRange), errors.Is(err, timecode.ErrMalformed):
		return "This highlight has an invalid time range and cannot be exported."
	case errors.Is(err, export.ErrEngineUnavailable):
		return "The video engine could not be loaded. Check your connection and try again."
	case errors.Is(err, export.ErrSource):
		return "The source video could not be read."
	case errors.Is(err, export.ErrExecution):
		return "Export failed. Lossless cutting needs a standard container such as MP4 or MOV."
	case errors.Is(err, export.ErrReadBack):
		return "Export produced no video. Please try again."
	case errors.Is(err, export.ErrCanceled):
		return "Export was stopped before it finished."
	case errors.Is(err, ErrSave):
		return "The clip could not be saved to the output folder."
	default:
		return "Export failed. Please try again."
	}
}
