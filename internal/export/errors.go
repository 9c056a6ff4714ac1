package export

import (
	"errors"

	"github.com/forPelevin/vibecut/internal/domain/timecode"
)

var (
	ErrEngineUnavailable = errors.New("transcoder engine unavailable")
	ErrInvalidRange      = timecode.ErrInvalidRange
	ErrSource            = errors.New("source unreadable")
	ErrExecution         = errors.New("trim command failed")
	ErrReadBack          = errors.New("trimmed output unreadable")
	ErrCanceled          = errors.New("export abandoned")
)
