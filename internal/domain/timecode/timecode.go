// Package timecode converts the M:SS and H:MM:SS timestamps produced by the
// analysis into whole seconds.
package timecode

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/forPelevin/vibecut/internal/types"
)

var (
	ErrMalformed    = errors.New("malformed timestamp")
	ErrInvalidRange = errors.New("invalid time range")
)

// Parse returns the number of seconds in text. One segment is raw seconds, two are
// minutes:seconds and three are hours:minutes:seconds.
func Parse(text string) (int, error) {
	parts := strings.Split(strings.TrimSpace(text), ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q has %d segments", ErrMalformed, text, len(parts))
	}
	vals := make([]int, len(parts))
	for i, p := range parts {
		v, ok := parseSegment(p)
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrMalformed, text)
		}
		vals[i] = v
	}
	total, ok := combine(vals)
	if !ok {
		return 0, fmt.Errorf("%w: %q overflows", ErrMalformed, text)
	}
	return total, nil
}

// ParseLenient never fails: malformed segments count as 0, and input with more
// than three segments yields its first segment.
func ParseLenient(text string) int {
	parts := strings.Split(strings.TrimSpace(text), ":")
	vals := make([]int, len(parts))
	for i, p := range parts {
		v, _ := parseSegment(p)
		vals[i] = v
	}
	if len(vals) > 3 {
		return vals[0]
	}
	total, ok := combine(vals)
	if !ok {
		return 0
	}
	return total
}

// combine folds base-60 segments into seconds. It reports false when the total
// does not fit in an int.
func combine(vals []int) (int, bool) {
	total := 0
	for _, v := range vals {
		if total > (math.MaxInt-v)/60 {
			return 0, false
		}
		total = total*60 + v
	}
	return total, true
}

func parseSegment(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Format renders seconds as M:SS, or H:MM:SS from one hour on.
func Format(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// Span is a parsed time range in whole seconds.
type Span struct {
	Start    int
	Duration int
}

func (s Span) End() int { return s.Start + s.Duration }

// Parser picks strict or lenient parsing for ranges.
type Parser struct {
	Lenient bool
}

func (p Parser) Seconds(text string) (int, error) {
	if p.Lenient {
		return ParseLenient(text), nil
	}
	return Parse(text)
}

// Span parses both ends of r. A range whose end is not after its start is
// rejected with ErrInvalidRange.
func (p Parser) Span(r types.TimeRange) (Span, error) {
	start, err := p.Seconds(r.StartTime)
	if err != nil {
		return Span{}, fmt.Errorf("start time: %w", err)
	}
	end, err := p.Seconds(r.EndTime)
	if err != nil {
		return Span{}, fmt.Errorf("end time: %w", err)
	}
	if start < 0 || end < 0 {
		return Span{}, fmt.Errorf("%w: negative time %s -> %s", ErrInvalidRange, r.StartTime, r.EndTime)
	}
	if end <= start {
		return Span{}, fmt.Errorf("%w: %s -> %s", ErrInvalidRange, r.StartTime, r.EndTime)
	}
	return Span{Start: start, Duration: end - start}, nil
}
