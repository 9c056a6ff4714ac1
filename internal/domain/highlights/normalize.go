// Package highlights cleans analysis output before clips are exported.
package highlights

import (
	"sort"
	"strings"
	"time"

	"github.com/forPelevin/vibecut/internal/domain/timecode"
	"github.com/forPelevin/vibecut/internal/types"
)

const (
	maxVirality       = 100
	maxAudioIntensity = 10
	maxArcIntensity   = 100
)

// Options bound the cleanup. A zero Duration means the source length is unknown
// and clips are not clamped to it.
type Options struct {
	Duration time.Duration
	Lenient  bool
}

// Normalize returns a copy of res with unusable clips dropped and scores
// clamped. Clip order is kept; the emotional arc is sorted by time.
func Normalize(res types.AnalysisResult, opts Options) types.AnalysisResult {
	return types.AnalysisResult{
		ViralClips:   Clips(res.ViralClips, opts),
		EmotionalArc: Arc(res.EmotionalArc),
		CreatorDNA: types.CreatorDNA{
			Archetype:          strings.TrimSpace(res.CreatorDNA.Archetype),
			AudiencePrediction: strings.TrimSpace(res.CreatorDNA.AudiencePrediction),
			WinningFormula:     strings.TrimSpace(res.CreatorDNA.WinningFormula),
		},
	}
}

// Clips keeps segments with a usable range that does not overlap a segment
// kept before it.
func Clips(in []types.ViralSegment, opts Options) []types.ViralSegment {
	p := timecode.Parser{Lenient: opts.Lenient}
	limit := int(opts.Duration / time.Second)

	var (
		out  []types.ViralSegment
		kept []timecode.Span
	)
	for _, c := range in {
		span, err := p.Span(c.Range())
		if err != nil {
			continue
		}
		if opts.Duration > 0 {
			if span.Start >= limit {
				continue
			}
			if span.End() > limit {
				span.Duration = limit - span.Start
			}
		}
		if !isDistinct(span, kept) {
			continue
		}
		kept = append(kept, span)

		c.StartTime = timecode.Format(span.Start)
		c.EndTime = timecode.Format(span.End())
		c.Title = strings.TrimSpace(c.Title)
		c.Reason = strings.TrimSpace(c.Reason)
		c.ThumbnailDescription = strings.TrimSpace(c.ThumbnailDescription)
		c.AudioReasoning = strings.TrimSpace(c.AudioReasoning)
		c.ViralityScore = clamp(c.ViralityScore, 0, maxVirality)
		c.AudioIntensity = clamp(c.AudioIntensity, 0, maxAudioIntensity)
		out = append(out, c)
	}
	return out
}

// Arc clamps intensities, fills missing seconds from the time string and
// orders points by time.
func Arc(in []types.EmotionalArcPoint) []types.EmotionalArcPoint {
	out := make([]types.EmotionalArcPoint, 0, len(in))
	for _, pt := range in {
		if pt.Seconds <= 0 && pt.TimeStr != "" {
			if s, err := timecode.Parse(pt.TimeStr); err == nil {
				pt.Seconds = float64(s)
			}
		}
		if pt.Seconds < 0 {
			continue
		}
		pt.IntensityScore = clamp(pt.IntensityScore, 0, maxArcIntensity)
		pt.DominantEmotion = strings.TrimSpace(pt.DominantEmotion)
		out = append(out, pt)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seconds < out[j].Seconds })
	return out
}

func isDistinct(s timecode.Span, kept []timecode.Span) bool {
	for _, k := range kept {
		if s.Start < k.End() && k.Start < s.End() {
			return false
		}
	}
	return true
}

func clamp(x, a, b float64) float64 {
	if x < a {
		return a
	}
	if x > b {
		return b
	}
	return x
}
