package types

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// MediaAsset is the source video picked by the user. It is referenced by path and
// never modified.
type MediaAsset struct {
	Path     string
	MIMEType string
}

func (m MediaAsset) Open() (io.ReadCloser, error) {
	return os.Open(m.Path)
}

func (m MediaAsset) Name() string {
	return filepath.Base(m.Path)
}

// Ext returns the lower-case container extension including the dot, ".mp4" when unknown.
func (m MediaAsset) Ext() string {
	ext := strings.ToLower(filepath.Ext(m.Path))
	if ext == "" || strings.ContainsAny(ext, `/\`) {
		return ".mp4"
	}
	return ext
}

// TimeRange is a pair of M:SS or H:MM:SS timestamps as produced by the analysis.
type TimeRange struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// Artifact is an exported clip held in memory until it is saved.
type Artifact struct {
	Data     []byte
	MIMEType string
}

type ViralSegment struct {
	StartTime            string  `json:"start_time"`
	EndTime              string  `json:"end_time"`
	ViralityScore        float64 `json:"virality_score"`
	Reason               string  `json:"reason"`
	Title                string  `json:"title"`
	ThumbnailDescription string  `json:"thumbnail_description"`
	AudioReasoning       string  `json:"audio_reasoning"`
	AudioIntensity       float64 `json:"audio_intensity"`
}

func (s ViralSegment) Range() TimeRange {
	return TimeRange{StartTime: s.StartTime, EndTime: s.EndTime}
}

type EmotionalArcPoint struct {
	TimeStr         string  `json:"time_str"`
	Seconds         float64 `json:"seconds"`
	IntensityScore  float64 `json:"intensity_score"`
	DominantEmotion string  `json:"dominant_emotion"`
}

type CreatorDNA struct {
	Archetype          string `json:"archetype"`
	AudiencePrediction string `json:"audience_prediction"`
	WinningFormula     string `json:"winning_formula"`
}

type AnalysisResult struct {
	ViralClips   []ViralSegment      `json:"viral_clips"`
	EmotionalArc []EmotionalArcPoint `json:"emotional_arc"`
	CreatorDNA   CreatorDNA          `json:"creator_dna"`
}

type VideoMetadata struct {
	Duration time.Duration `json:"-"`
	Seconds  float64       `json:"duration"`
	Width    int           `json:"width"`
	Height   int           `json:"height"`
}

type VideoInfo struct {
	Name string `json:"name"`
	// Path is the absolute source path, so a report can be exported from any
	// working directory.
	Path     string         `json:"path,omitempty"`
	Metadata *VideoMetadata `json:"metadata,omitempty"`
}

// Report is the analysis document written by `vibecut analyze` and read back by
// `vibecut export`.
type Report struct {
	App       string    `json:"app"`
	Timestamp time.Time `json:"timestamp"`
	Video     VideoInfo `json:"video"`
	AnalysisResult
}
