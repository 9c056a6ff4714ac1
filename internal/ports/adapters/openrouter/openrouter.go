package openrouter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/rs/zerolog"

	"github.com/forPelevin/vibecut/internal/logging"
	"github.com/forPelevin/vibecut/internal/ports"
	"github.com/forPelevin/vibecut/internal/types"
)

const (
	DefaultModel          = "google/gemini-2.5-flash"
	DefaultMaxInlineBytes = 20 << 20

	requestTimeout = 5 * time.Minute
)

var (
	ErrMissingKey = errors.New("openrouter: api key is not set")
	ErrTooLarge   = errors.New("openrouter: video too large to send inline")
	ErrEmpty      = errors.New("openrouter: empty response")
)

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	// Referer and Title are sent as OpenRouter attribution headers when set.
	Referer        string
	Title          string
	MaxInlineBytes int64
	Timeout        time.Duration
	MaxRetries     int
	Logger         zerolog.Logger
}

type Adapter struct {
	key       string
	model     string
	maxInline int64
	timeout   time.Duration
	client    openai.Client
	log       zerolog.Logger
}

func New(cfg Config) *Adapter {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	maxInline := cfg.MaxInlineBytes
	if maxInline <= 0 {
		maxInline = DefaultMaxInlineBytes
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = requestTimeout
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(normalizeBaseURL(cfg.BaseURL) + "/api/v1/"),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.Referer != "" {
		opts = append(opts, option.WithHeader("HTTP-Referer", cfg.Referer))
	}
	if cfg.Title != "" {
		opts = append(opts, option.WithHeader("X-Title", cfg.Title))
	}

	return &Adapter{
		key:       cfg.APIKey,
		model:     model,
		maxInline: maxInline,
		timeout:   timeout,
		client:    openai.NewClient(opts...),
		log:       logging.WithComponent(cfg.Logger, "openrouter"),
	}
}

// Analyze sends the whole video inline and decodes the model's highlight
// report. Ranges are returned as the model wrote them.
func (a *Adapter) Analyze(ctx context.Context, source types.MediaAsset) (types.AnalysisResult, error) {
	if strings.TrimSpace(a.key) == "" {
		return types.AnalysisResult{}, ErrMissingKey
	}

	dataURL, size, err := a.inline(source)
	if err != nil {
		return types.AnalysisResult{}, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	started := time.Now()
	a.log.Info().Str("model", a.model).Int64("bytes", size).Str("video", source.Name()).Msg("analyzing video")

	resp, err := a.client.Chat.Completions.New(reqCtx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.FileContentPart(openai.ChatCompletionContentPartFileFileParam{
					FileData: openai.String(dataURL),
					Filename: openai.String(source.Name()),
				}),
				openai.TextContentPart(userPrompt),
			}),
		},
		Model:       a.model,
		Temperature: openai.Float(0.2),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{Type: "json_object"},
		},
	})
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return types.AnalysisResult{}, fmt.Errorf("openrouter timeout after %s (model=%s)", a.timeout, a.model)
		}
		return types.AnalysisResult{}, a.apiError(err)
	}
	if len(resp.Choices) == 0 {
		return types.AnalysisResult{}, ErrEmpty
	}

	clean, err := extractJSONObject(resp.Choices[0].Message.Content)
	if err != nil {
		return types.AnalysisResult{}, err
	}
	var out types.AnalysisResult
	if err := json.Unmarshal([]byte(clean), &out); err != nil {
		return types.AnalysisResult{}, fmt.Errorf("openrouter: decode analysis: %w", err)
	}

	a.log.Info().
		Int("clips", len(out.ViralClips)).
		Int("arc_points", len(out.EmotionalArc)).
		Dur("took", time.Since(started)).
		Msg("analysis received")
	return out, nil
}

func (a *Adapter) inline(source types.MediaAsset) (string, int64, error) {
	f, err := source.Open()
	if err != nil {
		return "", 0, fmt.Errorf("open video: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, a.maxInline+1))
	if err != nil {
		return "", 0, fmt.Errorf("read video: %w", err)
	}
	if int64(len(data)) > a.maxInline {
		return "", 0, fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, source.Name(), a.maxInline)
	}
	if len(data) == 0 {
		return "", 0, fmt.Errorf("read video: %s is empty", source.Name())
	}

	mime := strings.TrimSpace(source.MIMEType)
	if mime == "" {
		mime = "video/mp4"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), int64(len(data)), nil
}

func (a *Adapter) apiError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("openrouter status %d: %s", apiErr.StatusCode, truncate(redactSecrets(apiErr.Error(), a.key), 400))
	}
	return fmt.Errorf("openrouter: %s", truncate(redactSecrets(err.Error(), a.key), 400))
}

const systemPrompt = "You are an expert viral content strategist. Reply with one JSON object only, no markdown."

const userPrompt = "Analyze the attached video for emotional spikes, humor and engagement. " +
	"Listen to the audio track too: tonality, silence, laughter, music sync and pacing. " +
	"Extract the creator's overall identity from pacing, tone and visual style.\n\n" +
	"Return JSON with exactly these keys:\n" +
	`{"viral_clips":[{"start_time":"M:SS","end_time":"M:SS","virality_score":0,"reason":"","title":"",` +
	`"thumbnail_description":"","audio_reasoning":"","audio_intensity":0}],` +
	`"emotional_arc":[{"time_str":"M:SS","seconds":0,"intensity_score":0,"dominant_emotion":""}],` +
	`"creator_dna":{"archetype":"","audience_prediction":"","winning_formula":""}}` + "\n\n" +
	"Rules:\n" +
	"1) viral_clips holds the top 3 moments, non-overlapping, with end_time after start_time.\n" +
	"2) Timestamps use M:SS, or H:MM:SS past one hour.\n" +
	"3) virality_score and intensity_score are 0-100, audio_intensity is 0-10.\n" +
	"4) emotional_arc has a point every 3-5 seconds.\n" +
	"5) archetype is a short label such as \"The Chaotic Educator\"; winning_formula is one sentence."

func extractJSONObject(s string) (string, error) {
	t := strings.TrimSpace(s)
	if t == "" {
		return "", ErrEmpty
	}

	if strings.HasPrefix(t, "```") {
		if i := strings.Index(t, "\n"); i >= 0 {
			t = t[i+1:]
		}
		if j := strings.LastIndex(t, "```"); j >= 0 {
			t = t[:j]
		}
		t = strings.TrimSpace(t)
	}

	start := strings.Index(t, "{")
	end := strings.LastIndex(t, "}")
	if start >= 0 && end > start {
		return t[start : end+1], nil
	}
	return "", fmt.Errorf("openrouter: could not locate JSON object in: %q", truncate(t, 200))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

var (
	bearerTokenRE = regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9._-]+\b`)
	authHeaderRE  = regexp.MustCompile(`(?i)(authorization\s*[:=]\s*)([^\n\r,;]+)`)
	apiKeyFieldRE = regexp.MustCompile(`(?i)(api[_-]?key\s*[:=]\s*)([^\n\r,;]+)`)
)

func redactSecrets(s, apiKey string) string {
	if s == "" {
		return s
	}
	out := s
	if apiKey != "" {
		out = strings.ReplaceAll(out, apiKey, "[REDACTED]")
	}
	out = bearerTokenRE.ReplaceAllString(out, "Bearer [REDACTED]")
	out = authHeaderRE.ReplaceAllString(out, "${1}[REDACTED]")
	out = apiKeyFieldRE.ReplaceAllString(out, "${1}[REDACTED]")
	return out
}

var _ ports.Analyzer = (*Adapter)(nil)
