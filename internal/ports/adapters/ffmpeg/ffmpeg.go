package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/forPelevin/vibecut/internal/logging"
	"github.com/forPelevin/vibecut/internal/types"
)

var ErrInvalidName = errors.New("invalid sandbox file name")

const stderrTailLines = 20

// Engine runs ffmpeg inside a private sandbox directory. Every file name handed
// to it is flat and resolved against that directory.
type Engine struct {
	ffmpeg string
	root   string
	log    zerolog.Logger

	probeMu sync.Mutex
	ffprobe string
	// resolveProbe locates ffprobe on first use; cleared once it succeeds.
	resolveProbe func(context.Context) (string, error)
}

func New(ffmpegPath, ffprobePath, sandbox string, log zerolog.Logger) *Engine {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Engine{
		ffmpeg:  ffmpegPath,
		ffprobe: ffprobePath,
		root:    sandbox,
		log:     logging.WithComponent(log, "ffmpeg"),
	}
}

func (e *Engine) Root() string { return e.root }

func (e *Engine) path(name string) (string, error) {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return "", errors.Wrapf(ErrInvalidName, "%q", name)
	}
	return filepath.Join(e.root, name), nil
}

func (e *Engine) WriteFile(ctx context.Context, name string, r io.Reader) error {
	p, err := e.path(name)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrapf(err, "sandbox write %s", name)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(p)
		return errors.Wrapf(err, "sandbox write %s", name)
	}
	return errors.Wrapf(f.Close(), "sandbox write %s", name)
}

func (e *Engine) ReadFile(ctx context.Context, name string) ([]byte, error) {
	p, err := e.path(name)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, errors.Wrapf(err, "sandbox read %s", name)
	}
	return b, nil
}

func (e *Engine) DeleteFile(_ context.Context, name string) error {
	p, err := e.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "sandbox delete %s", name)
	}
	return nil
}

// Exec runs ffmpeg with args in the sandbox. Progress is read from the
// machine-readable -progress stream on stdout.
func (e *Engine) Exec(ctx context.Context, args []string, onProgress func(float64)) error {
	full := append([]string{"-hide_banner", "-nostdin", "-nostats", "-progress", "pipe:1"}, args...)
	cmd := exec.CommandContext(ctx, e.ffmpeg, full...)
	cmd.Dir = e.root

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Wrap(err, "ffmpeg stdout")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return errors.Wrap(err, "ffmpeg stderr")
	}

	tr := newProgressTracker(onProgress)
	if d, ok := durationArg(args); ok {
		tr.setTotal(d)
	}

	started := time.Now()
	e.log.Debug().Strs("args", full).Msg("ffmpeg exec")
	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "ffmpeg start")
	}

	var (
		wg   sync.WaitGroup
		tail = newLineTail(stderrTailLines)
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		sc := bufio.NewScanner(stdout)
		for sc.Scan() {
			tr.parseProgressLine(sc.Text())
		}
	}()
	go func() {
		defer wg.Done()
		sc := bufio.NewScanner(stderr)
		sc.Split(scanLinesCR)
		for sc.Scan() {
			line := sc.Text()
			tr.parseStderrLine(line)
			tail.add(line)
			e.log.Debug().Str("ffmpeg", line).Msg("stderr")
		}
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return errors.Wrapf(err, "ffmpeg exec\n%s", tail.String())
	}
	e.log.Debug().Dur("took", time.Since(started)).Msg("ffmpeg exec done")
	return nil
}

func (e *Engine) Probe(ctx context.Context, path string) (types.VideoMetadata, error) {
	bin, err := e.probeBin(ctx)
	if err != nil {
		return types.VideoMetadata{}, err
	}
	cmd := exec.CommandContext(ctx, bin,
		"-v", "error",
		"-show_entries", "format=duration:stream=codec_type,width,height",
		"-of", "json",
		path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	b, err := cmd.Output()
	if err != nil {
		return types.VideoMetadata{}, errors.Wrapf(err, "ffprobe\n%s", stderr.String())
	}
	return parseProbe(b)
}

func (e *Engine) probeBin(ctx context.Context) (string, error) {
	e.probeMu.Lock()
	defer e.probeMu.Unlock()
	if e.resolveProbe != nil {
		p, err := e.resolveProbe(ctx)
		if err != nil {
			return "", errors.Wrap(err, "resolve ffprobe")
		}
		e.ffprobe, e.resolveProbe = p, nil
	}
	return e.ffprobe, nil
}

func parseProbe(b []byte) (types.VideoMetadata, error) {
	var raw struct {
		Streams []struct {
			CodecType string `json:"codec_type"`
			Width     int    `json:"width"`
			Height    int    `json:"height"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return types.VideoMetadata{}, errors.Wrap(err, "decode ffprobe output")
	}
	var md types.VideoMetadata
	if s := strings.TrimSpace(raw.Format.Duration); s != "" {
		sec, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return types.VideoMetadata{}, errors.Wrapf(err, "parse duration %q", s)
		}
		md.Seconds = sec
		md.Duration = time.Duration(sec * float64(time.Second))
	}
	for _, st := range raw.Streams {
		if st.CodecType == "video" {
			md.Width, md.Height = st.Width, st.Height
			break
		}
	}
	return md, nil
}

// Close removes the sandbox.
func (e *Engine) Close() error {
	return errors.Wrap(os.RemoveAll(e.root), "remove sandbox")
}

// durationArg finds an output duration passed as -t.
func durationArg(args []string) (float64, bool) {
	for i := 0; i+1 < len(args); i++ {
		if args[i] != "-t" {
			continue
		}
		v, err := strconv.ParseFloat(args[i+1], 64)
		if err == nil && v > 0 {
			return v, true
		}
	}
	return 0, false
}

type lineTail struct {
	n     int
	lines []string
}

func newLineTail(n int) *lineTail { return &lineTail{n: n} }

func (t *lineTail) add(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	t.lines = append(t.lines, line)
	if len(t.lines) > t.n {
		t.lines = t.lines[len(t.lines)-t.n:]
	}
}

func (t *lineTail) String() string { return strings.Join(t.lines, "\n") }

// scanLinesCR splits on \n and on the bare \r ffmpeg uses to redraw status lines.
func scanLinesCR(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
