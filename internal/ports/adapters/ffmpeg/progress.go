package ffmpeg

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
)

var reDuration = regexp.MustCompile(`Duration:\s*([0-9]+):([0-9]{2}):([0-9]{2}(?:\.[0-9]+)?)`)

// progressTracker turns ffmpeg -progress key=value lines into fractions of the
// expected output duration. The total comes from -t or, failing that, from the
// first input Duration line on stderr.
type progressTracker struct {
	mu      sync.Mutex
	total   float64
	fromArg bool
	emit    func(float64)
}

func newProgressTracker(emit func(float64)) *progressTracker {
	return &progressTracker{emit: emit}
}

func (p *progressTracker) setTotal(sec float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total = sec
	p.fromArg = true
}

func (p *progressTracker) parseStderrLine(line string) {
	m := reDuration.FindStringSubmatch(line)
	if m == nil {
		return
	}
	h, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	s, _ := strconv.ParseFloat(m[3], 64)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fromArg || p.total > 0 {
		return
	}
	p.total = float64(h*3600+mm*60) + s
}

func (p *progressTracker) parseProgressLine(line string) {
	key, val, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return
	}
	switch key {
	case "out_time_us", "out_time_ms":
		// both keys carry microseconds
		us, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		if err != nil || us < 0 {
			return
		}
		p.report(float64(us) / 1e6)
	case "progress":
		if strings.TrimSpace(val) == "end" {
			p.send(1)
		}
	}
}

func (p *progressTracker) report(outSec float64) {
	p.mu.Lock()
	total := p.total
	p.mu.Unlock()
	if total <= 0 {
		return
	}
	p.send(outSec / total)
}

func (p *progressTracker) send(frac float64) {
	if p.emit == nil {
		return
	}
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	p.emit(frac)
}
