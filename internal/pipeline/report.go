package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/forPelevin/vibecut/internal/types"
)

func WriteReport(path string, rep types.Report) error {
	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func ReadReport(path string) (types.Report, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return types.Report{}, fmt.Errorf("read report: %w", err)
	}
	var rep types.Report
	if err := json.Unmarshal(b, &rep); err != nil {
		return types.Report{}, fmt.Errorf("decode report %s: %w", path, err)
	}
	if md := rep.Video.Metadata; md != nil {
		md.Duration = time.Duration(md.Seconds * float64(time.Second))
	}
	return rep, nil
}
