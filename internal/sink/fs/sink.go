// Package fs is the filesystem implementation of the downstream entity sink:
// one JSON document per normalized case and oral argument. Layout beyond
// that belongs to the dataset-formatting stage, not here.
package fs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/scotusdata/harvester/internal/harvest"
)

// Sink saves normalized entities to disk.
type Sink struct {
	root   string
	logger *zap.Logger
}

// New returns a sink rooted at dir.
func New(root string, logger *zap.Logger) (*Sink, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("sink root directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, sub := range []string{"cases", "arguments"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o750); err != nil {
			return nil, fmt.Errorf("create sink dir %s: %w", sub, err)
		}
	}
	return &Sink{root: root, logger: logger}, nil
}

// ConsumeCase writes one case document, keyed by term and docket.
func (s *Sink) ConsumeCase(ctx context.Context, c *harvest.Case) error {
	name := fmt.Sprintf("%s-%s.json", c.Term, safe(c.Docket))
	return s.write(ctx, filepath.Join(s.root, "cases", name), c)
}

// ConsumeArgument writes one argument document, keyed by case ID and date.
func (s *Sink) ConsumeArgument(ctx context.Context, a *harvest.OralArgument) error {
	name := safe(a.CaseID)
	if !a.Date.IsZero() {
		name += "-" + a.Date.Format("2006-01-02")
	}
	return s.write(ctx, filepath.Join(s.root, "arguments", name+".json"), a)
}

func (s *Sink) write(ctx context.Context, path string, entity any) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}
	payload, err := json.MarshalIndent(entity, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal entity: %w", err)
	}
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		return fmt.Errorf("write entity %s: %w", path, err)
	}
	s.logger.Debug("entity written", zap.String("path", path))
	return nil
}

func safe(s string) string {
	return strings.NewReplacer("/", "-", ":", "-", " ", "_").Replace(s)
}
