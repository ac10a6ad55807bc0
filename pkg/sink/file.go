package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Sternrassler/arcgis-rest-client/pkg/arcgis"
	"github.com/rs/zerolog"
)

// FileSink writes collections below a root directory.
type FileSink struct {
	root   string
	logger zerolog.Logger
}

// NewFileSink creates a sink rooted at root. The directory is created on
// first write.
func NewFileSink(root string, logger zerolog.Logger) *FileSink {
	return &FileSink{root: root, logger: logger}
}

// Write stores fc at {root}/{target.Path()}. The file is replaced atomically
// so readers never see a partial collection.
func (s *FileSink) Write(ctx context.Context, target Target, fc arcgis.FeatureCollection) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dest := filepath.Join(s.root, filepath.FromSlash(target.Path()))
	n, err := s.write(dest, fc)
	record("file", n, err)
	if err != nil {
		return "", err
	}

	s.logger.Info().
		Str("path", dest).
		Int("features", len(fc.Features)).
		Int("bytes", n).
		Msg("Collection written")
	return dest, nil
}

func (s *FileSink) write(dest string, fc arcgis.FeatureCollection) (int, error) {
	data, err := encode(fc)
	if err != nil {
		return 0, err
	}

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*"+Extension)
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("write %s: %w", dest, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("write %s: %w", dest, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return 0, fmt.Errorf("rename to %s: %w", dest, err)
	}
	return len(data), nil
}
