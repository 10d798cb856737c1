package discovery

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/Checker-Finance/venue-registry/pkg/model"
)

// Source yields payloads from one upstream.
type Source interface {
	Name() string
	Load(ctx context.Context) ([]model.InstrumentPayload, error)
}

// FileSource loads a payload document from disk.
type FileSource struct {
	path   string
	parser Parser
	logger *zap.Logger
}

// NewFileSource uses JSONParser when parser is nil.
func NewFileSource(path string, parser Parser, logger *zap.Logger) *FileSource {
	if parser == nil {
		parser = JSONParser{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileSource{path: path, parser: parser, logger: logger}
}

func (s *FileSource) Name() string { return "file:" + s.path }

func (s *FileSource) Load(ctx context.Context) ([]model.InstrumentPayload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read payload file: %w", err)
	}
	payloads, err := s.parser.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse payload file %s: %w", s.path, err)
	}
	s.logger.Info("discovery.file_loaded",
		zap.String("path", s.path),
		zap.Int("count", len(payloads)))
	return payloads, nil
}
