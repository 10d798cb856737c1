package discovery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/venue-registry/pkg/model"
)

// Backoff returns the retry sleep duration for the given attempt number.
func Backoff(attempt int) time.Duration {
	switch attempt {
	case 0:
		return 100 * time.Millisecond
	case 1:
		return 250 * time.Millisecond
	default:
		return 500 * time.Millisecond
	}
}

// HTTPSource fetches a payload document from an upstream feed. 5xx responses
// and transport errors are retried up to retryMax times; 4xx fails at once.
type HTTPSource struct {
	url      string
	http     *http.Client
	parser   Parser
	retryMax int
	backoff  func(int) time.Duration
	logger   *zap.Logger
}

// NewHTTPSource uses http.DefaultClient and JSONParser for nil arguments.
func NewHTTPSource(url string, client *http.Client, parser Parser, retryMax int, logger *zap.Logger) *HTTPSource {
	if client == nil {
		client = http.DefaultClient
	}
	if parser == nil {
		parser = JSONParser{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPSource{
		url:      url,
		http:     client,
		parser:   parser,
		retryMax: retryMax,
		backoff:  Backoff,
		logger:   logger,
	}
}

func (s *HTTPSource) Name() string { return "http:" + s.url }

func (s *HTTPSource) Load(ctx context.Context) ([]model.InstrumentPayload, error) {
	var lastErr error
	for attempt := 0; attempt <= s.retryMax; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.backoff(attempt - 1)):
			}
		}

		body, status, err := s.fetch(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			s.logger.Warn("discovery.http_failed",
				zap.String("url", s.url),
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		case status >= 500:
			lastErr = fmt.Errorf("feed server error: %d", status)
			s.logger.Warn("discovery.server_error",
				zap.String("url", s.url),
				zap.Int("status", status),
				zap.Int("attempt", attempt))
			continue
		case status >= 400:
			return nil, fmt.Errorf("feed %s returned %d", s.url, status)
		}

		payloads, err := s.parser.Parse(body)
		if err != nil {
			return nil, fmt.Errorf("failed to parse feed %s: %w", s.url, err)
		}
		s.logger.Info("discovery.http_loaded",
			zap.String("url", s.url),
			zap.Int("count", len(payloads)))
		return payloads, nil
	}
	return nil, fmt.Errorf("feed request failed after %d attempts: %w", s.retryMax+1, lastErr)
}

func (s *HTTPSource) fetch(ctx context.Context) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	s.logger.Debug("discovery.http_response",
		zap.String("url", s.url),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))
	return body, resp.StatusCode, nil
}
