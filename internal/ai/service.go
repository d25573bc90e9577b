package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/echoprep/echoprep-core/internal/bus"
	"github.com/echoprep/echoprep-core/internal/config"
	"github.com/echoprep/echoprep-core/internal/protocol"
)

// Service answers suggestion and summary requests from the bus using the
// configured model backend. Failures are published as responses carrying
// an error string, never dropped, so the orchestrator can notify the user.
type Service struct {
	cfg       config.CoachConfig
	bus       *bus.Client
	generator Generator
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	subSuggest *nats.Subscription
	subSummary *nats.Subscription

	suggestCounter metric.Int64Counter
	errorCounter   metric.Int64Counter
}

func NewService(parent context.Context, cfg config.CoachConfig, busClient *bus.Client, generator Generator, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:       cfg,
		bus:       busClient,
		generator: generator,
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger.With(slog.String("component", "coach-service")),
	}

	meter := otel.Meter("github.com/echoprep/echoprep-core/coach")
	if counter, err := meter.Int64Counter("coach.suggestions"); err == nil {
		s.suggestCounter = counter
	}
	if counter, err := meter.Int64Counter("coach.errors"); err == nil {
		s.errorCounter = counter
	}
	return s
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectSuggestRequest, s.handleSuggest)
	if err != nil {
		return fmt.Errorf("subscribe suggestion requests: %w", err)
	}
	s.subSuggest = sub

	sub, err = s.bus.Conn().Subscribe(protocol.SubjectSummaryRequest, s.handleSummary)
	if err != nil {
		_ = s.subSuggest.Drain()
		return fmt.Errorf("subscribe summary requests: %w", err)
	}
	s.subSummary = sub
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.subSuggest != nil {
		_ = s.subSuggest.Drain()
	}
	if s.subSummary != nil {
		_ = s.subSummary.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || (s.subSuggest != nil && s.subSummary != nil)
}

func (s *Service) handleSuggest(msg *nats.Msg) {
	var req protocol.SuggestionRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode suggestion request", slogError(err))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, 60*time.Second)
		defer cancel()

		resp := protocol.SuggestionResponse{
			SessionID:  req.SessionID,
			Generation: req.Generation,
			Timestamp:  time.Now().UTC(),
		}

		start := time.Now()
		result, err := s.Suggest(ctx, req)
		if err != nil {
			s.logger.Warn("suggestion failed", slogError(err))
			resp.Error = err.Error()
			if s.errorCounter != nil {
				s.errorCounter.Add(ctx, 1)
			}
		} else {
			resp.Result = result
			s.logger.Info("suggestion complete", slog.Duration("latency", time.Since(start)))
			if s.suggestCounter != nil {
				s.suggestCounter.Add(ctx, 1)
			}
		}
		s.publish(protocol.SubjectSuggestResponse, resp)
	}()
}

func (s *Service) handleSummary(msg *nats.Msg) {
	var req protocol.SummaryRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode summary request", slogError(err))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, 120*time.Second)
		defer cancel()

		resp := protocol.SummaryResponse{
			SessionID: req.SessionID,
			Timestamp: time.Now().UTC(),
		}
		result, err := s.Summarize(ctx, req)
		if err != nil {
			s.logger.Warn("summary failed", slogError(err))
			resp.Error = err.Error()
			if s.errorCounter != nil {
				s.errorCounter.Add(ctx, 1)
			}
		} else {
			resp.Result = result
		}
		s.publish(protocol.SubjectSummaryResponse, resp)
	}()
}

// Suggest runs one suggestion call synchronously.
func (s *Service) Suggest(ctx context.Context, req protocol.SuggestionRequest) (protocol.SuggestionResult, error) {
	raw, err := s.generator.Generate(ctx, Request{
		Prompt:      buildSuggestionPrompt(req),
		System:      suggestionSystem,
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
	})
	if err != nil {
		return protocol.SuggestionResult{}, err
	}
	return parseSuggestion(raw)
}

// Summarize runs one whole-session feedback call synchronously.
func (s *Service) Summarize(ctx context.Context, req protocol.SummaryRequest) (protocol.SummaryResult, error) {
	raw, err := s.generator.Generate(ctx, Request{
		Prompt:      buildSummaryPrompt(req),
		System:      summarySystem,
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
	})
	if err != nil {
		return protocol.SummaryResult{}, err
	}
	return parseSummary(raw)
}

func (s *Service) publish(subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("failed to marshal response", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(subject, data); err != nil {
		s.logger.Warn("failed to publish response", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
