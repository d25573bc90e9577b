package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/echoprep/echoprep-core/internal/ai"
	"github.com/echoprep/echoprep-core/internal/bus"
	"github.com/echoprep/echoprep-core/internal/config"
	"github.com/echoprep/echoprep-core/internal/engine"
	"github.com/echoprep/echoprep-core/internal/media"
	"github.com/echoprep/echoprep-core/internal/natsserver"
	"github.com/echoprep/echoprep-core/internal/protocol"
	"github.com/echoprep/echoprep-core/internal/session"
	"github.com/echoprep/echoprep-core/internal/store"
)

// Runtime composes the capture core: telemetry, the message bus, the
// session archive, the coach service and the orchestrator, plus the HTTP
// surface the UI drives.
type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	natsServer *natsserver.EmbeddedServer
	busClient  *bus.Client
	sessions   *store.Store
	coach      *ai.Service
	orch       *session.Orchestrator
	subs       []*nats.Subscription
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings the runtime up and blocks until ctx is cancelled, then
// shuts everything down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if r.cfg.Bus.Embedded {
		srv, err := natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("failed to start embedded bus: %w", err)
		}
		r.natsServer = srv
	}

	busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		r.shutdownComponents()
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	r.busClient = busClient

	sessions, err := store.Open(ctx, r.cfg.SessionStore, r.logger)
	if err != nil {
		r.shutdownComponents()
		return fmt.Errorf("failed to open session store: %w", err)
	}
	r.sessions = sessions

	if r.cfg.Coach.Enabled {
		generator, err := ai.NewGenerator(r.cfg.Coach)
		if err != nil {
			r.shutdownComponents()
			return fmt.Errorf("failed to build coach backend: %w", err)
		}
		r.coach = ai.NewService(ctx, r.cfg.Coach, busClient, generator, r.logger)
		if err := r.coach.Start(); err != nil {
			r.shutdownComponents()
			return fmt.Errorf("failed to start coach service: %w", err)
		}
	}

	recognizer, err := engine.NewRecognizer(r.cfg.Engine, r.logger)
	if err != nil {
		r.shutdownComponents()
		return fmt.Errorf("failed to build recognizer: %w", err)
	}

	opts := session.Options{
		Config:     r.cfg,
		Microphone: media.NewMicrophoneAcquirer(r.cfg.Capture, r.logger),
		Recognizer: recognizer,
		Publisher:  busClient.Conn(),
		Archive:    sessions,
		Logger:     r.logger,
	}
	if r.cfg.Capture.DisplayCommand != "" {
		capturer, err := media.NewExecDisplayCapturer(r.cfg.Capture, r.logger)
		if err != nil {
			r.shutdownComponents()
			return fmt.Errorf("failed to build display capturer: %w", err)
		}
		opts.Display = media.NewDisplayAcquirer(capturer, r.logger)
	}
	r.orch = session.New(opts)

	if err := r.subscribeCoachResponses(); err != nil {
		r.shutdownComponents()
		return fmt.Errorf("failed to subscribe coach responses: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	r.registerAPI(mux)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	r.shutdownComponents()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
	return nil
}

func (r *Runtime) shutdownComponents() {
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
	r.subs = nil
	if r.orch != nil {
		r.orch.Close()
	}
	if r.coach != nil {
		r.coach.Close()
	}
	if r.busClient != nil {
		r.busClient.Close()
	}
	if r.natsServer != nil {
		r.natsServer.Shutdown()
	}
	if r.sessions != nil {
		if err := r.sessions.Close(); err != nil {
			r.logger.Warn("session store close error", slog.String("error", err.Error()))
		}
	}
}

// subscribeCoachResponses routes coach output back into the orchestrator.
func (r *Runtime) subscribeCoachResponses() error {
	conn := r.busClient.Conn()

	sub, err := conn.Subscribe(protocol.SubjectSuggestResponse, func(msg *nats.Msg) {
		var resp protocol.SuggestionResponse
		if err := json.Unmarshal(msg.Data, &resp); err != nil {
			r.logger.Warn("failed to decode suggestion response", slog.String("error", err.Error()))
			return
		}
		r.orch.HandleSuggestionResponse(resp)
	})
	if err != nil {
		return err
	}
	r.subs = append(r.subs, sub)

	sub, err = conn.Subscribe(protocol.SubjectSummaryResponse, func(msg *nats.Msg) {
		var resp protocol.SummaryResponse
		if err := json.Unmarshal(msg.Data, &resp); err != nil {
			r.logger.Warn("failed to decode summary response", slog.String("error", err.Error()))
			return
		}
		r.orch.HandleSummaryResponse(resp)
	})
	if err != nil {
		return err
	}
	r.subs = append(r.subs, sub)
	return nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.busClient != nil && r.busClient.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
