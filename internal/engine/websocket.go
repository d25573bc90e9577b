package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/echoprep/echoprep-core/internal/config"
)

// WebsocketRecognizer streams audio to a Deepgram-style live transcription
// endpoint over a websocket and reads interim/final results back.
type WebsocketRecognizer struct {
	endpoint string
	apiKey   string
	model    string
	log      *slog.Logger
}

func NewWebsocketRecognizer(cfg config.EngineConfig, log *slog.Logger) *WebsocketRecognizer {
	return &WebsocketRecognizer{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		log:      log.With(slog.String("component", "ws-recognizer")),
	}
}

type wsResultMessage struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
	Description string `json:"description,omitempty"`
}

func (r *WebsocketRecognizer) Open(ctx context.Context, cfg StreamConfig) (RecognizerSession, error) {
	u, err := url.Parse(r.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse engine endpoint: %w", err)
	}
	q := u.Query()
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	q.Set("channels", strconv.Itoa(cfg.Channels))
	q.Set("interim_results", strconv.FormatBool(cfg.Interim))
	q.Set("punctuate", "true")
	if cfg.Language != "" {
		q.Set("language", cfg.Language)
	}
	if r.model != "" {
		q.Set("model", r.model)
	}
	u.RawQuery = q.Encode()

	header := http.Header{}
	if r.apiKey != "" {
		header.Set("Authorization", "Token "+r.apiKey)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("dial transcription endpoint: %w", err)
	}
	r.log.Info("transcription stream opened", slog.String("endpoint", u.Host))

	sess := &wsSession{
		conn:    conn,
		results: make(chan Result, 16),
	}
	go sess.readLoop()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	return sess, nil
}

type wsSession struct {
	conn    *websocket.Conn
	results chan Result

	writeMu sync.Mutex
	errMu   sync.Mutex
	err     error
}

func (s *wsSession) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, chunk)
}

func (s *wsSession) CloseSend() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
}

func (s *wsSession) Results() <-chan Result { return s.results }

func (s *wsSession) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *wsSession) readLoop() {
	defer close(s.results)
	defer s.conn.Close()
	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			s.errMu.Lock()
			s.err = err
			s.errMu.Unlock()
			return
		}

		var msg wsResultMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type == "Error" {
			s.results <- Result{Err: fmt.Errorf("engine reported: %s", msg.Description)}
			continue
		}
		if len(msg.Channel.Alternatives) == 0 {
			continue
		}
		alt := msg.Channel.Alternatives[0]
		s.results <- Result{
			Text:       alt.Transcript,
			Final:      msg.IsFinal,
			Confidence: alt.Confidence,
		}
	}
}
