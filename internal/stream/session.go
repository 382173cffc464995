// Package stream serves the call WebSocket: the browser reports its speech
// engine events and the server drives those engines through commands.
package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lexiqai/callbob/internal/call"
	"github.com/lexiqai/callbob/internal/catalog"
	"github.com/lexiqai/callbob/internal/config"
	"github.com/lexiqai/callbob/internal/observability"
	"github.com/lexiqai/callbob/internal/speech"
	"github.com/rs/zerolog"
)

// Path is the route of the call stream
const Path = "/streams/call"

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Client event names
const (
	EventHello       = "hello"
	EventStartCall   = "start_call"
	EventEndCall     = "end_call"
	EventUtterance   = "utterance"
	EventIdea        = "idea"
	EventSpeechStart = "speech_start"
	EventSpeechEnd   = "speech_end"
	EventLanguage    = "language"
	EventListen      = "listen"
	EventMute        = "mute"

	eventView = "view"
)

// ClientMessage is a message from the browser
type ClientMessage struct {
	Event       string `json:"event"`
	Language    string `json:"language,omitempty"`
	Recognition bool   `json:"recognition,omitempty"`
	Synthesis   bool   `json:"synthesis,omitempty"`
	Text        string `json:"text,omitempty"`
	Key         string `json:"key,omitempty"`
}

// ViewMessage carries the presentation state to the browser
type ViewMessage struct {
	Event string `json:"event"`
	call.View
}

// Handler upgrades requests to call sessions. Each connection owns its own
// controller and transcript.
type Handler struct {
	relay    call.Relay
	history  call.Recorder
	language string
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler creates the call stream handler
func NewHandler(cfg *config.Config, relay call.Relay, history call.Recorder) *Handler {
	return &Handler{
		relay:    relay,
		history:  history,
		language: cfg.DefaultLanguage,
		upgrader: websocket.Upgrader{
			CheckOrigin:     checkOrigin(cfg.AllowedOrigins),
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger: observability.WithComponent("stream"),
	}
}

// checkOrigin allows the configured origins; "*" allows any. With no
// configured origins the upgrader's same-host check applies.
func checkOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		if set["*"] {
			return true
		}
		return set[r.Header.Get("Origin")]
	}
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied
		h.logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
		return
	}
	defer conn.Close()

	language := r.URL.Query().Get("language")
	if language == "" {
		language = h.language
	}

	s := newSession(conn, h, catalog.Normalize(language))
	observability.StreamOpened()
	defer observability.StreamClosed()

	s.logger.Info().Str("remote_addr", r.RemoteAddr).Msg("Call stream connected")
	s.run(r.Context())
	s.logger.Info().Msg("Call stream closed")
}

// Session is one browser connection
type Session struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	adapter *speech.Adapter
	ctrl    *call.Controller
	logger  zerolog.Logger
}

func newSession(conn *websocket.Conn, h *Handler, language string) *Session {
	sessionID := uuid.New().String()
	logger := observability.WithCorrelationID(observability.NewCorrelationID()).
		With().
		Str("session_id", sessionID).
		Logger()

	s := &Session{conn: conn, logger: logger}
	s.adapter = speech.NewAdapter(s.sendCommand, catalog.MessagesFor(language).Unsupported)
	s.ctrl = call.NewController(call.Options{
		Language:    language,
		Recognizer:  s.adapter,
		Synthesizer: s.adapter,
		Relay:       h.relay,
		History:     h.history,
		OnView:      s.sendView,
		OnNotice: func(text string) {
			s.sendCommand(speech.Command{Kind: speech.CommandNotice, Text: text})
		},
		Logger: &logger,
	})
	return s
}

// run serves the session until the client disconnects or ctx is done
func (s *Session) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.ctrl.Run(ctx)
	go s.keepAlive(ctx)

	s.readLoop(ctx)
	cancel()
	<-s.ctrl.Done()
}

func (s *Session) readLoop(ctx context.Context) {
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			observability.RecordError("invalid_message", "stream")
			s.logger.Warn().Err(err).Msg("Failed to parse client message")
			continue
		}
		s.dispatch(msg)
	}
}

func (s *Session) dispatch(msg ClientMessage) {
	switch msg.Event {
	case EventHello:
		caps := speech.Capabilities{Recognition: msg.Recognition, Synthesis: msg.Synthesis}
		s.adapter.SetCapabilities(caps)
		s.ctrl.SetCapabilities(caps)
		s.logger.Debug().
			Bool("recognition", caps.Recognition).
			Bool("synthesis", caps.Synthesis).
			Msg("Client capabilities")
		if msg.Language != "" {
			s.setLanguage(msg.Language)
		}
	case EventStartCall:
		s.ctrl.StartCall()
	case EventEndCall:
		s.ctrl.EndCall()
	case EventUtterance:
		s.ctrl.Utterance(msg.Text)
	case EventIdea:
		s.ctrl.Idea(msg.Key)
	case EventSpeechStart:
		s.ctrl.SpeechStarted()
	case EventSpeechEnd:
		s.ctrl.SpeechEnded()
	case EventLanguage:
		s.setLanguage(msg.Language)
	case EventListen:
		s.ctrl.Listen()
	case EventMute:
		s.ctrl.Mute()
	default:
		s.logger.Warn().Str("event", msg.Event).Msg("Unknown client event")
	}
}

func (s *Session) setLanguage(code string) {
	code = catalog.Normalize(code)
	s.adapter.SetNotice(catalog.MessagesFor(code).Unsupported)
	s.ctrl.SetLanguage(code)
}

func (s *Session) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.logger.Debug().Err(err).Msg("Ping failed")
				return
			}
		}
	}
}

func (s *Session) sendCommand(cmd speech.Command) error {
	return s.write(cmd)
}

func (s *Session) sendView(v call.View) {
	if err := s.write(ViewMessage{Event: eventView, View: v}); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to send view")
	}
}

func (s *Session) write(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}
