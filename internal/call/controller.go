package call

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lexiqai/callbob/internal/catalog"
	"github.com/lexiqai/callbob/internal/history"
	"github.com/lexiqai/callbob/internal/observability"
	"github.com/lexiqai/callbob/internal/relay"
	"github.com/lexiqai/callbob/internal/speech"
	"github.com/rs/zerolog"
)

const eventBuffer = 64

// Relay answers a conversation with the assistant's next reply
type Relay interface {
	Ask(ctx context.Context, messages []relay.Message) (string, error)
}

// Recorder keeps ended calls
type Recorder interface {
	Add(call history.Call) history.Call
}

// Options configure a Controller. Recognizer, Synthesizer and Relay are required.
type Options struct {
	Language    string
	Recognizer  speech.Recognizer
	Synthesizer speech.Synthesizer
	Relay       Relay
	History     Recorder

	// OnView is called on the controller goroutine after every handled event
	OnView func(View)
	// OnNotice is called for soft notices (unsupported speech, relay failure)
	OnNotice func(text string)

	Logger *zerolog.Logger
}

// eventIdea is resolved to an utterance on the controller goroutine
const eventIdea EventKind = -1

// Controller runs a Machine on a single goroutine. Every input, including
// relay results, is posted as an event; effects are executed in order and
// the view is published once they are done.
type Controller struct {
	opts    Options
	machine *Machine
	logger  zerolog.Logger
	metrics *observability.CallMetrics

	events chan Event
	done   chan struct{}

	// owned by the Run goroutine
	runCtx    context.Context
	cancelAsk context.CancelFunc
	callID    string
	startedAt time.Time
	closing   bool
}

// NewController creates a controller. Call Run to start processing events.
func NewController(opts Options) *Controller {
	language := catalog.Normalize(opts.Language)
	opts.Language = language

	logger := observability.WithComponent("call")
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Controller{
		opts:    opts,
		machine: NewMachine(language, catalog.MessagesFor(language), opts.Recognizer.Supported()),
		logger:  logger,
		metrics: observability.NewCallMetrics(),
		events:  make(chan Event, eventBuffer),
		done:    make(chan struct{}),
	}
}

// Run processes events until ctx is done. An active call is ended (and
// recorded) without touching the speech engines.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)

	c.runCtx = ctx
	c.publish()

	for {
		select {
		case <-ctx.Done():
			c.closing = true
			c.handle(Event{Kind: EventEndCall})
			return ctx.Err()
		case ev := <-c.events:
			c.handle(ev)
		}
	}
}

// StartCall begins a call
func (c *Controller) StartCall() { c.post(Event{Kind: EventStartCall}) }

// EndCall hangs up
func (c *Controller) EndCall() { c.post(Event{Kind: EventEndCall}) }

// Utterance implements speech.Listener
func (c *Controller) Utterance(text string) {
	c.post(Event{Kind: EventUtterance, Text: text, Source: SourceSpeech})
}

// Say submits typed text as the user's turn
func (c *Controller) Say(text string) {
	c.post(Event{Kind: EventUtterance, Text: text, Source: SourceText})
}

// Idea submits the prompt of a conversation idea in the current language
func (c *Controller) Idea(key string) { c.post(Event{Kind: eventIdea, Text: key}) }

// SpeechStarted implements speech.Listener
func (c *Controller) SpeechStarted() { c.post(Event{Kind: EventSpeechStarted}) }

// SpeechEnded implements speech.Listener
func (c *Controller) SpeechEnded() { c.post(Event{Kind: EventSpeechEnded}) }

// Listen turns the microphone back on during a call
func (c *Controller) Listen() { c.post(Event{Kind: EventListen}) }

// Mute stops listening without hanging up
func (c *Controller) Mute() { c.post(Event{Kind: EventMute}) }

// SetCapabilities records whether recognition is available
func (c *Controller) SetCapabilities(caps speech.Capabilities) {
	c.post(Event{Kind: EventCapabilities, Recognition: caps.Recognition})
}

// SetLanguage ends any active call and switches language
func (c *Controller) SetLanguage(code string) {
	c.post(Event{Kind: EventLanguage, Language: code})
}

// Done is closed when Run returns
func (c *Controller) Done() <-chan struct{} { return c.done }

// post enqueues ev; it returns false once the controller has stopped
func (c *Controller) post(ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

func (c *Controller) handle(ev Event) {
	switch ev.Kind {
	case eventIdea:
		idea, ok := catalog.FindIdea(c.machine.Language(), ev.Text)
		if !ok {
			c.logger.Warn().Str("idea", ev.Text).Msg("Unknown conversation idea")
			return
		}
		ev = Event{Kind: EventUtterance, Text: idea.Prompt, Source: SourceIdea}
	case EventLanguage:
		ev.Language = catalog.Normalize(ev.Language)
		ev.Messages = catalog.MessagesFor(ev.Language)
	}

	effects, err := c.machine.Handle(ev)
	if errors.Is(err, ErrStale) {
		observability.RecordStaleReply()
		c.logger.Debug().Str("event", ev.Kind.String()).Uint64("token", ev.Token).Msg("Dropped stale relay result")
		return
	}

	switch ev.Kind {
	case EventUtterance:
		if len(effects) > 0 {
			observability.RecordUtterance(ev.Source)
		}
	case EventRelayFailed:
		observability.RecordError("relay_error", "call")
		c.logger.Error().Err(ev.Err).Str("call_id", c.callID).Msg("Relay request failed")
	}

	for _, e := range effects {
		c.execute(ev, e)
	}
	c.publish()
}

func (c *Controller) execute(ev Event, e Effect) {
	lang := c.machine.Language()

	var err error
	switch e.Kind {
	case EffectStartListening:
		err = c.speech(func() error { return c.opts.Recognizer.Start(lang) })
	case EffectStopListening:
		err = c.speech(c.opts.Recognizer.Stop)
	case EffectAbortListening:
		err = c.speech(c.opts.Recognizer.Abort)
	case EffectSpeak:
		err = c.speech(func() error { return c.opts.Synthesizer.Speak(e.Text, lang) })
	case EffectCancelSpeech:
		if ev.Kind == EventUtterance {
			observability.RecordBargeIn()
		}
		err = c.speech(c.opts.Synthesizer.Cancel)
	case EffectAsk:
		c.ask(e.Token, relay.FromTranscript(e.Entries))
	case EffectCancelAsk:
		if c.cancelAsk != nil {
			c.cancelAsk()
			c.cancelAsk = nil
		}
	case EffectNotice:
		if c.opts.OnNotice != nil && !c.closing {
			c.opts.OnNotice(e.Text)
		}
	case EffectRecord:
		c.record(e)
	case EffectCallStarted:
		c.callID = uuid.New().String()
		c.startedAt = time.Now()
		c.metrics.RecordCallStart()
		c.logger.Info().Str("call_id", c.callID).Str("language", lang).Msg("Call started")
	case EffectCallEnded:
		c.metrics.RecordCallEnd()
		c.logger.Info().Str("call_id", c.callID).Dur("duration", time.Since(c.startedAt)).Msg("Call ended")
		c.callID = ""
	}

	if err != nil {
		observability.RecordError("speech_error", "call")
		c.logger.Warn().Err(err).Str("call_id", c.callID).Msg("Speech command failed")
	}
}

// speech runs a speech engine operation unless the controller is shutting down
func (c *Controller) speech(fn func() error) error {
	if c.closing {
		return nil
	}
	return fn()
}

// ask runs the relay request in its own goroutine and posts the result back
func (c *Controller) ask(token uint64, messages []relay.Message) {
	ctx, cancel := context.WithCancel(c.runCtx)
	c.cancelAsk = cancel

	go func() {
		defer cancel()

		reply, err := c.opts.Relay.Ask(ctx, messages)
		if err != nil {
			c.post(Event{Kind: EventRelayFailed, Token: token, Err: err})
			return
		}
		c.post(Event{Kind: EventReply, Token: token, Text: reply})
	}()
}

func (c *Controller) record(e Effect) {
	if c.opts.History == nil {
		return
	}
	call := c.opts.History.Add(history.Call{
		ID:        c.callID,
		Language:  e.Text,
		StartedAt: c.startedAt,
		EndedAt:   time.Now(),
		Entries:   e.Entries,
	})
	c.logger.Debug().Str("call_id", call.ID).Int("entries", len(call.Entries)).Msg("Call recorded")
}

func (c *Controller) publish() {
	if c.opts.OnView != nil && !c.closing {
		c.opts.OnView(c.machine.View())
	}
}
