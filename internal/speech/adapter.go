package speech

import (
	"fmt"
	"sync"
)

// CommandKind names an instruction sent to the client's speech engines
type CommandKind string

const (
	CommandStartListening CommandKind = "start_listening"
	CommandStopListening  CommandKind = "stop_listening"
	CommandAbortListening CommandKind = "abort_listening"
	CommandSpeak          CommandKind = "speak"
	CommandCancelSpeech   CommandKind = "cancel_speech"
	CommandNotice         CommandKind = "notice"
)

// Command is an instruction for the client
type Command struct {
	Kind     CommandKind `json:"event"`
	Text     string      `json:"text,omitempty"`
	Language string      `json:"language,omitempty"`
}

// Sink delivers commands to the client
type Sink func(Command) error

// Adapter drives a remote client's native speech engines through a Sink.
// Until the client reports its capabilities both engines are treated as
// unsupported. When recognition is unsupported, listening operations are
// no-ops and the client receives the unsupported notice once.
type Adapter struct {
	sink Sink

	mu        sync.Mutex
	caps      Capabilities
	notice    string
	notified  bool
	listening bool
}

// NewAdapter creates an adapter sending commands to sink
func NewAdapter(sink Sink, unsupportedNotice string) *Adapter {
	return &Adapter{
		sink:   sink,
		notice: unsupportedNotice,
	}
}

// SetCapabilities records what the client detected
func (a *Adapter) SetCapabilities(caps Capabilities) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.caps = caps
	if !caps.Recognition {
		a.listening = false
	}
}

// SetNotice replaces the unsupported notice (e.g. after a language change)
func (a *Adapter) SetNotice(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.notice = text
}

// Supported implements Recognizer
func (a *Adapter) Supported() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.caps.Recognition
}

// Listening reports whether recognition was last started and not stopped
func (a *Adapter) Listening() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.listening
}

// Start implements Recognizer
func (a *Adapter) Start(language string) error {
	a.mu.Lock()
	if !a.caps.Recognition {
		notice, first := a.notice, !a.notified
		a.notified = true
		a.mu.Unlock()

		if first && notice != "" {
			return a.send(Command{Kind: CommandNotice, Text: notice})
		}
		return nil
	}
	a.listening = true
	a.mu.Unlock()

	return a.send(Command{Kind: CommandStartListening, Language: language})
}

// Stop implements Recognizer
func (a *Adapter) Stop() error {
	return a.stop(CommandStopListening)
}

// Abort implements Recognizer
func (a *Adapter) Abort() error {
	return a.stop(CommandAbortListening)
}

func (a *Adapter) stop(kind CommandKind) error {
	a.mu.Lock()
	if !a.caps.Recognition {
		a.mu.Unlock()
		return nil
	}
	a.listening = false
	a.mu.Unlock()

	return a.send(Command{Kind: kind})
}

// Speak implements Synthesizer. Without synthesis support nothing is spoken.
func (a *Adapter) Speak(text, language string) error {
	a.mu.Lock()
	supported := a.caps.Synthesis
	a.mu.Unlock()

	if !supported {
		return nil
	}
	return a.send(Command{Kind: CommandSpeak, Text: text, Language: language})
}

// Cancel implements Synthesizer
func (a *Adapter) Cancel() error {
	a.mu.Lock()
	supported := a.caps.Synthesis
	a.mu.Unlock()

	if !supported {
		return nil
	}
	return a.send(Command{Kind: CommandCancelSpeech})
}

func (a *Adapter) send(cmd Command) error {
	if err := a.sink(cmd); err != nil {
		return fmt.Errorf("failed to send %s: %w", cmd.Kind, err)
	}
	return nil
}
