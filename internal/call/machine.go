// Package call implements the call state machine and the controller that
// runs it against speech engines and the relay.
package call

import (
	"errors"
	"strings"

	"github.com/lexiqai/callbob/internal/catalog"
	"github.com/lexiqai/callbob/internal/transcript"
)

// ErrStale is returned for relay results whose request is no longer current
var ErrStale = errors.New("call: stale relay result")

// State of a call. Exactly one is active at a time, so listening and
// assistant-speaking can never hold together.
type State int

const (
	StateIdle State = iota
	StateListening
	StateSpeaking
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// EventKind names an input to the machine
type EventKind int

const (
	EventStartCall EventKind = iota
	EventEndCall
	EventUtterance
	EventSpeechStarted
	EventSpeechEnded
	EventReply
	EventRelayFailed
	EventCapabilities
	EventLanguage
	EventListen
	EventMute
)

var eventNames = map[EventKind]string{
	EventStartCall:     "start_call",
	EventEndCall:       "end_call",
	EventUtterance:     "utterance",
	EventSpeechStarted: "speech_started",
	EventSpeechEnded:   "speech_ended",
	EventReply:         "reply",
	EventRelayFailed:   "relay_failed",
	EventCapabilities:  "capabilities",
	EventLanguage:      "language",
	EventListen:        "listen",
	EventMute:          "mute",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return "unknown"
}

// Utterance sources
const (
	SourceSpeech = "speech"
	SourceIdea   = "idea"
	SourceText   = "text"
)

// Event is an input to the machine
type Event struct {
	Kind EventKind

	Text   string // utterance or reply text
	Source string // utterance source

	Token uint64 // relay request the reply or failure belongs to
	Err   error

	Recognition bool // capabilities: recognition supported

	Language string           // language change
	Messages catalog.Messages // strings for the new language
}

// EffectKind names an action requested by the machine
type EffectKind int

const (
	EffectStartListening EffectKind = iota
	EffectStopListening
	EffectAbortListening
	EffectSpeak
	EffectCancelSpeech
	EffectAsk
	EffectCancelAsk
	EffectNotice
	EffectRecord
	EffectCallStarted
	EffectCallEnded
)

// Effect is an action the controller must perform, in order
type Effect struct {
	Kind    EffectKind
	Text    string // spoken or notice text; call language for EffectRecord
	Token   uint64
	Entries []transcript.Entry
}

type transition func(m *Machine, ev Event) []Effect

// transitions lists the events each state reacts to; anything else is ignored.
// Relay results are checked for staleness before the table is consulted.
var transitions = map[State]map[EventKind]transition{
	StateIdle: {
		EventStartCall:     (*Machine).startCall,
		EventEndCall:       (*Machine).endCall,
		EventUtterance:     (*Machine).utterance,
		EventSpeechStarted: (*Machine).speechAfterHangUp,
	},
	StateListening: {
		EventEndCall:       (*Machine).endCall,
		EventUtterance:     (*Machine).utterance,
		EventSpeechStarted: (*Machine).speechStarted,
		EventReply:         (*Machine).reply,
		EventRelayFailed:   (*Machine).relayFailed,
		EventListen:        (*Machine).listen,
		EventMute:          (*Machine).mute,
	},
	StateSpeaking: {
		EventEndCall:     (*Machine).endCall,
		EventUtterance:   (*Machine).utterance,
		EventSpeechEnded: (*Machine).speechEnded,
		EventReply:       (*Machine).reply,
		EventRelayFailed: (*Machine).relayFailed,
		EventListen:      (*Machine).listen,
		EventMute:        (*Machine).mute,
	},
}

// Machine is the call state machine. It performs no I/O: Handle mutates the
// state and transcript and returns the effects to execute.
// It is not safe for concurrent use.
type Machine struct {
	state       State
	transcript  *transcript.Transcript
	messages    catalog.Messages
	language    string
	recognition bool

	speakPending bool   // Speak requested, start not yet reported
	muted        bool   // microphone off for the rest of the call
	token        uint64 // current relay request
	inFlight     bool
}

// NewMachine creates an idle machine whose transcript holds the introduction
func NewMachine(language string, messages catalog.Messages, recognition bool) *Machine {
	return &Machine{
		state:       StateIdle,
		transcript:  transcript.New(messages.Introduction),
		messages:    messages,
		language:    language,
		recognition: recognition,
	}
}

// State returns the current state
func (m *Machine) State() State { return m.state }

// Language returns the current speech language
func (m *Machine) Language() string { return m.language }

// Transcript returns a copy of the transcript
func (m *Machine) Transcript() []transcript.Entry { return m.transcript.Entries() }

// Muted reports whether the user has turned the microphone off
func (m *Machine) Muted() bool { return m.muted }

// InFlight reports whether a relay request is awaiting its result
func (m *Machine) InFlight() bool { return m.inFlight }

// Handle applies ev and returns the effects to perform in order.
// Relay results that are not for the current request of an active call
// return ErrStale and change nothing.
func (m *Machine) Handle(ev Event) ([]Effect, error) {
	switch ev.Kind {
	case EventCapabilities:
		m.recognition = ev.Recognition
		return nil, nil
	case EventLanguage:
		return m.changeLanguage(ev), nil
	case EventReply, EventRelayFailed:
		if m.state == StateIdle || !m.inFlight || ev.Token != m.token {
			return nil, ErrStale
		}
	}

	fn, ok := transitions[m.state][ev.Kind]
	if !ok {
		return nil, nil
	}
	return fn(m, ev), nil
}

func (m *Machine) startCall(ev Event) []Effect {
	if !m.recognition {
		m.transcript.Append(transcript.SenderAssistant, m.messages.Unsupported)
		return []Effect{{Kind: EffectNotice, Text: m.messages.Unsupported}}
	}

	m.state = StateListening
	m.transcript.Append(transcript.SenderAssistant, m.messages.Greeting)
	m.speakPending = true

	return []Effect{
		{Kind: EffectCallStarted},
		{Kind: EffectStartListening},
		{Kind: EffectSpeak, Text: m.messages.Greeting},
	}
}

func (m *Machine) endCall(ev Event) []Effect {
	var effects []Effect

	if m.inFlight {
		effects = append(effects, Effect{Kind: EffectCancelAsk})
	}
	if m.state == StateSpeaking || m.speakPending {
		effects = append(effects, Effect{Kind: EffectCancelSpeech})
	}
	if m.state != StateIdle {
		effects = append(effects, Effect{Kind: EffectAbortListening})
		if m.transcript.HasUserTurn() {
			effects = append(effects, Effect{Kind: EffectRecord, Text: m.language, Entries: m.transcript.Entries()})
		}
		effects = append(effects, Effect{Kind: EffectCallEnded})
	}

	// Invalidate whatever is still on the wire
	m.token++
	m.inFlight = false
	m.speakPending = false
	m.muted = false
	m.state = StateIdle
	m.transcript.Reset(m.messages.Introduction)

	return effects
}

func (m *Machine) utterance(ev Event) []Effect {
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return nil
	}

	var effects []Effect
	switch m.state {
	case StateIdle:
		// A conversation idea picked before calling starts the call without a
		// greeting. Without recognition the call stays text-only.
		m.state = StateListening
		effects = append(effects, Effect{Kind: EffectCallStarted})
		if m.recognition {
			effects = append(effects, Effect{Kind: EffectStartListening})
		} else {
			m.muted = true
		}
	case StateSpeaking:
		// Barge-in: silence the assistant before the user's turn lands
		m.state = StateListening
		effects = append(effects, Effect{Kind: EffectCancelSpeech})
		if !m.muted {
			effects = append(effects, Effect{Kind: EffectStartListening})
		}
	case StateListening:
		if m.speakPending {
			effects = append(effects, Effect{Kind: EffectCancelSpeech})
		}
	}
	m.speakPending = false

	m.transcript.Append(transcript.SenderUser, text)

	if m.inFlight {
		effects = append(effects, Effect{Kind: EffectCancelAsk})
	}
	m.token++
	m.inFlight = true

	return append(effects, Effect{
		Kind:    EffectAsk,
		Token:   m.token,
		Entries: m.transcript.Entries(),
	})
}

func (m *Machine) reply(ev Event) []Effect {
	m.inFlight = false

	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return []Effect{{Kind: EffectNotice, Text: m.messages.Failure}}
	}

	m.transcript.Append(transcript.SenderAssistant, text)

	// Already speaking: the reply is shown but not voiced
	if m.state == StateSpeaking {
		return nil
	}
	if !m.recognition {
		return []Effect{{Kind: EffectNotice, Text: m.messages.Unsupported}}
	}
	m.speakPending = true
	return []Effect{{Kind: EffectSpeak, Text: text}}
}

func (m *Machine) relayFailed(ev Event) []Effect {
	m.inFlight = false
	return []Effect{{Kind: EffectNotice, Text: m.messages.Failure}}
}

func (m *Machine) speechStarted(ev Event) []Effect {
	m.state = StateSpeaking
	m.speakPending = false
	return []Effect{{Kind: EffectStopListening}}
}

func (m *Machine) speechEnded(ev Event) []Effect {
	m.state = StateListening
	if m.muted {
		return nil
	}
	return []Effect{{Kind: EffectStartListening}}
}

// listen turns the microphone back on. While the assistant speaks it only
// clears the mute; recognition resumes when speech ends.
func (m *Machine) listen(ev Event) []Effect {
	if !m.recognition {
		return []Effect{{Kind: EffectNotice, Text: m.messages.Unsupported}}
	}
	if !m.muted {
		return nil
	}
	m.muted = false
	if m.state == StateSpeaking {
		return nil
	}
	return []Effect{{Kind: EffectStartListening}}
}

// mute stops recognition without hanging up
func (m *Machine) mute(ev Event) []Effect {
	if m.muted {
		return nil
	}
	m.muted = true
	if m.state == StateSpeaking {
		return nil
	}
	return []Effect{{Kind: EffectStopListening}}
}

// speechAfterHangUp silences synthesis that started after the call ended
func (m *Machine) speechAfterHangUp(ev Event) []Effect {
	return []Effect{{Kind: EffectCancelSpeech}}
}

func (m *Machine) changeLanguage(ev Event) []Effect {
	effects := m.endCall(ev)
	if ev.Language != "" {
		m.language = ev.Language
	}
	if ev.Messages != (catalog.Messages{}) {
		m.messages = ev.Messages
	}
	m.transcript.Reset(m.messages.Introduction)
	return effects
}

// View is the presentation state derived from the machine
type View struct {
	State       string             `json:"state"`
	Calling     bool               `json:"calling"`
	Listening   bool               `json:"listening"`
	Muted       bool               `json:"muted"`
	Speaking    bool               `json:"speaking"`
	Waiting     bool               `json:"waiting"`
	Language    string             `json:"language"`
	LastMessage string             `json:"last_message"`
	Transcript  []transcript.Entry `json:"transcript"`
}

// View returns the current presentation state
func (m *Machine) View() View {
	v := View{
		State:      m.state.String(),
		Calling:    m.state != StateIdle,
		Listening:  m.state == StateListening && !m.muted,
		Muted:      m.muted,
		Speaking:   m.state == StateSpeaking,
		Waiting:    m.inFlight,
		Language:   m.language,
		Transcript: m.transcript.Entries(),
	}
	if last, ok := m.transcript.Last(); ok {
		v.LastMessage = last.Text
	}
	return v
}
