package call

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/lexiqai/callbob/internal/catalog"
	"github.com/lexiqai/callbob/internal/transcript"
)

var testMessages = catalog.Messages{
	Introduction: "intro",
	Greeting:     "greeting",
	Unsupported:  "unsupported",
	Failure:      "failure",
}

func newTestMachine() *Machine {
	return NewMachine("en-US", testMessages, true)
}

func mustHandle(t *testing.T, m *Machine, ev Event) []Effect {
	t.Helper()
	effects, err := m.Handle(ev)
	if err != nil {
		t.Fatalf("Handle(%s) failed: %v", ev.Kind, err)
	}
	return effects
}

func kinds(effects []Effect) []EffectKind {
	out := make([]EffectKind, len(effects))
	for i, e := range effects {
		out[i] = e.Kind
	}
	return out
}

func hasEffect(effects []Effect, kind EffectKind) bool {
	for _, e := range effects {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

func indexOf(effects []Effect, kind EffectKind) int {
	for i, e := range effects {
		if e.Kind == kind {
			return i
		}
	}
	return -1
}

func lastAsk(t *testing.T, effects []Effect) Effect {
	t.Helper()
	for i := len(effects) - 1; i >= 0; i-- {
		if effects[i].Kind == EffectAsk {
			return effects[i]
		}
	}
	t.Fatalf("Expected an Ask effect, got %v", kinds(effects))
	return Effect{}
}

func TestMachine_StartCall(t *testing.T) {
	m := newTestMachine()

	effects := mustHandle(t, m, Event{Kind: EventStartCall})

	if m.State() != StateListening {
		t.Errorf("Expected listening, got %s", m.State())
	}
	want := []EffectKind{EffectCallStarted, EffectStartListening, EffectSpeak}
	got := kinds(effects)
	if len(got) != len(want) {
		t.Fatalf("Expected effects %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Effect %d: expected %v, got %v", i, want[i], got[i])
		}
	}
	if effects[2].Text != "greeting" {
		t.Errorf("Expected greeting to be spoken, got %q", effects[2].Text)
	}

	entries := m.Transcript()
	if len(entries) != 2 || entries[1].Text != "greeting" {
		t.Errorf("Expected transcript [intro greeting], got %+v", entries)
	}
}

func TestMachine_StartCallWithoutRecognition(t *testing.T) {
	m := NewMachine("en-US", testMessages, false)

	effects := mustHandle(t, m, Event{Kind: EventStartCall})

	if m.State() != StateIdle {
		t.Errorf("Expected idle, got %s", m.State())
	}
	if len(effects) != 1 || effects[0].Kind != EffectNotice {
		t.Fatalf("Expected a single notice, got %v", kinds(effects))
	}
	last := m.Transcript()[len(m.Transcript())-1]
	if last.Sender != transcript.SenderAssistant || last.Text != "unsupported" {
		t.Errorf("Expected unsupported notice entry, got %+v", last)
	}
}

func TestMachine_CapabilitiesEnableRecognition(t *testing.T) {
	m := NewMachine("en-US", testMessages, false)
	mustHandle(t, m, Event{Kind: EventCapabilities, Recognition: true})
	mustHandle(t, m, Event{Kind: EventStartCall})

	if m.State() != StateListening {
		t.Errorf("Expected listening after capabilities, got %s", m.State())
	}
}

func TestMachine_EndCallResetsAndCancels(t *testing.T) {
	m := newTestMachine()
	mustHandle(t, m, Event{Kind: EventStartCall})
	mustHandle(t, m, Event{Kind: EventSpeechStarted})
	mustHandle(t, m, Event{Kind: EventSpeechEnded})
	mustHandle(t, m, Event{Kind: EventUtterance, Text: "hello"})
	mustHandle(t, m, Event{Kind: EventSpeechStarted}) // some late speech

	effects := mustHandle(t, m, Event{Kind: EventEndCall})

	for _, kind := range []EffectKind{EffectCancelAsk, EffectCancelSpeech, EffectAbortListening, EffectRecord, EffectCallEnded} {
		if !hasEffect(effects, kind) {
			t.Errorf("Expected effect %v in %v", kind, kinds(effects))
		}
	}
	if m.State() != StateIdle {
		t.Errorf("Expected idle, got %s", m.State())
	}
	entries := m.Transcript()
	if len(entries) != 1 || entries[0].Text != "intro" {
		t.Errorf("Expected single intro entry, got %+v", entries)
	}
	if m.InFlight() {
		t.Error("Expected no request in flight after end call")
	}
}

func TestMachine_EndCallWithoutUserTurnIsNotRecorded(t *testing.T) {
	m := newTestMachine()
	mustHandle(t, m, Event{Kind: EventStartCall})

	effects := mustHandle(t, m, Event{Kind: EventEndCall})

	if hasEffect(effects, EffectRecord) {
		t.Error("Expected greeting-only call not to be recorded")
	}
	if !hasEffect(effects, EffectCancelSpeech) {
		t.Error("Expected pending greeting to be cancelled")
	}
}

func TestMachine_EndCallWhileIdle(t *testing.T) {
	m := newTestMachine()

	effects := mustHandle(t, m, Event{Kind: EventEndCall})

	if len(effects) != 0 {
		t.Errorf("Expected no effects, got %v", kinds(effects))
	}
	if len(m.Transcript()) != 1 {
		t.Errorf("Expected single entry, got %+v", m.Transcript())
	}
}

func TestMachine_UtteranceAsksWithFullTranscript(t *testing.T) {
	m := newTestMachine()
	mustHandle(t, m, Event{Kind: EventStartCall})

	effects := mustHandle(t, m, Event{Kind: EventUtterance, Text: "  hello  "})

	ask := lastAsk(t, effects)
	if len(ask.Entries) != 3 {
		t.Fatalf("Expected 3 entries in request, got %+v", ask.Entries)
	}
	if ask.Entries[2] != (transcript.Entry{Sender: transcript.SenderUser, Text: "hello"}) {
		t.Errorf("Unexpected user entry: %+v", ask.Entries[2])
	}
	if !m.InFlight() {
		t.Error("Expected request in flight")
	}
}

func TestMachine_BlankUtteranceIgnored(t *testing.T) {
	m := newTestMachine()
	mustHandle(t, m, Event{Kind: EventStartCall})

	effects := mustHandle(t, m, Event{Kind: EventUtterance, Text: " \n\t"})

	if len(effects) != 0 || len(m.Transcript()) != 2 {
		t.Errorf("Expected blank utterance to be ignored, got %v", kinds(effects))
	}
}

func TestMachine_UtteranceFromIdleStartsCallWithoutGreeting(t *testing.T) {
	m := newTestMachine()

	effects := mustHandle(t, m, Event{Kind: EventUtterance, Text: "quiz me", Source: SourceIdea})

	if m.State() != StateListening {
		t.Errorf("Expected listening, got %s", m.State())
	}
	if hasEffect(effects, EffectSpeak) {
		t.Error("Expected no greeting")
	}
	if !hasEffect(effects, EffectCallStarted) || !hasEffect(effects, EffectAsk) {
		t.Errorf("Expected call start and ask, got %v", kinds(effects))
	}
	entries := m.Transcript()
	if len(entries) != 2 || entries[1].Text != "quiz me" {
		t.Errorf("Unexpected transcript %+v", entries)
	}
}

func TestMachine_IdeaWithoutRecognitionStaysTextOnly(t *testing.T) {
	m := NewMachine("en-US", testMessages, false)

	effects := mustHandle(t, m, Event{Kind: EventUtterance, Text: "quiz me", Source: SourceIdea})

	if hasEffect(effects, EffectStartListening) {
		t.Errorf("Expected no recognition, got %v", kinds(effects))
	}
	if !hasEffect(effects, EffectCallStarted) || !hasEffect(effects, EffectAsk) {
		t.Errorf("Expected call start and ask, got %v", kinds(effects))
	}
	if v := m.View(); !v.Calling || v.Listening || !v.Muted {
		t.Errorf("Expected a text-only call, got %+v", v)
	}

	ask := lastAsk(t, effects)
	effects = mustHandle(t, m, Event{Kind: EventReply, Token: ask.Token, Text: "Hi!"})
	if len(effects) != 1 || effects[0].Kind != EffectNotice || effects[0].Text != "unsupported" {
		t.Errorf("Expected unsupported notice instead of speech, got %+v", effects)
	}
	if got := m.View().LastMessage; got != "Hi!" {
		t.Errorf("Expected reply in transcript, got %q", got)
	}

	effects = mustHandle(t, m, Event{Kind: EventListen})
	if len(effects) != 1 || effects[0].Kind != EffectNotice {
		t.Errorf("Expected listen to be refused with a notice, got %v", kinds(effects))
	}
}

func TestMachine_MuteAndListen(t *testing.T) {
	m := newTestMachine()
	mustHandle(t, m, Event{Kind: EventStartCall})

	effects := mustHandle(t, m, Event{Kind: EventMute})
	if len(effects) != 1 || effects[0].Kind != EffectStopListening {
		t.Errorf("Expected StopListening, got %v", kinds(effects))
	}
	if v := m.View(); !v.Calling || v.Listening || !v.Muted {
		t.Errorf("Expected muted call, got %+v", v)
	}
	if effects := mustHandle(t, m, Event{Kind: EventMute}); len(effects) != 0 {
		t.Errorf("Expected second mute to do nothing, got %v", kinds(effects))
	}

	effects = mustHandle(t, m, Event{Kind: EventListen})
	if len(effects) != 1 || effects[0].Kind != EffectStartListening {
		t.Errorf("Expected StartListening, got %v", kinds(effects))
	}
	if v := m.View(); !v.Listening || v.Muted {
		t.Errorf("Expected listening, got %+v", v)
	}
	if effects := mustHandle(t, m, Event{Kind: EventListen}); len(effects) != 0 {
		t.Errorf("Expected listen while listening to do nothing, got %v", kinds(effects))
	}
}

func TestMachine_MutedCallDoesNotResumeAfterSpeech(t *testing.T) {
	m := newTestMachine()
	mustHandle(t, m, Event{Kind: EventStartCall})
	mustHandle(t, m, Event{Kind: EventSpeechStarted})

	if effects := mustHandle(t, m, Event{Kind: EventMute}); len(effects) != 0 {
		t.Errorf("Expected mute while speaking to need no command, got %v", kinds(effects))
	}
	if effects := mustHandle(t, m, Event{Kind: EventSpeechEnded}); len(effects) != 0 {
		t.Errorf("Expected recognition to stay off, got %v", kinds(effects))
	}

	mustHandle(t, m, Event{Kind: EventSpeechStarted})
	if effects := mustHandle(t, m, Event{Kind: EventListen}); len(effects) != 0 {
		t.Errorf("Expected no recognition while speaking, got %v", kinds(effects))
	}
	effects := mustHandle(t, m, Event{Kind: EventSpeechEnded})
	if len(effects) != 1 || effects[0].Kind != EffectStartListening {
		t.Errorf("Expected recognition to resume after speech, got %v", kinds(effects))
	}
}

func TestMachine_EndCallClearsMute(t *testing.T) {
	m := newTestMachine()
	mustHandle(t, m, Event{Kind: EventStartCall})
	mustHandle(t, m, Event{Kind: EventMute})
	mustHandle(t, m, Event{Kind: EventEndCall})

	if m.Muted() {
		t.Error("Expected mute to be cleared by hang-up")
	}
	if effects := mustHandle(t, m, Event{Kind: EventMute}); len(effects) != 0 || m.Muted() {
		t.Errorf("Expected mute while idle to be ignored, got %v", kinds(effects))
	}
}

func TestMachine_BargeInCancelsSpeechFirst(t *testing.T) {
	m := newTestMachine()
	mustHandle(t, m, Event{Kind: EventStartCall})
	mustHandle(t, m, Event{Kind: EventSpeechStarted})

	effects := mustHandle(t, m, Event{Kind: EventUtterance, Text: "wait"})

	if len(effects) == 0 || effects[0].Kind != EffectCancelSpeech {
		t.Fatalf("Expected CancelSpeech first, got %v", kinds(effects))
	}
	if indexOf(effects, EffectStartListening) < 0 {
		t.Error("Expected recognition to resume")
	}
	if m.State() != StateListening {
		t.Errorf("Expected listening, got %s", m.State())
	}
}

func TestMachine_UtteranceBeforePendingSpeechStarts(t *testing.T) {
	m := newTestMachine()
	mustHandle(t, m, Event{Kind: EventStartCall})

	effects := mustHandle(t, m, Event{Kind: EventUtterance, Text: "hi"})

	if len(effects) == 0 || effects[0].Kind != EffectCancelSpeech {
		t.Errorf("Expected pending greeting to be cancelled first, got %v", kinds(effects))
	}
}

func TestMachine_ReplyAppendsAndSpeaks(t *testing.T) {
	m := newTestMachine()
	mustHandle(t, m, Event{Kind: EventStartCall})
	ask := lastAsk(t, mustHandle(t, m, Event{Kind: EventUtterance, Text: "hello"}))

	effects := mustHandle(t, m, Event{Kind: EventReply, Token: ask.Token, Text: "Hi!"})

	if len(effects) != 1 || effects[0].Kind != EffectSpeak || effects[0].Text != "Hi!" {
		t.Errorf("Expected Speak(Hi!), got %+v", effects)
	}
	entries := m.Transcript()
	last := entries[len(entries)-1]
	if last != (transcript.Entry{Sender: transcript.SenderAssistant, Text: "Hi!"}) {
		t.Errorf("Expected assistant Hi!, got %+v", last)
	}
	if m.InFlight() {
		t.Error("Expected no request in flight")
	}
}

func TestMachine_ReplyWhileSpeakingIsNotVoiced(t *testing.T) {
	m := newTestMachine()
	mustHandle(t, m, Event{Kind: EventStartCall})
	ask := lastAsk(t, mustHandle(t, m, Event{Kind: EventUtterance, Text: "hello"}))
	mustHandle(t, m, Event{Kind: EventSpeechStarted})

	effects := mustHandle(t, m, Event{Kind: EventReply, Token: ask.Token, Text: "Hi!"})

	if len(effects) != 0 {
		t.Errorf("Expected no effects, got %v", kinds(effects))
	}
	if got := m.View().LastMessage; got != "Hi!" {
		t.Errorf("Expected reply in transcript, got %q", got)
	}
}

func TestMachine_StaleReplies(t *testing.T) {
	m := newTestMachine()
	mustHandle(t, m, Event{Kind: EventStartCall})
	first := lastAsk(t, mustHandle(t, m, Event{Kind: EventUtterance, Text: "one"}))
	second := lastAsk(t, mustHandle(t, m, Event{Kind: EventUtterance, Text: "two"}))

	if _, err := m.Handle(Event{Kind: EventReply, Token: first.Token, Text: "old"}); !errors.Is(err, ErrStale) {
		t.Errorf("Expected superseded reply to be stale, got %v", err)
	}

	mustHandle(t, m, Event{Kind: EventEndCall})
	if _, err := m.Handle(Event{Kind: EventReply, Token: second.Token, Text: "late"}); !errors.Is(err, ErrStale) {
		t.Errorf("Expected reply after hang-up to be stale, got %v", err)
	}
	if _, err := m.Handle(Event{Kind: EventRelayFailed, Token: second.Token}); !errors.Is(err, ErrStale) {
		t.Errorf("Expected failure after hang-up to be stale, got %v", err)
	}
	if len(m.Transcript()) != 1 {
		t.Errorf("Expected transcript to stay reset, got %+v", m.Transcript())
	}
}

func TestMachine_RelayFailureLeavesTranscript(t *testing.T) {
	m := newTestMachine()
	mustHandle(t, m, Event{Kind: EventStartCall})
	ask := lastAsk(t, mustHandle(t, m, Event{Kind: EventUtterance, Text: "hello"}))
	before := m.Transcript()

	effects := mustHandle(t, m, Event{Kind: EventRelayFailed, Token: ask.Token, Err: errors.New("boom")})

	if len(effects) != 1 || effects[0].Kind != EffectNotice || effects[0].Text != "failure" {
		t.Errorf("Expected failure notice, got %+v", effects)
	}
	if len(m.Transcript()) != len(before) {
		t.Errorf("Expected transcript unchanged, got %+v", m.Transcript())
	}
	if m.State() != StateListening {
		t.Errorf("Expected call to continue, got %s", m.State())
	}
}

func TestMachine_EmptyReplyIsFailure(t *testing.T) {
	m := newTestMachine()
	mustHandle(t, m, Event{Kind: EventStartCall})
	ask := lastAsk(t, mustHandle(t, m, Event{Kind: EventUtterance, Text: "hello"}))

	effects := mustHandle(t, m, Event{Kind: EventReply, Token: ask.Token, Text: "   "})

	if len(effects) != 1 || effects[0].Kind != EffectNotice {
		t.Errorf("Expected failure notice, got %+v", effects)
	}
	if len(m.Transcript()) != 3 {
		t.Errorf("Expected transcript unchanged, got %+v", m.Transcript())
	}
}

func TestMachine_SpeechCycle(t *testing.T) {
	m := newTestMachine()
	mustHandle(t, m, Event{Kind: EventStartCall})

	effects := mustHandle(t, m, Event{Kind: EventSpeechStarted})
	if m.State() != StateSpeaking || len(effects) != 1 || effects[0].Kind != EffectStopListening {
		t.Errorf("Expected speaking with StopListening, got %s %v", m.State(), kinds(effects))
	}

	effects = mustHandle(t, m, Event{Kind: EventSpeechEnded})
	if m.State() != StateListening || len(effects) != 1 || effects[0].Kind != EffectStartListening {
		t.Errorf("Expected listening with StartListening, got %s %v", m.State(), kinds(effects))
	}
}

func TestMachine_SpeechAfterHangUpIsCancelled(t *testing.T) {
	m := newTestMachine()

	effects := mustHandle(t, m, Event{Kind: EventSpeechStarted})

	if len(effects) != 1 || effects[0].Kind != EffectCancelSpeech {
		t.Errorf("Expected CancelSpeech, got %v", kinds(effects))
	}
	if m.State() != StateIdle {
		t.Errorf("Expected idle, got %s", m.State())
	}
}

func TestMachine_LanguageChangeEndsCall(t *testing.T) {
	m := newTestMachine()
	mustHandle(t, m, Event{Kind: EventStartCall})
	mustHandle(t, m, Event{Kind: EventUtterance, Text: "hello"})

	spanish := catalog.MessagesFor("es-ES")
	effects := mustHandle(t, m, Event{Kind: EventLanguage, Language: "es-ES", Messages: spanish})

	if !hasEffect(effects, EffectCallEnded) {
		t.Errorf("Expected call to end, got %v", kinds(effects))
	}
	rec := effects[indexOf(effects, EffectRecord)]
	if rec.Text != "en-US" {
		t.Errorf("Expected record in the call's language, got %q", rec.Text)
	}
	if m.Language() != "es-ES" {
		t.Errorf("Expected es-ES, got %s", m.Language())
	}
	entries := m.Transcript()
	if len(entries) != 1 || entries[0].Text != spanish.Introduction {
		t.Errorf("Expected Spanish introduction, got %+v", entries)
	}
}

// browser models the client's engines as driven by effects
type browser struct {
	listening      bool
	speaking       bool
	pendingSpeech  int
	lastAskToken   uint64
	requestPending bool
}

func (b *browser) apply(effects []Effect) {
	for _, e := range effects {
		switch e.Kind {
		case EffectStartListening:
			b.listening = true
		case EffectStopListening, EffectAbortListening:
			b.listening = false
		case EffectSpeak:
			b.pendingSpeech++
		case EffectCancelSpeech:
			b.speaking = false
			b.pendingSpeech = 0
		case EffectAsk:
			b.lastAskToken = e.Token
			b.requestPending = true
		case EffectCancelAsk:
			b.requestPending = false
		}
	}
}

func TestMachine_NeverListensWhileSpeaking(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 200; run++ {
		m := newTestMachine()
		b := &browser{}

		for step := 0; step < 60; step++ {
			var ev Event
			switch rng.Intn(11) {
			case 0:
				ev = Event{Kind: EventStartCall}
			case 1:
				ev = Event{Kind: EventEndCall}
			case 2, 3:
				ev = Event{Kind: EventUtterance, Text: "words"}
			case 4:
				if b.pendingSpeech == 0 {
					continue
				}
				b.pendingSpeech--
				b.speaking = true
				ev = Event{Kind: EventSpeechStarted}
			case 5:
				if !b.speaking {
					continue
				}
				b.speaking = false
				ev = Event{Kind: EventSpeechEnded}
			case 6:
				ev = Event{Kind: EventReply, Token: b.lastAskToken, Text: "reply"}
			case 7:
				ev = Event{Kind: EventReply, Token: uint64(rng.Intn(5)), Text: "maybe stale"}
			case 8:
				ev = Event{Kind: EventRelayFailed, Token: b.lastAskToken}
			case 9:
				ev = Event{Kind: EventMute}
			case 10:
				ev = Event{Kind: EventListen}
			}

			before := len(m.Transcript())
			effects, err := m.Handle(ev)
			if err != nil {
				if !errors.Is(err, ErrStale) {
					t.Fatalf("run %d step %d: unexpected error %v", run, step, err)
				}
				if len(m.Transcript()) != before {
					t.Fatalf("run %d step %d: stale result changed the transcript", run, step)
				}
				continue
			}
			b.apply(effects)

			if b.listening && b.speaking {
				t.Fatalf("run %d step %d: listening and speaking after %s (effects %v)", run, step, ev.Kind, kinds(effects))
			}
			v := m.View()
			if v.Listening && v.Speaking {
				t.Fatalf("run %d step %d: view reports listening and speaking", run, step)
			}
			if ev.Kind == EventEndCall && len(m.Transcript()) != 1 {
				t.Fatalf("run %d step %d: end call left %d entries", run, step, len(m.Transcript()))
			}
		}
	}
}
