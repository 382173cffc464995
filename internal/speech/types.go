// Package speech adapts speech recognition and synthesis engines to the call
// controller. Recognition and synthesis are independent; the controller alone
// decides when one suspends the other.
package speech

// Recognizer is a continuous speech-to-text engine that reports finalized
// utterances through a Listener
type Recognizer interface {
	// Supported reports whether the engine can recognize speech at all
	Supported() bool

	// Start begins (or resumes) continuous recognition in the given language
	Start(language string) error

	// Stop ends recognition, delivering any pending final result
	Stop() error

	// Abort ends recognition and discards pending results
	Abort() error
}

// Synthesizer is a text-to-speech engine that reports start and end of each
// utterance through a Listener
type Synthesizer interface {
	// Speak queues text to be spoken in the given language
	Speak(text, language string) error

	// Cancel stops the current utterance and drops queued ones
	Cancel() error
}

// Listener receives engine callbacks
type Listener interface {
	Utterance(text string)
	SpeechStarted()
	SpeechEnded()
}

// Capabilities are the engine features detected on the client
type Capabilities struct {
	Recognition bool `json:"recognition"`
	Synthesis   bool `json:"synthesis"`
}
