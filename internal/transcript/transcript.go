// Package transcript holds the ordered log of turns exchanged during a call.
package transcript

// Sender identifies who produced an entry
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Entry is a single conversation turn
type Entry struct {
	Sender Sender `json:"sender"`
	Text   string `json:"text"`
}

// Transcript is an append-only list of entries that can be reset to a single
// introductory entry. The zero value is an empty transcript.
// It is not safe for concurrent use; the call controller owns it.
type Transcript struct {
	entries []Entry
}

// New returns a transcript seeded with the introductory entry
func New(intro string) *Transcript {
	t := &Transcript{}
	t.Reset(intro)
	return t
}

// Append adds an entry at the end
func (t *Transcript) Append(sender Sender, text string) {
	t.entries = append(t.entries, Entry{Sender: sender, Text: text})
}

// Reset drops every entry and seeds the assistant introduction.
// An empty intro leaves the transcript empty.
func (t *Transcript) Reset(intro string) {
	t.entries = nil
	if intro != "" {
		t.entries = append(t.entries, Entry{Sender: SenderAssistant, Text: intro})
	}
}

// Len returns the number of entries
func (t *Transcript) Len() int {
	return len(t.entries)
}

// Last returns the most recent entry
func (t *Transcript) Last() (Entry, bool) {
	if len(t.entries) == 0 {
		return Entry{}, false
	}
	return t.entries[len(t.entries)-1], true
}

// Entries returns a copy of every entry in order
func (t *Transcript) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// HasUserTurn reports whether the user has said anything yet
func (t *Transcript) HasUserTurn() bool {
	for _, e := range t.entries {
		if e.Sender == SenderUser {
			return true
		}
	}
	return false
}
