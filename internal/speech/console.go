package speech

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Console is a text stand-in for both engines: spoken text is printed and
// typed lines are recognized utterances.
type Console struct {
	out     io.Writer
	speaker string

	mu        sync.Mutex
	listener  Listener
	listening bool
}

// NewConsole prints speech to out prefixed with the speaker name
func NewConsole(out io.Writer, speaker string) *Console {
	return &Console{out: out, speaker: speaker}
}

// Bind sets the listener receiving callbacks
func (c *Console) Bind(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = l
}

// Supported implements Recognizer
func (c *Console) Supported() bool { return true }

// Start implements Recognizer
func (c *Console) Start(language string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listening = true
	return nil
}

// Stop implements Recognizer
func (c *Console) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listening = false
	return nil
}

// Abort implements Recognizer
func (c *Console) Abort() error { return c.Stop() }

// Listening reports whether typed lines are currently being recognized
func (c *Console) Listening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listening
}

// Speak implements Synthesizer. The text is printed at once; start and end
// callbacks are delivered asynchronously so callers may hold their own locks.
func (c *Console) Speak(text, language string) error {
	if _, err := fmt.Fprintf(c.out, "%s: %s\n", c.speaker, text); err != nil {
		return err
	}

	c.mu.Lock()
	l := c.listener
	c.mu.Unlock()

	if l != nil {
		go func() {
			l.SpeechStarted()
			l.SpeechEnded()
		}()
	}
	return nil
}

// Cancel implements Synthesizer; printed speech cannot be taken back
func (c *Console) Cancel() error { return nil }

// ReadLines feeds non-empty lines from r to the listener until r is exhausted
// or ctx is done. Lines for which handle returns true are consumed and not
// treated as speech.
func (c *Console) ReadLines(ctx context.Context, r io.Reader, handle func(line string) bool) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if handle != nil && handle(line) {
			continue
		}

		c.mu.Lock()
		l := c.listener
		c.mu.Unlock()
		if l != nil {
			l.Utterance(line)
		}
	}
	return scanner.Err()
}
