// Command callctl places a text call against a running relay: typed lines are
// the user's speech and replies are printed as the assistant speaks them.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lexiqai/callbob/internal/call"
	"github.com/lexiqai/callbob/internal/catalog"
	"github.com/lexiqai/callbob/internal/config"
	"github.com/lexiqai/callbob/internal/observability"
	"github.com/lexiqai/callbob/internal/relay"
	"github.com/lexiqai/callbob/internal/speech"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

const usage = `Commands:
  /call          start a call
  /hangup        end the call
  /mute          stop listening
  /listen        resume listening
  /ideas         list conversation ideas
  /idea <key>    send a conversation idea
  /lang <code>   switch language (ends the call)
  /quit          exit
Anything else is said to the assistant.`

func main() {
	url := pflag.String("url", "http://localhost:8080", "base URL of the relay service")
	language := pflag.String("language", "", "speech language (default DEFAULT_LANGUAGE)")
	envFile := pflag.String("env", ".env", "path to a .env file")
	timeout := pflag.Duration("timeout", 60*time.Second, "relay request timeout")
	logLevel := pflag.String("log-level", "warn", "log level")
	pflag.Parse()

	// Missing .env files are not an error
	_ = godotenv.Load(*envFile)
	observability.InitLogger(*logLevel, true)
	logger := observability.WithComponent("callctl")

	if *language == "" {
		*language = config.GetEnv("DEFAULT_LANGUAGE", catalog.DefaultLanguage)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	console := speech.NewConsole(os.Stdout, "Cappy")
	ctrl := call.NewController(call.Options{
		Language:    *language,
		Recognizer:  console,
		Synthesizer: console,
		Relay:       relay.NewHTTPClient(*url, &http.Client{Timeout: *timeout}),
		OnNotice: func(text string) {
			fmt.Fprintf(os.Stdout, "(%s)\n", text)
		},
		Logger: &logger,
	})

	sh := &shell{ctrl: ctrl, language: catalog.Normalize(*language), quit: cancel}
	fmt.Println(catalog.MessagesFor(sh.language).Introduction)
	fmt.Println(usage)

	console.Bind(ctrl)
	go ctrl.Run(ctx)

	// Stdin reads block, so input is consumed off the main goroutine
	readErr := make(chan error, 1)
	go func() {
		readErr <- console.ReadLines(ctx, os.Stdin, sh.handle)
	}()

	select {
	case <-ctx.Done():
	case err := <-readErr:
		if err != nil {
			logger.Error().Err(err).Msg("Failed to read input")
		}
	}

	cancel()
	<-ctrl.Done()
}

type shell struct {
	ctrl     *call.Controller
	language string
	quit     context.CancelFunc
}

// handle runs slash commands; other lines are left to the console as speech
func (s *shell) handle(line string) bool {
	if !strings.HasPrefix(line, "/") {
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/call":
		s.ctrl.StartCall()
	case "/hangup":
		s.ctrl.EndCall()
	case "/mute":
		s.ctrl.Mute()
	case "/listen":
		s.ctrl.Listen()
	case "/ideas":
		for _, idea := range catalog.Ideas(s.language) {
			fmt.Printf("  %-28s %s\n", idea.Key, idea.Title)
		}
	case "/idea":
		s.ctrl.Idea(arg)
	case "/lang":
		s.language = catalog.Normalize(arg)
		s.ctrl.SetLanguage(s.language)
		fmt.Printf("Language: %s (%s)\n", catalog.LanguageName(s.language), s.language)
	case "/quit":
		s.quit()
	default:
		fmt.Println(usage)
	}
	return true
}
