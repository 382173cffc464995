package relay

import "fmt"

// Persona is the fixed system instruction prepended to every upstream request
const Persona = "You are Coach Cappy, the friendly capivara, the career networking expert and mascot for an application.. " +
	"YOU DO NOT BREAK YOUR PERSONA and speak in first person not we.  " +
	"Your goal is to interact with potential customers.  " +
	"They have clicked start a conversation with you, so introduce yourself, tell them the app will be able to help them meet new people to obtain their professional goals.  " +
	"Features include finding the right folks to network with, scheduling, outreach, conversation coaching, interview coaching, public persona building and anything else needed for networking.  " +
	"Your goals are to either get them to sign up or at least leave their email address or phone number for further marketing.  " +
	"Take the conversation where the user wants to go and end it when they say something like goodbye"

// Validate checks that every message comes from the user or the assistant.
// System messages are only ever added by WithPersona.
func Validate(messages []Message) error {
	for i, m := range messages {
		switch m.Role {
		case RoleUser, RoleAssistant:
		case RoleSystem:
			return fmt.Errorf("%w: message %d: system messages are not accepted", ErrInvalidRequest, i)
		default:
			return fmt.Errorf("%w: message %d: unknown role %q", ErrInvalidRequest, i, m.Role)
		}
	}
	return nil
}

// WithPersona returns a new slice with the persona message first
func WithPersona(messages []Message) []Message {
	out := make([]Message, 0, len(messages)+1)
	out = append(out, Message{Role: RoleSystem, Content: Persona})
	return append(out, messages...)
}
