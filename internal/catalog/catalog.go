// Package catalog holds the fixed user-facing strings of a call: supported
// languages, the introduction and greeting, notices, and conversation ideas.
package catalog

import (
	"sort"
	"strings"
)

// DefaultLanguage is used when a requested language is unknown
const DefaultLanguage = "en-US"

// Language is a selectable speech language
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// languageOptions maps BCP 47 codes passed to the speech engine to display names
var languageOptions = map[string]string{
	"en-US": "English",
	"es-ES": "Spanish",
	"pt-BR": "Portuguese",
	"fr-FR": "French",
	"de-DE": "German",
	"it-IT": "Italian",
	"ja-JP": "Japanese",
}

// Messages are the fixed strings spoken or shown by the assistant
type Messages struct {
	Introduction string // shown before a call starts
	Greeting     string // spoken when a call starts
	Unsupported  string // speech recognition missing in the browser
	Failure      string // relay failed; user may try again
}

type ideaText struct {
	key    string
	title  string
	prompt string // %s is replaced with the language name for language practice
}

type bundle struct {
	messages Messages
	ideas    []ideaText
}

// Bundles are keyed by the primary language subtag
var bundles = map[string]bundle{
	"en": {
		messages: Messages{
			Introduction: "Hi, I'm Cappy! Press call and let's talk about growing your network.",
			Greeting:     "Hello! I'm Coach Cappy. What would you like to talk about today?",
			Unsupported:  "Sorry, your browser doesn't support speech recognition. Try a recent version of Chrome or Edge.",
			Failure:      "Sorry, I couldn't hear back from my brain just now. Please try again.",
		},
		ideas: []ideaText{
			{"conversation.fitnessCoach", "Fitness coach", "Act as my fitness coach and help me plan a weekly workout routine."},
			{"conversation.jobInterview", "Job interview", "Run a mock job interview with me and give me feedback on my answers."},
			{"conversation.languagePractice", "Language practice", "Let's practice %s. Talk with me in simple %s and correct my mistakes."},
			{"conversation.knowledgeQuiz", "Knowledge quiz", "Give me a short general knowledge quiz, one question at a time."},
		},
	},
	"es": {
		messages: Messages{
			Introduction: "¡Hola, soy Cappy! Pulsa llamar y hablemos de cómo ampliar tu red de contactos.",
			Greeting:     "¡Hola! Soy el Coach Cappy. ¿De qué te gustaría hablar hoy?",
			Unsupported:  "Lo siento, tu navegador no admite el reconocimiento de voz. Prueba una versión reciente de Chrome o Edge.",
			Failure:      "Lo siento, no pude obtener una respuesta. Inténtalo de nuevo.",
		},
		ideas: []ideaText{
			{"conversation.fitnessCoach", "Entrenador personal", "Actúa como mi entrenador y ayúdame a planear una rutina semanal."},
			{"conversation.jobInterview", "Entrevista de trabajo", "Hazme una entrevista de trabajo simulada y dame tu opinión sobre mis respuestas."},
			{"conversation.languagePractice", "Práctica de idiomas", "Practiquemos %s. Habla conmigo en %s sencillo y corrige mis errores."},
			{"conversation.knowledgeQuiz", "Concurso de cultura", "Hazme un breve concurso de cultura general, una pregunta a la vez."},
		},
	},
	"pt": {
		messages: Messages{
			Introduction: "Oi, eu sou a Cappy! Aperte ligar e vamos conversar sobre como ampliar sua rede de contatos.",
			Greeting:     "Olá! Eu sou a Coach Cappy. Sobre o que você quer conversar hoje?",
			Unsupported:  "Desculpe, seu navegador não suporta reconhecimento de voz. Tente uma versão recente do Chrome ou Edge.",
			Failure:      "Desculpe, não consegui obter uma resposta agora. Tente novamente.",
		},
		ideas: []ideaText{
			{"conversation.fitnessCoach", "Personal trainer", "Seja meu personal trainer e me ajude a montar uma rotina semanal de treinos."},
			{"conversation.jobInterview", "Entrevista de emprego", "Faça uma entrevista de emprego simulada comigo e comente minhas respostas."},
			{"conversation.languagePractice", "Prática de idiomas", "Vamos praticar %s. Converse comigo em %s simples e corrija meus erros."},
			{"conversation.knowledgeQuiz", "Quiz de conhecimentos", "Faça um quiz curto de conhecimentos gerais, uma pergunta por vez."},
		},
	},
}

// Normalize returns code if it is a supported language, DefaultLanguage otherwise
func Normalize(code string) string {
	if _, ok := languageOptions[code]; ok {
		return code
	}
	// Accept case variants like "en-us"
	for known := range languageOptions {
		if strings.EqualFold(known, code) {
			return known
		}
	}
	return DefaultLanguage
}

// LanguageName returns the display name of a language code
func LanguageName(code string) string {
	return languageOptions[Normalize(code)]
}

// Languages lists the supported languages sorted by code
func Languages() []Language {
	out := make([]Language, 0, len(languageOptions))
	for code, name := range languageOptions {
		out = append(out, Language{Code: code, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func lookup(code string) bundle {
	code = Normalize(code)
	primary, _, _ := strings.Cut(code, "-")
	if b, ok := bundles[primary]; ok {
		return b
	}
	return bundles["en"]
}

// MessagesFor returns the fixed assistant strings for a language
func MessagesFor(code string) Messages {
	return lookup(code).messages
}
