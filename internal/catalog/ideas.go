package catalog

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Idea is a canned conversation starter; selecting it sends Prompt as a user utterance
type Idea struct {
	Key    string `json:"key"`
	Title  string `json:"title"`
	Prompt string `json:"prompt"`
}

// Ideas returns the conversation starters for a language
func Ideas(code string) []Idea {
	code = Normalize(code)
	name := LanguageName(code)

	texts := lookup(code).ideas
	out := make([]Idea, 0, len(texts))
	for _, it := range texts {
		out = append(out, Idea{
			Key:    it.key,
			Title:  it.title,
			Prompt: strings.ReplaceAll(it.prompt, "%s", name),
		})
	}
	return out
}

// FindIdea looks up a conversation starter by key
func FindIdea(code, key string) (Idea, bool) {
	for _, idea := range Ideas(code) {
		if idea.Key == key {
			return idea, true
		}
	}
	return Idea{}, false
}

type ideasResponse struct {
	Language  string     `json:"language"`
	Languages []Language `json:"languages"`
	Ideas     []Idea     `json:"ideas"`
}

// IdeasHandler serves GET /api/conversation/ideas?language=<code>
func IdeasHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusMethodNotAllowed)
			json.NewEncoder(w).Encode(map[string]string{"error": "Method Not Allowed"})
			return
		}

		code := Normalize(r.URL.Query().Get("language"))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(ideasResponse{
			Language:  code,
			Languages: Languages(),
			Ideas:     Ideas(code),
		})
	}
}
