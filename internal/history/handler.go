package history

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/lexiqai/callbob/internal/transcript"
)

// Path is the collection route; a single call lives at Path + "/{id}"
const Path = "/api/calls/history"

type listResponse struct {
	Calls []Call `json:"calls"`
}

type summary struct {
	Call
	Turns int `json:"turns"`
}

// Handler serves GET Path and GET Path/{id}
func Handler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method Not Allowed"})
			return
		}

		id := strings.Trim(strings.TrimPrefix(r.URL.Path, Path), "/")
		if id == "" {
			calls := store.List()
			if calls == nil {
				calls = []Call{}
			}
			writeJSON(w, http.StatusOK, listResponse{Calls: calls})
			return
		}

		call, ok := store.Get(id)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "call not found"})
			return
		}
		writeJSON(w, http.StatusOK, summary{Call: call, Turns: countTurns(call)})
	}
}

func countTurns(call Call) int {
	n := 0
	for _, e := range call.Entries {
		if e.Sender == transcript.SenderUser {
			n++
		}
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
