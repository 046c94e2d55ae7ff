package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/courtsim/courtroom-backend/internal/trials"
)

func ListTrials(store *trials.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, struct {
			Trials []trials.Trial `json:"trials"`
		}{Trials: store.List()})
	}
}

func CreateTrial(store *trials.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Title       string `json:"title"`
			Description string `json:"description"`
		}
		// A missing or unparsable body still creates an untitled
		// trial, matching the permissive original API.
		_ = json.NewDecoder(r.Body).Decode(&body)

		t := store.Create(body.Title, body.Description)
		writeJSON(w, http.StatusOK, struct {
			OK    bool         `json:"ok"`
			Trial trials.Trial `json:"trial"`
		}{OK: true, Trial: t})
	}
}

func GetTrial(store *trials.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := store.Get(chi.URLParam(r, "id"))
		if errors.Is(err, trials.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, struct {
				Error string `json:"error"`
			}{Error: "not_found"})
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Trial trials.Trial `json:"trial"`
		}{Trial: t})
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
