package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/nathant8883/mtg-leaderboard/internal/match"
	"github.com/nathant8883/mtg-leaderboard/internal/queue"
	"github.com/nathant8883/mtg-leaderboard/internal/service"
)

// Problem represents an RFC 7807 Problem Details response.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

// problemTypes maps HTTP status codes to RFC 7807 type URIs and titles.
var problemTypes = map[int]struct {
	typeURI string
	title   string
}{
	http.StatusBadRequest: {
		typeURI: "https://podtrack.dev/errors/bad-request",
		title:   "Bad Request",
	},
	http.StatusNotFound: {
		typeURI: "https://podtrack.dev/errors/not-found",
		title:   "Not Found",
	},
	http.StatusConflict: {
		typeURI: "https://podtrack.dev/errors/duplicate-match",
		title:   "Duplicate Match",
	},
	http.StatusUnprocessableEntity: {
		typeURI: "https://podtrack.dev/errors/validation-error",
		title:   "Validation Error",
	},
	http.StatusInternalServerError: {
		typeURI: "https://podtrack.dev/errors/internal-error",
		title:   "Internal Server Error",
	},
}

// WriteProblem writes an RFC 7807 Problem Details response.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	pt, ok := problemTypes[status]
	if !ok {
		pt = struct {
			typeURI string
			title   string
		}{
			typeURI: "https://podtrack.dev/errors/unknown",
			title:   http.StatusText(status),
		}
	}

	p := Problem{
		Type:     pt.typeURI,
		Title:    pt.title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		slog.Error("failed to encode problem response", "error", err)
	}
}

// ProblemWithFields extends Problem with per-field validation errors.
type ProblemWithFields struct {
	Problem
	Errors []match.FieldError `json:"errors,omitempty"`
}

// WriteProblemWithFields writes a 422 Problem Details response carrying
// the field errors that made the match invalid.
func WriteProblemWithFields(w http.ResponseWriter, r *http.Request, detail string, errs []match.FieldError) {
	pt := problemTypes[http.StatusUnprocessableEntity]

	p := ProblemWithFields{
		Problem: Problem{
			Type:     pt.typeURI,
			Title:    pt.title,
			Status:   http.StatusUnprocessableEntity,
			Detail:   detail,
			Instance: r.URL.Path,
		},
		Errors: errs,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(http.StatusUnprocessableEntity)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		slog.Error("failed to encode problem response", "error", err)
	}
}

// MapServiceError converts coordinator errors to Problem Details responses.
// A storage failure says plainly that the match was not saved; silently
// losing a result is the one outcome this app must never present.
func MapServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *match.ValidationError
	switch {
	case errors.As(err, &verr):
		WriteProblemWithFields(w, r, "Match result is invalid", verr.Fields)
	case errors.Is(err, service.ErrDuplicate):
		WriteProblem(w, r, http.StatusConflict, "An identical match was already recorded moments ago")
	case errors.Is(err, queue.ErrNotFound):
		WriteProblem(w, r, http.StatusNotFound, "Queued match not found")
	case errors.Is(err, queue.ErrStorage):
		WriteProblem(w, r, http.StatusInternalServerError, "The match could not be saved. It is NOT queued; please try again.")
	default:
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
	}
}
