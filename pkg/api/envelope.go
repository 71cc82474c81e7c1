package api

import (
	"encoding/json"
	"net/http"

	"github.com/hyac-dev/hyac/pkg/log"
	"github.com/hyac-dev/hyac/pkg/store"
)

// Envelope codes. Domain failures ride inside a 200 response; the HTTP
// status only goes non-200 when the request itself could not be served.
const (
	CodeOK         = 0
	CodeValidation = 1
	CodeNotFound   = 404
	CodeConflict   = 409
	CodeInternal   = 500
)

// Envelope is the uniform response shape of the management API
type Envelope struct {
	Code int         `json:"code"`
	Msg  string      `json:"msg"`
	Data interface{} `json:"data"`
}

func writeEnvelope(w http.ResponseWriter, code int, msg string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(Envelope{Code: code, Msg: msg, Data: data}); err != nil {
		log.Logger.Warn().Err(err).Msg("failed to encode response")
	}
}

func ok(w http.ResponseWriter, data interface{}) {
	writeEnvelope(w, CodeOK, "success", data)
}

func fail(w http.ResponseWriter, code int, msg string) {
	writeEnvelope(w, code, msg, nil)
}

// failErr maps store sentinel errors onto envelope codes
func failErr(w http.ResponseWriter, err error) {
	switch err {
	case store.ErrNotFound:
		fail(w, CodeNotFound, "not found")
	case store.ErrDuplicate:
		fail(w, CodeConflict, "already exists")
	case store.ErrConflict:
		fail(w, CodeConflict, "conflict")
	default:
		log.Logger.Error().Err(err).Msg("request failed")
		fail(w, CodeInternal, "internal error")
	}
}

// decode parses a JSON request body into dst
func decode(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}
