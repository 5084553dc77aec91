package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/silvanus-labs/greenchain/internal/apperr"
	"github.com/silvanus-labs/greenchain/internal/logging"
)

// MaxBodyBytes bounds request bodies.
const MaxBodyBytes = 1 << 20

var errNotFound = apperr.NewNotFound("Not found")

type errorBody struct {
	Detail string `json:"detail"`
	Error  string `json:"error"`
	Code   string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError reports err with the status of its kind. Foreign errors are
// reported as internal without their message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.StatusOf(err)
	body := errorBody{Detail: "Internal server error", Error: string(apperr.KindInternal)}
	if e, ok := apperr.As(err); ok {
		body.Detail = e.Message
		body.Error = string(e.Kind)
		body.Code = e.Code
	}

	log := logging.FromContext(r.Context(), s.logger)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	} else {
		log.Debug("request rejected", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, body)
}

// decodeJSON decodes a single JSON value from the request body. Numbers are
// kept as json.Number.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.New(apperr.KindTooLarge, "Request body too large", err)
		}
		return apperr.New(apperr.KindBadRequest, "Malformed JSON body", err)
	}
	return nil
}
