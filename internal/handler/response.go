package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/apperr"
	"github.com/kidoxdavid/eazyfoods-sub001/models"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

const maxBodyBytes = 1 << 20

// base carries the helpers every handler shares.
type base struct {
	logger *logger.Logger
}

// writeJSONResponse writes JSON response with given status code and data
func (h base) writeJSONResponse(w http.ResponseWriter, statusCode int, data any) {
	writeJSON(w, h.logger, statusCode, data)
}

func (h base) writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, h.logger, err)
}

// parseRequestBody decodes a JSON body, rejecting unknown fields.
func (h base) parseRequestBody(r *http.Request, target any) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("Request body is required.").WithCode("empty_body")
		}
		return apperr.Validation("Invalid request body.").WithCode("malformed_body").With("reason", err.Error())
	}
	return nil
}

// principal returns the authenticated caller. Routes that reach a handler
// without the auth middleware get the zero principal, which every service
// rejects.
func (h base) principal(r *http.Request) models.Principal {
	p, _ := PrincipalFrom(r.Context())
	return p
}

func writeJSON(w http.ResponseWriter, log *logger.Logger, statusCode int, data any) {
	if data == nil {
		w.WriteHeader(statusCode)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error("Failed to encode JSON response", "error", err)
	}
}

// writeError renders err as the error envelope. Internal causes are logged,
// never returned.
func writeError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	status, body := apperr.Envelope(err)
	if status >= http.StatusInternalServerError {
		log.For(r.Context()).Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, log, status, body)
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, apperr.Validation("Invalid " + name + ".").With("field", name).WithCode("invalid_uuid")
	}
	return id, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Validation(name+" must be a number.").With("field", name).WithCode("invalid_number")
	}
	return n, nil
}

func queryBool(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return b
}

// queryTime accepts RFC 3339 timestamps or plain dates.
func queryTime(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, apperr.Validation(name+" must be a date (YYYY-MM-DD) or RFC 3339 timestamp.").With("field", name).WithCode("invalid_time")
}
