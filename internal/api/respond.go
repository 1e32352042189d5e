package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/atmx/item-exchange/internal/apperr"
)

// envelope is the result object every endpoint returns.
type envelope struct {
	Success bool     `json:"success"`
	Data    any      `json:"data,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

func writeErrors(w http.ResponseWriter, status int, messages ...string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: false, Errors: messages})
}

// writeError renders an engine error with the status of its kind. Internal
// causes are logged, never shown.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeErrors(w, kind.Status(), apperr.Message(err))
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and validates it. On failure the
// response has been written and ok is false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) (ok bool) {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeErrors(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var fields validator.ValidationErrors
		if !errors.As(err, &fields) {
			writeErrors(w, http.StatusBadRequest, "invalid request body")
			return false
		}
		messages := make([]string, 0, len(fields))
		for _, f := range fields {
			messages = append(messages, fieldMessage(f))
		}
		writeErrors(w, http.StatusBadRequest, messages...)
		return false
	}
	return true
}

func fieldMessage(f validator.FieldError) string {
	// Namespace is "createTradeRequest.items[0].quantity"; drop the type.
	field := f.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	switch f.Tag() {
	case "required":
		return field + " is required"
	case "gt":
		return field + " must be greater than " + f.Param()
	case "min":
		return field + " must have at least " + f.Param() + " entries"
	case "max":
		return field + " is too long"
	default:
		return field + " is invalid"
	}
}

