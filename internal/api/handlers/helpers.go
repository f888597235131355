package handlers

import (
	"context"
	"delivery-run-service/internal/api/dto"
	"delivery-run-service/internal/domain"
	"delivery-run-service/internal/platform/obs"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode failed: method=%s path=%s err=%v", r.Method, r.URL.Path, err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, kind, msg string) {
	writeJSON(w, r, status, dto.ErrorResponse{Error: msg, Kind: kind})
}

// statusClientClosedRequest is nginx's code for a request the caller gave up on.
const statusClientClosedRequest = 499

// errorKind maps an error to its HTTP status and a stable kind string.
// Context errors win over the adapter error that wraps them.
func errorKind(err error) (int, string) {
	switch {
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest, "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "deadline_exceeded"
	case errors.Is(err, domain.ErrOptimizationInProgress):
		return http.StatusConflict, "optimization_in_progress"
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, domain.ErrRunNotFound):
		return http.StatusNotFound, "run_not_found"
	case errors.Is(err, domain.ErrUnknownDriver):
		return http.StatusBadRequest, "unknown_driver"
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, domain.ErrGeocodeUnavailable):
		return http.StatusBadGateway, "geocode_unavailable"
	case errors.Is(err, domain.ErrMatrixUnavailable):
		return http.StatusBadGateway, "matrix_unavailable"
	}
	return http.StatusInternalServerError, "internal"
}

// writeServiceError renders a service failure. Known kinds carry the error
// text; anything else is logged and reported generically.
func writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, kind := errorKind(err)
	if status == http.StatusInternalServerError {
		log.Printf("req_id=%s %s failed: %v", obs.RequestID(r.Context()), op, err)
		writeError(w, r, status, kind, "internal server error")
		return
	}
	writeError(w, r, status, kind, err.Error())
}

// decodeJSON reads exactly one JSON object into dst and validates it. It
// writes the 400 response itself and reports whether decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	defer r.Body.Close()
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_argument", "invalid json body")
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		writeError(w, r, http.StatusBadRequest, "invalid_argument", "body must contain only one JSON object")
		return false
	}

	if err := validate.Struct(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_argument", validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "datetime":
			msgs = append(msgs, fmt.Sprintf("%s must match %s", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
