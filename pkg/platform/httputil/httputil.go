package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	dErrors "relief/pkg/domain-errors"
)

const maxBodyBytes = 1 << 20

// Validatable is implemented by request types that check their own invariants.
type Validatable interface {
	Validate() error
}

// Normalizer is implemented by request types that trim or canonicalise input first.
type Normalizer interface {
	Normalize()
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

type validationBody struct {
	Message string               `json:"message"`
	Errors  *dErrors.FieldErrors `json:"errors"`
}

// WriteError translates err into the JSON error envelope. Validation failures are
// written as 422 with per-field messages; internal errors never leak a description.
func WriteError(w http.ResponseWriter, err error) {
	var ve *dErrors.ValidationError
	if errors.As(err, &ve) {
		WriteValidation(w, ve)
		return
	}

	code := dErrors.CodeOf(err)
	body := map[string]string{"error": string(code)}
	if code != dErrors.CodeInternal {
		var de *dErrors.Error
		if errors.As(err, &de) && de.Message != "" {
			body["error_description"] = de.Message
		}
	}
	WriteJSON(w, dErrors.ToHTTPStatus(code), body)
}

// WriteValidation writes 422 with the first message and every field error in report order.
func WriteValidation(w http.ResponseWriter, ve *dErrors.ValidationError) {
	WriteJSON(w, http.StatusUnprocessableEntity, validationBody{Message: ve.Error(), Errors: ve.Fields})
}

// DecodeAndPrepare decodes a JSON body into T, normalises and validates it, and writes
// the error response itself when anything fails.
func DecodeAndPrepare[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string) (*T, bool) {
	var req T
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			WriteError(w, dErrors.New(dErrors.CodeBadRequest, "request body is required"))
			return nil, false
		}
		logger.WarnContext(ctx, "failed to decode request body",
			"request_id", requestID,
			"error", err,
		)
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid JSON body"))
		return nil, false
	}

	if n, ok := any(&req).(Normalizer); ok {
		n.Normalize()
	}
	if v, ok := any(&req).(Validatable); ok {
		if err := v.Validate(); err != nil {
			logger.InfoContext(ctx, "request validation failed",
				"request_id", requestID,
				"error", err,
			)
			WriteError(w, err)
			return nil, false
		}
	}
	return &req, true
}
