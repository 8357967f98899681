package offlinequeue

import (
	"bytes"
	"encoding/json"
	"net/http"

	"relief/internal/offlinequeue/models"
)

// statusSessionExpired is the non-standard code some frameworks use for a stale
// CSRF session.
const statusSessionExpired = 419

// Classify maps a submission attempt to an outcome. The reason is only set for
// outcomes that fail the entry.
func Classify(resp *models.Response, err error) (models.Outcome, string) {
	if err != nil || resp == nil {
		return models.OutcomeTransient, ""
	}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return models.OutcomeAccepted, ""
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return models.OutcomeRejected, firstFieldError(resp.Body)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == statusSessionExpired:
		return models.OutcomeAuthExpired, SessionExpiredMessage
	default:
		return models.OutcomeTransient, ""
	}
}

// firstFieldError returns the first message of the first key of the "errors"
// object. Key order matters, so the object is walked token by token instead of
// decoded into a map.
func firstFieldError(body []byte) string {
	var envelope struct {
		Errors json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Errors) == 0 {
		return ValidationErrorMessage
	}

	dec := json.NewDecoder(bytes.NewReader(envelope.Errors))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return ValidationErrorMessage
	}
	if !dec.More() {
		return ValidationErrorMessage
	}
	if _, err := dec.Token(); err != nil {
		return ValidationErrorMessage
	}
	var msgs []string
	if err := dec.Decode(&msgs); err != nil || len(msgs) == 0 || msgs[0] == "" {
		return ValidationErrorMessage
	}
	return msgs[0]
}
