// Package system provides the HTTP error taxonomy and the generic
// handler wrapper used by every route.
package system

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// HTTPError carries a status code to the boundary. The message becomes
// the JSON "detail" field of the error body.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return e.Message
}

func NewHTTPError(err error) *HTTPError {
	return &HTTPError{StatusCode: http.StatusInternalServerError, Message: err.Error()}
}

func NewHTTPError400(message string) *HTTPError {
	return &HTTPError{StatusCode: http.StatusBadRequest, Message: message}
}

func NewHTTPError403(message string) *HTTPError {
	return &HTTPError{StatusCode: http.StatusForbidden, Message: message}
}

func NewHTTPError404(message string) *HTTPError {
	return &HTTPError{StatusCode: http.StatusNotFound, Message: message}
}

// NewHTTPError423 is the policy-denial response used when the broker
// refuses an agent action.
func NewHTTPError423(message string) *HTTPError {
	return &HTTPError{StatusCode: http.StatusLocked, Message: message}
}

func NewHTTPError500(message string) *HTTPError {
	return &HTTPError{StatusCode: http.StatusInternalServerError, Message: message}
}

type httpWrapper[T any] func(res http.ResponseWriter, req *http.Request) (T, *HTTPError)

// Wrapper adapts a typed handler into an http.HandlerFunc. Successful
// results are serialised as JSON; errors become {"detail": ...} bodies
// with the carried status code.
func Wrapper[T any](handler httpWrapper[T]) http.HandlerFunc {
	return func(res http.ResponseWriter, req *http.Request) {
		data, herr := handler(res, req)
		if herr != nil {
			log.Warn().
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", herr.StatusCode).
				Msg(herr.Message)
			WriteDetail(res, herr.StatusCode, herr.Message)
			return
		}
		res.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(res).Encode(data); err != nil {
			log.Error().Err(err).Str("path", req.URL.Path).Msg("error encoding response")
		}
	}
}

// WriteDetail writes the uniform JSON error body.
func WriteDetail(res http.ResponseWriter, status int, detail string) {
	res.Header().Set("Content-Type", "application/json")
	res.WriteHeader(status)
	_ = json.NewEncoder(res).Encode(map[string]string{"detail": detail})
}
