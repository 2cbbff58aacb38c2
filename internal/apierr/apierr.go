// Package apierr turns domain and store errors into HTTP responses.
package apierr

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"reelhub/internal/contentid"
	"reelhub/internal/recordstore"
)

// Error is a failure that already knows its status and public message.
type Error struct {
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with an explicit status and message.
func New(status int, message string, err error) *Error {
	return &Error{Status: status, Message: message, Err: err}
}

// Status maps an error to the HTTP status it should be reported with.
func Status(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}

	var storeErr *recordstore.Error
	switch {
	case errors.Is(err, recordstore.ErrPartialFetch):
		return http.StatusInternalServerError
	case errors.Is(err, recordstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, contentid.ErrEmptyName), errors.Is(err, contentid.ErrUnknownType):
		return http.StatusBadRequest
	case errors.Is(err, recordstore.ErrUpstreamRejected):
		if errors.As(err, &storeErr) && storeErr.Conflict() {
			return http.StatusConflict
		}
		return http.StatusBadRequest
	case errors.Is(err, recordstore.ErrConfiguration):
		return http.StatusInternalServerError
	case errors.Is(err, recordstore.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Message is the text shown to callers. Server-side failures get a generic
// message so upstream details stay in the logs.
func Message(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}

	switch {
	case errors.Is(err, recordstore.ErrPartialFetch):
		return "could not read every shard"
	case errors.Is(err, recordstore.ErrNotFound):
		return "not found"
	case errors.Is(err, contentid.ErrEmptyName), errors.Is(err, contentid.ErrUnknownType):
		return err.Error()
	case errors.Is(err, recordstore.ErrUpstreamRejected):
		return "record store rejected the request"
	case errors.Is(err, recordstore.ErrConfiguration):
		return "server misconfigured"
	case errors.Is(err, recordstore.ErrUpstreamUnavailable):
		return "record store unavailable"
	default:
		return "server error"
	}
}

// Abort writes {"error": ...} and stops the handler chain. 5xx responses are
// logged with the full cause.
func Abort(c *gin.Context, log *logrus.Logger, err error) {
	status := Status(err)
	if status >= http.StatusInternalServerError && log != nil {
		log.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
			"status": status,
		}).WithError(err).Error("request failed")
	}
	c.AbortWithStatusJSON(status, gin.H{"error": Message(err)})
}

// NotFound replaces the public message of a 404 with message. Other errors
// are returned unchanged.
func NotFound(err error, message string) error {
	if err == nil || Status(err) != http.StatusNotFound {
		return err
	}
	return New(http.StatusNotFound, message, err)
}
