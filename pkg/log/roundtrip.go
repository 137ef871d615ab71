package log

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const headerRequestID = "X-Request-ID"

// RoundTripper wraps an http.RoundTripper so every outgoing request:
//  1. Carries a generated X-Request-ID header (unless one is already set).
//  2. Produces a structured log line with method, path, status and latency.
type RoundTripper struct {
	Base   http.RoundTripper
	Logger zerolog.Logger
}

// NewRoundTripper wraps base (http.DefaultTransport when nil).
func NewRoundTripper(base http.RoundTripper, logger zerolog.Logger) *RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &RoundTripper{Base: base, Logger: logger}
}

func (rt *RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	reqID := req.Header.Get(headerRequestID)
	if reqID == "" {
		reqID = uuid.New().String()
	}

	child := rt.Logger.With().
		Str(FieldRequestID, reqID).
		Str(FieldMethod, req.Method).
		Str(FieldPath, req.URL.Path).
		Logger()

	// Clone before mutating; downstream transports recover the
	// request-scoped logger through Ctx.
	req = req.Clone(WithLogger(req.Context(), child))
	req.Header.Set(headerRequestID, reqID)

	resp, err := rt.Base.RoundTrip(req)
	if err != nil {
		child.Warn().
			Err(err).
			Float64(FieldLatency, float64(time.Since(start).Milliseconds())).
			Msg("request failed")
		return nil, err
	}

	child.Debug().
		Int(FieldStatus, resp.StatusCode).
		Float64(FieldLatency, float64(time.Since(start).Milliseconds())).
		Msg("request completed")

	return resp, nil
}
