package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"waroom/internal/httputil"
	"waroom/internal/logging"
	"waroom/internal/privacy"
	"waroom/internal/tracing"

	"github.com/sirupsen/logrus"
)

// DetailedLoggingConfig controls how much of each request and response gets
// written to the debug log.
type DetailedLoggingConfig struct {
	LogRequestHeaders  bool     `json:"log_request_headers"`
	LogResponseHeaders bool     `json:"log_response_headers"`
	LogRequestBody     bool     `json:"log_request_body"`
	LogResponseBody    bool     `json:"log_response_body"`
	MaxBodySize        int      `json:"max_body_size"`
	SensitiveHeaders   []string `json:"sensitive_headers"`
	SkipEndpoints      []string `json:"skip_endpoints"`
}

// DefaultDetailedLoggingConfig keeps bodies out of the log and skips the
// endpoints that are hit constantly or hold a connection open.
func DefaultDetailedLoggingConfig() DetailedLoggingConfig {
	return DetailedLoggingConfig{
		LogRequestHeaders: true,
		MaxBodySize:       1024,
		SensitiveHeaders: []string{
			"authorization", "x-webhook-hmac", "x-webhook-timestamp",
			"cookie", "set-cookie", "sec-websocket-key",
		},
		SkipEndpoints: []string{
			"/metrics", "/health", "/ws",
		},
	}
}

// DetailedLoggingMiddleware dumps request and response details at debug level.
// It is only installed when the server runs with debug logging enabled.
func DetailedLoggingMiddleware(logger *logrus.Logger, config DetailedLoggingConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if config.skips(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			info := tracing.GetRequestInfo(r.Context())
			logger.WithFields(config.requestFields(r, info)).Debug("Request detail")

			if !config.LogResponseBody && !config.LogResponseHeaders {
				next.ServeHTTP(w, r)
				return
			}

			capture := &bodyCapture{ResponseWriter: w, body: &bytes.Buffer{}}
			next.ServeHTTP(capture, r)
			logger.WithFields(config.responseFields(capture, info)).Debug("Response detail")
		})
	}
}

func (c DetailedLoggingConfig) skips(path string) bool {
	for _, skip := range c.SkipEndpoints {
		if strings.HasPrefix(path, skip) {
			return true
		}
	}
	return false
}

func (c DetailedLoggingConfig) requestFields(r *http.Request, info *tracing.RequestInfo) logrus.Fields {
	fields := logrus.Fields{
		logging.FieldRequestID: info.RequestID,
		logging.FieldTraceID:   info.TraceID,
		logging.FieldMethod:    r.Method,
		logging.FieldURL:       r.URL.String(),
		logging.FieldRemoteIP:  httputil.GetClientIP(r),
		"protocol":             r.Proto,
		"content_length":       r.ContentLength,
	}
	if c.LogRequestHeaders {
		fields["request_headers"] = c.maskHeaders(r.Header)
	}
	if c.LogRequestBody && bodyIsLoggable(r.Header.Get("Content-Type")) {
		if body := c.captureRequestBody(r); body != "" {
			fields["request_body"] = maskBody(body)
		}
	}
	return fields
}

func (c DetailedLoggingConfig) responseFields(capture *bodyCapture, info *tracing.RequestInfo) logrus.Fields {
	fields := logrus.Fields{
		logging.FieldRequestID:  info.RequestID,
		logging.FieldTraceID:    info.TraceID,
		logging.FieldStatusCode: capture.status(),
		logging.FieldSize:       capture.body.Len(),
	}
	if c.LogResponseHeaders {
		fields["response_headers"] = c.maskHeaders(capture.Header())
	}
	if c.LogResponseBody && capture.body.Len() > 0 {
		if capture.body.Len() <= c.MaxBodySize {
			fields["response_body"] = maskBody(capture.body.String())
		} else {
			fields["response_body"] = fmt.Sprintf("truncated (%d bytes)", capture.body.Len())
		}
	}
	return fields
}

// captureRequestBody reads the body for logging and restores it for the
// handler. Bodies over the limit are left untouched.
func (c DetailedLoggingConfig) captureRequestBody(r *http.Request) string {
	if r.ContentLength <= 0 || r.ContentLength > int64(c.MaxBodySize) {
		return ""
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return ""
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return string(body)
}

func (c DetailedLoggingConfig) maskHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if c.isSensitiveHeader(name) {
			out[name] = "***"
		} else {
			out[name] = strings.Join(values, ", ")
		}
	}
	return out
}

func (c DetailedLoggingConfig) isSensitiveHeader(name string) bool {
	for _, sensitive := range c.SensitiveHeaders {
		if strings.EqualFold(sensitive, name) {
			return true
		}
	}
	return false
}

// maskBody redacts sensitive top-level fields in JSON bodies before they hit
// the log. Non-JSON bodies are logged as-is since body logging is opt-in.
func maskBody(body string) interface{} {
	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(body), &decoded); err != nil {
		return body
	}
	return privacy.MaskSensitiveFields(decoded)
}

func bodyIsLoggable(contentType string) bool {
	switch {
	case strings.HasPrefix(contentType, "application/json"),
		strings.HasPrefix(contentType, "application/xml"),
		strings.HasPrefix(contentType, "application/x-www-form-urlencoded"),
		strings.HasPrefix(contentType, "text/"):
		return true
	}
	return false
}

// bodyCapture tees response bytes into a buffer for debug logging.
type bodyCapture struct {
	http.ResponseWriter
	body       *bytes.Buffer
	statusCode int
}

func (bc *bodyCapture) Write(data []byte) (int, error) {
	n, err := bc.ResponseWriter.Write(data)
	bc.body.Write(data[:n])
	return n, err
}

func (bc *bodyCapture) WriteHeader(statusCode int) {
	bc.statusCode = statusCode
	bc.ResponseWriter.WriteHeader(statusCode)
}

func (bc *bodyCapture) status() int {
	if bc.statusCode == 0 {
		return http.StatusOK
	}
	return bc.statusCode
}

func (bc *bodyCapture) Unwrap() http.ResponseWriter {
	return bc.ResponseWriter
}
