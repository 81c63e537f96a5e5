package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"waroom/internal/httputil"
	"waroom/internal/logging"
	"waroom/internal/metrics"
	"waroom/internal/privacy"
	"waroom/internal/tracing"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ObservabilityMiddleware traces, times and logs every HTTP request. It also
// runs in front of the WebSocket gateway, so the response recorder it installs
// must stay hijack-transparent (see statusRecorder.Unwrap).
func ObservabilityMiddleware(logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracing.WithOtelTracing(r.Context(), "http_request")
			defer span.End()

			ctx = tracing.WithRequestID(ctx, tracing.GenerateRequestID())
			ctx = tracing.WithStartTime(ctx, time.Now())
			r = r.WithContext(ctx)

			clientIP := httputil.GetClientIP(r)
			tracing.AddSpanAttributes(ctx,
				attribute.String("http.method", r.Method),
				attribute.String("http.route", r.URL.Path),
				attribute.String("http.host", r.Host),
				attribute.String("user_agent.original", r.UserAgent()),
				attribute.String("client.address", clientIP),
			)

			info := tracing.GetRequestInfo(ctx)
			logger.WithFields(logrus.Fields{
				logging.FieldRequestID: info.RequestID,
				logging.FieldTraceID:   info.TraceID,
				logging.FieldMethod:    r.Method,
				logging.FieldURL:       r.URL.Path,
				logging.FieldRemoteIP:  clientIP,
				logging.FieldUserAgent: r.UserAgent(),
			}).Info("HTTP request started")

			routeLabels := map[string]string{
				"method":   r.Method,
				"endpoint": r.URL.Path,
			}
			metrics.IncrementCounter("http_requests_total", routeLabels, "Total HTTP requests")
			metrics.IncrementCounter("http_requests_active", nil, "Currently active HTTP requests")
			defer metrics.AddToCounter("http_requests_active", -1, nil, "Currently active HTTP requests")

			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r)

			duration := tracing.Duration(ctx)
			finishSpan(ctx, rec, duration)

			statusLabels := map[string]string{
				"method":      r.Method,
				"endpoint":    r.URL.Path,
				"status_code": strconv.Itoa(rec.status),
			}
			metrics.RecordTimer("http_request_duration", duration, statusLabels, "HTTP request duration")
			metrics.IncrementCounter("http_responses_total", statusLabels, "HTTP responses by status code")
			if rec.bytes > 0 {
				metrics.AddToCounter("http_response_bytes_total", float64(rec.bytes), routeLabels, "Bytes written in HTTP responses")
			}

			logger.WithFields(logrus.Fields{
				logging.FieldRequestID:  info.RequestID,
				logging.FieldTraceID:    info.TraceID,
				logging.FieldMethod:     r.Method,
				logging.FieldURL:        r.URL.Path,
				logging.FieldStatusCode: rec.status,
				logging.FieldDuration:   duration.Milliseconds(),
				logging.FieldRemoteIP:   clientIP,
				logging.FieldSize:       rec.bytes,
			}).Log(levelForStatus(rec.status), "HTTP request completed")
		})
	}
}

// WebhookObservabilityMiddleware wraps the engine webhook endpoints with
// dedicated metrics and privacy-masked logging. Webhook payloads carry phone
// numbers and QR material, so every logged field goes through the masker.
func WebhookObservabilityMiddleware(logger *logrus.Logger, webhookType string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx, span := tracing.WithOtelTracing(r.Context(), "webhook_request")
			defer span.End()
			r = r.WithContext(ctx)

			clientIP := httputil.GetClientIP(r)
			tracing.AddSpanAttributes(ctx,
				attribute.String("webhook.type", webhookType),
				attribute.String("http.method", r.Method),
				attribute.String("client.address", clientIP),
				attribute.Int64("http.request.content_length", r.ContentLength),
			)

			metrics.IncrementCounter("webhook_requests_total", map[string]string{
				"type": webhookType,
			}, "Total webhook requests by type")

			info := tracing.GetRequestInfo(ctx)
			logger.WithFields(maskedFields(map[string]interface{}{
				logging.FieldRequestID: info.RequestID,
				logging.FieldTraceID:   info.TraceID,
				logging.FieldService:   "webhook",
				logging.FieldComponent: webhookType,
				logging.FieldRemoteIP:  clientIP,
				"content_type":         r.Header.Get("Content-Type"),
				"content_length":       r.ContentLength,
			})).Info("Webhook request started")

			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r)

			elapsed := time.Since(start)
			finishSpan(ctx, rec, elapsed)

			metrics.RecordTimer("webhook_processing_duration", elapsed, map[string]string{
				"type":        webhookType,
				"status_code": strconv.Itoa(rec.status),
			}, "Webhook processing duration")

			if rec.status >= 400 {
				metrics.IncrementCounter("webhook_errors_total", map[string]string{
					"type":        webhookType,
					"status_code": strconv.Itoa(rec.status),
				}, "Webhook processing errors")
			} else {
				metrics.IncrementCounter("webhook_success_total", map[string]string{
					"type": webhookType,
				}, "Successful webhook processing")
			}

			level := logrus.InfoLevel
			if rec.status >= 400 {
				level = logrus.ErrorLevel
			}
			logger.WithFields(maskedFields(map[string]interface{}{
				logging.FieldRequestID:  info.RequestID,
				logging.FieldTraceID:    info.TraceID,
				logging.FieldService:    "webhook",
				logging.FieldComponent:  webhookType,
				logging.FieldStatusCode: rec.status,
				logging.FieldDuration:   elapsed.Milliseconds(),
				logging.FieldSize:       rec.bytes,
			})).Log(level, "Webhook request completed")
		})
	}
}

// finishSpan records the response outcome on the active span.
func finishSpan(ctx context.Context, rec *statusRecorder, elapsed time.Duration) {
	tracing.AddSpanAttributes(ctx,
		attribute.Int("http.response.status_code", rec.status),
		attribute.Int64("http.response.size", rec.bytes),
		attribute.Int64("http.request.duration_ms", elapsed.Milliseconds()),
	)
	if rec.status >= 400 {
		tracing.SetSpanStatus(ctx, codes.Error, fmt.Sprintf("HTTP %d", rec.status))
	} else {
		tracing.SetSpanStatus(ctx, codes.Ok, "")
	}
}

func levelForStatus(status int) logrus.Level {
	switch {
	case status >= 500:
		return logrus.ErrorLevel
	case status >= 400:
		return logrus.WarnLevel
	default:
		return logrus.InfoLevel
	}
}

func maskedFields(fields map[string]interface{}) logrus.Fields {
	out := make(logrus.Fields, len(fields))
	for k, v := range privacy.MaskSensitiveFields(fields) {
		out[k] = v
	}
	return out
}

// statusRecorder captures the status code and byte count of a response.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

func (sr *statusRecorder) Write(data []byte) (int, error) {
	n, err := sr.ResponseWriter.Write(data)
	sr.bytes += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer, which the
// WebSocket upgrade on /ws needs for Hijack.
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}
