package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// verifyWebhookRequest reads the body and checks the HMAC-SHA256 signature
// in X-Webhook-Hmac plus the X-Webhook-Timestamp freshness window. The body
// is restored on the request for downstream handlers.
func verifyWebhookRequest(r *http.Request, secretKey string, maxSkewSec int) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	r.Body = io.NopCloser(bytes.NewBuffer(body))

	if secretKey == "" {
		if os.Getenv("WAROOM_ENV") == "production" {
			return nil, fmt.Errorf("webhook secret is required in production mode")
		}
		return body, nil
	}

	signatureHeader := r.Header.Get("X-Webhook-Hmac")
	if signatureHeader == "" {
		return nil, fmt.Errorf("missing signature header: X-Webhook-Hmac")
	}
	expectedSignatureHex := strings.TrimPrefix(signatureHeader, "sha256=")

	timestamp := r.Header.Get("X-Webhook-Timestamp")
	if timestamp == "" {
		return nil, fmt.Errorf("missing X-Webhook-Timestamp header")
	}
	if err := checkTimestampSkew(timestamp, maxSkewSec); err != nil {
		return nil, err
	}

	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	computedSignatureHex := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(computedSignatureHex), []byte(expectedSignatureHex)) {
		return nil, fmt.Errorf("signature mismatch")
	}

	return body, nil
}

// checkTimestampSkew rejects replayed webhook deliveries outside the allowed
// clock-skew window.
func checkTimestampSkew(timestamp string, maxSkewSec int) error {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid X-Webhook-Timestamp: %w", err)
	}

	skew := math.Abs(float64(time.Now().Unix() - ts))
	if skew > float64(maxSkewSec) {
		return fmt.Errorf("webhook timestamp outside allowed skew of %ds", maxSkewSec)
	}
	return nil
}

// authMiddleware guards the admin API with a bearer token checked against a
// bcrypt hash from configuration. With no hash configured outside production,
// the API is open for local development.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenHash := s.cfg.Server.APITokenHash
		if tokenHash == "" {
			if os.Getenv("WAROOM_ENV") == "production" {
				s.logger.Error("API token hash is required in production mode")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || token == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(token)); err != nil {
			s.logger.Warn("API token rejected")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
