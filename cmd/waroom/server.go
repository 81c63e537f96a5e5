package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"waroom/internal/constants"
	"waroom/internal/errors"
	"waroom/internal/gateway"
	"waroom/internal/lifecycle"
	"waroom/internal/middleware"
	"waroom/internal/models"
	"waroom/internal/tracing"
	"waroom/internal/validation"
	"waroom/pkg/waclient"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Server struct {
	router     *mux.Router
	logger     *logrus.Logger
	cfg        *models.Config
	controller *lifecycle.Controller
	gateway    *gateway.Gateway
	server     *http.Server
}

func NewServer(cfg *models.Config, controller *lifecycle.Controller, gw *gateway.Gateway, logger *logrus.Logger) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		logger:     logger,
		cfg:        cfg,
		controller: controller,
		gateway:    gw,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.ObservabilityMiddleware(s.logger))
	if s.logger.IsLevelEnabled(logrus.DebugLevel) {
		s.router.Use(middleware.DetailedLoggingMiddleware(s.logger, middleware.DefaultDetailedLoggingConfig()))
	}

	// Health check
	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)

	// Application metrics
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	// Real-time gateway, behind the same token check as the admin API
	s.router.Handle("/ws", s.authMiddleware(http.HandlerFunc(s.gateway.HandleWS)))

	// Engine webhook
	whatsapp := s.router.PathPrefix("/webhook/whatsapp").Subrouter()
	whatsapp.Use(middleware.WebhookObservabilityMiddleware(s.logger, "whatsapp"))
	whatsapp.HandleFunc("", s.handleWhatsAppWebhook()).Methods(http.MethodPost)

	// Session admin API
	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.authMiddleware)
	api.HandleFunc("/sessions", s.handleListSessions()).Methods(http.MethodGet)
	api.HandleFunc("/sessions", s.handleCreateSession()).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}", s.handleGetSession()).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleRemoveSession()).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{id}/restart", s.handleRestartSession()).Methods(http.MethodPost)
}

func (s *Server) Start() error {
	port := s.cfg.Server.Port
	if port == 0 {
		port = constants.DefaultServerPort
	}
	if envPort := os.Getenv("PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", &port)
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  constants.DefaultServerReadTimeoutSec * time.Second,
		WriteTimeout: 0, // WebSocket connections outlive any fixed write window
		IdleTimeout:  constants.DefaultServerIdleTimeoutSec * time.Second,
	}

	s.logger.Infof("Starting server on port %d", port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}
}

// handleWhatsAppWebhook ingests engine lifecycle callbacks. The engine
// retries on 5xx, so events that fail domain checks (unknown session,
// illegal transition) are acknowledged with 200 and dropped after logging.
func (s *Server) handleWhatsAppWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := verifyWebhookRequest(r, s.cfg.WhatsApp.WebhookSecret, s.cfg.Server.WebhookMaxSkewSec)
		if err != nil {
			s.logger.WithError(err).Warn("Webhook verification failed")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		if err := validation.ValidateHTTPRequestSize(r, constants.MaxWebhookBodyBytes); err != nil {
			http.Error(w, "Request too large", http.StatusRequestEntityTooLarge)
			return
		}

		event, err := waclient.ParseWebhook(body)
		if err != nil {
			s.logger.WithError(err).Warn("Malformed webhook payload")
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}

		if err := s.controller.HandleExternalEvent(r.Context(), event); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"session": event.SessionID,
				"event":   event.Type,
			}).Warn("Webhook event dropped")
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}
}

type createSessionRequest struct {
	SessionID   string `json:"sessionId"`
	DisplayName string `json:"displayName"`
}

func (s *Server) handleCreateSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := validation.ValidateHTTPRequestSize(r, constants.MaxAPIBodyBytes); err != nil {
			s.writeError(w, r, err)
			return
		}

		var req createSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, errors.NewValidationError("body", "", "malformed JSON body"))
			return
		}

		if err := validation.ValidateSessionID(req.SessionID); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := validation.ValidateDisplayName(req.DisplayName); err != nil {
			s.writeError(w, r, err)
			return
		}

		session, err := s.controller.Create(r.Context(), req.SessionID, req.DisplayName)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		s.writeJSON(w, http.StatusCreated, session)
	}
}

func (s *Server) handleListSessions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions := s.controller.List()
		payloads := make([]models.SessionStatusPayload, 0, len(sessions))
		for _, session := range sessions {
			payloads = append(payloads, models.StatusPayloadFromSession(session))
		}
		s.writeJSON(w, http.StatusOK, payloads)
	}
}

func (s *Server) handleGetSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := mux.Vars(r)["id"]
		session, err := s.controller.CurrentState(sessionID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, models.StatusPayloadFromSession(session))
	}
}

func (s *Server) handleRestartSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := mux.Vars(r)["id"]
		if err := s.controller.Restart(r.Context(), sessionID); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func (s *Server) handleRemoveSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := mux.Vars(r)["id"]
		if err := s.controller.Remove(r.Context(), sessionID); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	requestInfo := tracing.GetRequestInfo(r.Context())
	status := errors.HTTPStatusCode(err)

	if status >= 500 {
		s.logger.WithError(err).Error("Request failed")
	} else {
		s.logger.WithError(err).Debug("Request rejected")
	}

	s.writeJSON(w, status, errors.ToHTTPResponse(err, requestInfo.RequestID))
}
