package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"quikbot/internal/config"
	"quikbot/internal/llmservice"
	"quikbot/internal/models"
)

// Answerer produces an answer for a non-blank question.
type Answerer interface {
	Answer(ctx context.Context, question string) (string, error)
}

type Server struct {
	cfg      config.ServerConfig
	answerer Answerer
}

type answerResponse struct {
	Answer string `json:"answer"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func New(cfg config.ServerConfig, answerer Answerer) *Server {
	return &Server{cfg: cfg, answerer: answerer}
}

// Handler returns the routes wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleHello)
	mux.HandleFunc("GET /test/{value}", s.handleTest)
	mux.HandleFunc("POST /qa", s.handleQA)

	return Chain(mux,
		Recover(),
		Logger(),
		OTel(s.cfg.ServiceName),
	)
}

// Start serves until ctx is cancelled and then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Addr).Msg("HTTP server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

func (s *Server) handleHello(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, models.Greeting)
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, fmt.Sprintf(models.EchoFormat, r.PathValue("value")))
}

// handleQA reads the question from the query string or a form body.
// A missing question parameter is treated like a blank one and answered with
// 200 and the rejection message, not a 422 validation error.
func (s *Server) handleQA(w http.ResponseWriter, r *http.Request) {
	question := r.FormValue("question")
	if strings.TrimSpace(question) == "" {
		log.Info().Str("question", question).Msg("rejected empty question")
		writeJSON(w, http.StatusOK, answerResponse{Answer: models.RejectionMessage})
		return
	}

	answer, err := s.answerer.Answer(r.Context(), question)
	if err != nil {
		status := statusFor(err)
		log.Error().Err(err).Int("status", status).Msg("failed to answer question")
		writeJSON(w, status, errorResponse{Detail: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, answerResponse{Answer: answer})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, llmservice.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, llmservice.ErrQuota):
		return http.StatusTooManyRequests
	case errors.Is(err, llmservice.ErrAuth),
		errors.Is(err, llmservice.ErrNetwork),
		errors.Is(err, llmservice.ErrRemote):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}
