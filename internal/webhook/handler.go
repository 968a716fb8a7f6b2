package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/rs/zerolog/log"

	"wapipe/internal/pipeline"
)

// maxBodyBytes bounds webhook request bodies. Provider payloads are small;
// anything near this limit is abuse.
const maxBodyBytes = 1 << 20

// Enqueuer accepts a verified raw payload for asynchronous processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload []byte, orderingKey string) (int64, error)
}

// Handler terminates the provider's webhook callbacks: handshake on GET,
// signed deliveries on POST. Verified payloads are persisted to the job
// queue before the 200 is written, so an accepted delivery survives a crash.
type Handler struct {
	verifier *Verifier
	queue    Enqueuer
	path     string
}

func NewHandler(verifier *Verifier, queue Enqueuer, path string) *Handler {
	if path == "" {
		path = "/webhooks/whatsapp"
	}
	return &Handler{verifier: verifier, queue: queue, path: path}
}

// Router builds the HTTP surface with the shared middleware chain.
func (h *Handler) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc(h.path, h.handleHandshake).Methods(http.MethodGet)
	r.HandleFunc(h.path, h.handleDelivery).Methods(http.MethodPost)
	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)

	chain := alice.New(
		requestIDMiddleware,
		accessLogMiddleware,
		recoverMiddleware,
	)
	return chain.Then(r)
}

func (h *Handler) handleHandshake(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challenge, err := h.verifier.VerifyHandshake(
		q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge"))
	if err != nil {
		log.Warn().Str("mode", q.Get("hub.mode")).Msg("Webhook handshake rejected")
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(challenge))
}

func (h *Handler) handleDelivery(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if !h.verifier.VerifySignature(body, r.Header.Get("X-Hub-Signature-256")) {
		log.Warn().Int("bodyBytes", len(body)).Msg("Webhook signature verification failed")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	jobID, err := h.queue.Enqueue(r.Context(), body, pipeline.OrderingKey(body))
	if err != nil {
		log.Error().Err(err).Msg("Failed to enqueue webhook payload")
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	log.Debug().Int64("jobID", jobID).Msg("Webhook payload enqueued")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "enqueued"})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Str("requestID", rec.Header().Get("X-Request-ID")).
			Msg("Request handled")
	})
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("Handler panic recovered")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
