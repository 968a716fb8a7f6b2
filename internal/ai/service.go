package ai

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// Service generates automated replies. The pipeline fires and forgets:
// retry and failure semantics are internal to the AI side.
type Service interface {
	Process(ctx context.Context, tenantID, from, body string)
}

// HTTPService posts reply requests to the AI response service through a
// bounded worker pool so a slow model cannot pile up goroutines.
type HTTPService struct {
	http *resty.Client
	sem  chan struct{}
}

func NewHTTPService(serviceURL string, concurrency int) *HTTPService {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &HTTPService{
		http: resty.New().
			SetBaseURL(serviceURL).
			SetTimeout(30 * time.Second),
		sem: make(chan struct{}, concurrency),
	}
}

type processRequest struct {
	TenantID    string `json:"tenantId"`
	From        string `json:"from"`
	MessageBody string `json:"messageBody"`
}

// Process hands the message to the AI service asynchronously. The enclosing
// webhook job is done once the task is accepted into the pool; AI failures
// are logged, never retried by the pipeline.
func (s *HTTPService) Process(ctx context.Context, tenantID, from, body string) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		log.Warn().Str("tenantID", tenantID).Msg("AI invocation dropped, context cancelled")
		return
	}

	go func() {
		defer func() { <-s.sem }()

		resp, err := s.http.R().
			SetBody(processRequest{TenantID: tenantID, From: from, MessageBody: body}).
			Post("/process")
		if err != nil {
			log.Error().Err(err).Str("tenantID", tenantID).Str("from", from).Msg("AI service call failed")
			return
		}
		if resp.IsError() {
			log.Error().Int("status", resp.StatusCode()).Str("tenantID", tenantID).Msg("AI service returned error")
			return
		}
		log.Debug().Str("tenantID", tenantID).Str("from", from).Msg("AI invocation accepted")
	}()
}

// NopService skips AI entirely. Used when no AI service is configured.
type NopService struct{}

func (NopService) Process(context.Context, string, string, string) {}
