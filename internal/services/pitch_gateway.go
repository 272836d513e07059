package services

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/leadsradar/server/internal/metrics"
	"github.com/leadsradar/server/internal/models"
	"github.com/leadsradar/server/pkg/genai"
)

const (
	DefaultTone         = "professional"
	DefaultPitchTimeout = 10 * time.Second
	pitchEndpoint       = "ai/generate_pitch"
)

var pitchTones = map[string]bool{
	"professional": true,
	"casual":       true,
	"friendly":     true,
	"urgent":       true,
}

// Generator drafts pitch text. Implemented by *genai.Client.
type Generator interface {
	GeneratePitch(ctx context.Context, req genai.PitchRequest) (*genai.Completion, error)
}

// PitchResult is a generated pitch plus the caller's remaining daily quota
type PitchResult struct {
	Pitch          string `json:"pitch"`
	RemainingDaily int    `json:"remaining"`
}

// PitchGateway runs the rate-limited, metered pitch generation flow
type PitchGateway struct {
	limiter   *RateLimiter
	leads     *LeadStore
	profiles  *ProfileService
	generator Generator
	usage     *UsageLog
	model     string
	timeout   time.Duration
	now       func() time.Time
}

func NewPitchGateway(limiter *RateLimiter, leads *LeadStore, profiles *ProfileService, generator Generator, usage *UsageLog, model string, timeout time.Duration) *PitchGateway {
	if timeout <= 0 {
		timeout = DefaultPitchTimeout
	}
	return &PitchGateway{
		limiter:   limiter,
		leads:     leads,
		profiles:  profiles,
		generator: generator,
		usage:     usage,
		model:     model,
		timeout:   timeout,
		now:       time.Now,
	}
}

// Generate drafts a pitch for the lead. The quota is consumed before any
// other work, so a denied call never reaches the upstream model.
func (g *PitchGateway) Generate(ctx context.Context, leadID, userID uuid.UUID, tone string) (*PitchResult, error) {
	if tone == "" {
		tone = DefaultTone
	}
	if !pitchTones[tone] {
		return nil, invalidField("tone", "must be one of professional, casual, friendly, urgent")
	}

	decision, err := g.limiter.CheckAndIncrement(ctx, userID, models.ResourcePitchGeneration)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		if decision.RemainingDaily > 0 {
			return nil, newError(KindRateLimitExceeded, "Hourly pitch generation limit reached. Please try again later.", nil)
		}
		return nil, newError(KindRateLimitExceeded, "Daily pitch generation limit reached. Please upgrade to continue.", nil)
	}

	lead, err := g.leads.Get(ctx, leadID, userID)
	if err != nil {
		return nil, err
	}

	bio := ""
	if g.profiles != nil {
		if bio, err = g.profiles.Bio(ctx, userID); err != nil {
			log.Warn().Err(err).Str("user_id", userID.String()).Msg("PitchGateway: profile unavailable, using default bio")
			bio = ""
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := g.now()
	completion, err := g.generator.GeneratePitch(callCtx, genai.PitchRequest{
		LeadName:  lead.TweetAuthor,
		TweetText: lead.TweetText,
		UserBio:   bio,
		Tone:      tone,
	})
	latency := g.now().Sub(start)
	metrics.ObservePitchLatency(latency.Seconds(), err == nil)

	entry := models.ApiUsageLog{
		UserID:    userID,
		RequestID: RequestIDFromContext(ctx),
		Endpoint:  pitchEndpoint,
		Method:    http.MethodPost,
		Model:     g.model,
		LatencyMs: latency.Milliseconds(),
	}
	if entry.RequestID == "" {
		entry.RequestID = uuid.NewString()
	}

	if err != nil {
		entry.StatusCode = http.StatusBadGateway
		entry.ErrorType = "upstream_error"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			entry.ErrorType = "timeout"
		}
		g.record(entry)

		log.Error().
			Err(err).
			Str("request_id", entry.RequestID).
			Str("lead_id", leadID.String()).
			Str("error_type", entry.ErrorType).
			Msg("Pitch generation failed")
		return nil, newError(KindUpstream, "Failed to generate pitch. Please try again.", err)
	}

	entry.StatusCode = http.StatusOK
	entry.Success = true
	if completion.Model != "" {
		entry.Model = completion.Model
	}
	entry.PromptTokens = completion.PromptTokens
	entry.CompletionTokens = completion.CompletionTokens
	entry.TotalTokens = completion.TotalTokens
	g.record(entry)

	return &PitchResult{
		Pitch:          completion.Text,
		RemainingDaily: decision.RemainingDaily,
	}, nil
}

func (g *PitchGateway) record(entry models.ApiUsageLog) {
	if g.usage != nil {
		g.usage.Record(entry)
	}
}
