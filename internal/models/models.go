package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LeadStatus is a column on the Kanban board
type LeadStatus string

const (
	StatusFound       LeadStatus = "Found"
	StatusContacted   LeadStatus = "Contacted"
	StatusNegotiating LeadStatus = "Negotiating"
	StatusWon         LeadStatus = "Won"
	StatusLost        LeadStatus = "Lost"
)

// LeadStatuses lists the statuses in board order
var LeadStatuses = []LeadStatus{StatusFound, StatusContacted, StatusNegotiating, StatusWon, StatusLost}

// Valid reports whether s is one of the known statuses
func (s LeadStatus) Valid() bool {
	for _, known := range LeadStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Lead represents a prospect derived from an ingested tweet.
// (UserID, TweetID) is unique; Version increases by one per mutation.
type Lead struct {
	ID             uuid.UUID      `json:"id" db:"id"`
	UserID         uuid.UUID      `json:"user_id" db:"user_id"`
	TweetID        string         `json:"tweet_id" db:"tweet_id"`
	TweetText      string         `json:"tweet_text" db:"tweet_text"`
	TweetAuthor    string         `json:"tweet_author" db:"tweet_author"`
	Status         LeadStatus     `json:"status" db:"status"`
	SpamScore      float64        `json:"spam_score" db:"spam_score"`
	EstimatedValue float64        `json:"estimated_value" db:"estimated_value"`
	Source         string         `json:"source" db:"source"`
	SourceMetadata map[string]any `json:"source_metadata,omitempty" db:"source_metadata"`
	Version        int64          `json:"version" db:"version"`
	ContactedAt    *time.Time     `json:"contacted_at" db:"contacted_at"`
	NegotiatingAt  *time.Time     `json:"negotiating_at" db:"negotiating_at"`
	WonAt          *time.Time     `json:"won_at" db:"won_at"`
	LostAt         *time.Time     `json:"lost_at" db:"lost_at"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
	UpdatedBy      *uuid.UUID     `json:"updated_by" db:"updated_by"`
	DeletedAt      *time.Time     `json:"deleted_at,omitempty" db:"deleted_at"`
}

// TweetURL is the public link to the source tweet
func (l *Lead) TweetURL() string {
	return "https://twitter.com/" + l.TweetAuthor + "/status/" + l.TweetID
}

// StampTransition sets the audit timestamp belonging to status.
// Found has no timestamp of its own.
func (l *Lead) StampTransition(status LeadStatus, at time.Time) {
	t := at
	switch status {
	case StatusContacted:
		l.ContactedAt = &t
	case StatusNegotiating:
		l.NegotiatingAt = &t
	case StatusWon:
		l.WonAt = &t
	case StatusLost:
		l.LostAt = &t
	}
}

// Failure kinds recorded on webhook events
const (
	FailureValidation = "validation"
	FailureLeadUpsert = "lead_upsert"
)

// WebhookEvent is the audit row written for every ingestion attempt
type WebhookEvent struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	RequestID    string          `json:"request_id" db:"request_id"`
	UserID       uuid.UUID       `json:"user_id" db:"user_id"`
	APIKeyID     uuid.UUID       `json:"api_key_id" db:"api_key_id"`
	Payload      json.RawMessage `json:"payload" db:"payload"`
	IPAddress    string          `json:"ip_address,omitempty" db:"ip_address"`
	Processed    bool            `json:"processed" db:"processed"`
	ProcessedAt  *time.Time      `json:"processed_at" db:"processed_at"`
	LeadID       *uuid.UUID      `json:"lead_id" db:"lead_id"`
	ErrorMessage *string         `json:"error_message" db:"error_message"`
	FailureKind  string          `json:"failure_kind,omitempty" db:"failure_kind"`
	RetryCount   int             `json:"retry_count" db:"retry_count"`
	ReceivedAt   time.Time       `json:"received_at" db:"received_at"`
}

// WebhookPayload is the validated body of a lead webhook
type WebhookPayload struct {
	TweetID        string  `json:"tweet_id"`
	TweetText      string  `json:"tweet_text"`
	TweetAuthor    string  `json:"tweet_author"`
	SpamScore      float64 `json:"spam_score"`
	EstimatedValue float64 `json:"estimated_value"`
}

// ApiUsageLog records a single call to a metered upstream service
type ApiUsageLog struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	UserID           uuid.UUID       `json:"user_id" db:"user_id"`
	RequestID        string          `json:"request_id" db:"request_id"`
	Endpoint         string          `json:"endpoint" db:"endpoint"`
	Method           string          `json:"method" db:"method"`
	StatusCode       int             `json:"status_code" db:"status_code"`
	Model            string          `json:"model" db:"model"`
	PromptTokens     int             `json:"prompt_tokens" db:"prompt_tokens"`
	CompletionTokens int             `json:"completion_tokens" db:"completion_tokens"`
	TotalTokens      int             `json:"total_tokens" db:"total_tokens"`
	EstimatedCost    decimal.Decimal `json:"estimated_cost" db:"estimated_cost"`
	Success          bool            `json:"success" db:"success"`
	ErrorType        string          `json:"error_type,omitempty" db:"error_type"`
	LatencyMs        int64           `json:"latency_ms" db:"latency_ms"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
}

// Profile holds per-user settings consumed by the core
type Profile struct {
	UserID            uuid.UUID `json:"id" db:"id"`
	Email             string    `json:"email,omitempty" db:"email"`
	Bio               *string   `json:"bio" db:"bio"`
	DiscordWebhookURL *string   `json:"discord_webhook_url" db:"discord_webhook_url"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}
