package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/leadsradar/server/internal/models"
)

func (s *Store) InsertUsage(ctx context.Context, entry *models.ApiUsageLog) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO api_usage_logs (
			id, user_id, request_id, endpoint, method, status_code, model,
			prompt_tokens, completion_tokens, total_tokens, estimated_cost,
			success, error_type, latency_ms, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10, $11::text::numeric, $12, NULLIF($13, ''), $14, $15)
	`, entry.ID, entry.UserID, entry.RequestID, entry.Endpoint, entry.Method, entry.StatusCode, entry.Model,
		entry.PromptTokens, entry.CompletionTokens, entry.TotalTokens, entry.EstimatedCost.String(),
		entry.Success, entry.ErrorType, entry.LatencyMs, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	return nil
}

func (s *Store) PruneUsage(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM api_usage_logs WHERE created_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
