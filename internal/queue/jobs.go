// Package queue defines the background tasks attachkit schedules through
// asynq.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// RederiveTask re-runs thumbnail derivation for a persisted attachment.
	RederiveTask = "attachment:rederive"
)

// RederivePayload identifies the attachment whose variants are rebuilt.
type RederivePayload struct {
	AttachmentID int64 `json:"attachment_id"`
}

// EnqueueRederive schedules a re-derivation job.
func EnqueueRederive(ctx context.Context, client *asynq.Client, payload RederivePayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(RederiveTask, data)
	if _, err := client.EnqueueContext(ctx, task, asynq.MaxRetry(3)); err != nil {
		return fmt.Errorf("enqueue rederive task: %w", err)
	}
	return nil
}
