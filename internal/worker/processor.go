// Package worker plugs attachment re-derivation into the asynq worker
// loop.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/hibiken/asynq"

	"github.com/attachkit/attachkit/internal/lifecycle"
	"github.com/attachkit/attachkit/internal/queue"
	"github.com/attachkit/attachkit/internal/thumbnail"
)

// Processor handles queued attachment jobs.
type Processor struct {
	manager *lifecycle.Manager
	logger  *log.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(manager *lifecycle.Manager, logger *log.Logger) *Processor {
	return &Processor{manager: manager, logger: logger}
}

// Handler registers the task handlers.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.RederiveTask, p.handleRederive)
	return mux
}

func (p *Processor) handleRederive(ctx context.Context, task *asynq.Task) error {
	var payload queue.RederivePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	err := p.manager.Rederive(ctx, payload.AttachmentID)
	var te *thumbnail.Error
	if errors.As(err, &te) {
		// Variant failures are data problems, not transient ones; retrying
		// the job will not fix them.
		p.logger.Warn("rederive finished with variant failures",
			"attachment", payload.AttachmentID, "err", err)
		return nil
	}
	if err != nil {
		p.logger.Error("rederive failed", "attachment", payload.AttachmentID, "err", err)
		return err
	}
	p.logger.Info("rederive complete", "attachment", payload.AttachmentID)
	return nil
}
