package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketcore-backend/pkg/db/models"
)

type deadLetters interface {
	List(ctx context.Context, reason string, limit int) ([]models.OutboxDLQ, error)
	Requeue(ctx context.Context, eventID uuid.UUID) error
}

// dlqCommand serves the operator flags. Requeue takes a comma-separated list
// of event IDs and stops at the first failure.
type dlqCommand struct {
	list    bool
	reason  string
	limit   int
	requeue string
}

func (c dlqCommand) requested() bool {
	return c.list || strings.TrimSpace(c.requeue) != ""
}

func (c dlqCommand) run(ctx context.Context, repo deadLetters, out io.Writer) error {
	if c.list {
		rows, err := repo.List(ctx, c.reason, c.limit)
		if err != nil {
			return fmt.Errorf("list dead letters: %w", err)
		}
		for _, row := range rows {
			msg := ""
			if row.ErrorMessage != nil {
				msg = *row.ErrorMessage
			}
			fmt.Fprintf(out, "%s\t%s\t%s\t%d\t%s\t%s\n",
				row.FailedAt.UTC().Format("2006-01-02T15:04:05Z"), row.EventID, row.EventType, row.AttemptCount, row.ErrorReason, msg)
		}
	}
	for _, raw := range strings.Split(c.requeue, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("requeue %q: %w", raw, err)
		}
		if err := repo.Requeue(ctx, id); err != nil {
			return fmt.Errorf("requeue %s: %w", id, err)
		}
		fmt.Fprintf(out, "requeued %s\n", id)
	}
	return nil
}
