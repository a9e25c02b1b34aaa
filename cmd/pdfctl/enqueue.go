package main

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"pdfdispatch/internal/config"
	"pdfdispatch/internal/document"
	"pdfdispatch/internal/tasks"
)

func enqueueCmd() *cobra.Command {
	var (
		text          string
		email         string
		queue         string
		correlationID string
	)

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Put one generation request on the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFor(config.ScopeQueue)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if queue == "" {
				queue = cfg.Worker.Queue
			}

			fields := map[string]string{"text": text}
			if email != "" {
				fields["email"] = email
			}
			body, err := json.Marshal(fields)
			if err != nil {
				return err
			}
			if _, err := document.Decode(body, cfg.Notify.Strategy != config.StrategyNone); err != nil {
				return err
			}

			client := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.Redis.Addr()})
			defer client.Close()

			if correlationID == "" {
				correlationID = uuid.NewString()
			}
			task := tasks.NewDocumentRequestTask(body, correlationID)
			info, err := client.EnqueueContext(cmd.Context(), task, tasks.RequestOptions(queue)...)
			if err != nil {
				return fmt.Errorf("enqueue: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued task %s on queue %s (correlation id %s)\n", info.ID, info.Queue, correlationID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&text, "text", "t", "", "Document text")
	cmd.Flags().StringVarP(&email, "email", "e", "", "Recipient address")
	cmd.Flags().StringVarP(&queue, "queue", "q", "", "Queue name (defaults to WORKER_QUEUE)")
	cmd.Flags().StringVar(&correlationID, "correlation-id", "", "Correlation id carried to worker logs (generated when empty)")
	_ = cmd.MarkFlagRequired("text")

	return cmd
}
