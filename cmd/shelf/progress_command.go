package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"shelf/internal/ipc"
	"shelf/internal/notifications"
)

func newProgressCommand(ctx *commandContext) *cobra.Command {
	var batchID string
	var follow bool

	cmd := &cobra.Command{
		Use:     "progress",
		Aliases: []string{"watch"},
		Short:   "Show enrichment progress events",
		Long:    "Print recorded enrichment progress events. With --follow the command keeps polling until the watched batch completes or the command is interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				stdout := cmd.OutOrStdout()
				var cursor int64

				for {
					req := ipc.ProgressTailRequest{Cursor: cursor}
					if follow {
						req.WaitMillis = 1000
					}
					resp, err := client.ProgressTail(req)
					if err != nil {
						return err
					}
					cursor = resp.Cursor

					done := false
					for _, entry := range resp.Events {
						event := entry.Event
						if batchID != "" && event.BatchID != batchID {
							continue
						}
						fmt.Fprintln(stdout, formatProgressEvent(event))
						if batchID != "" && batchTerminal(event.Type) {
							done = true
						}
					}
					if !follow || done {
						return nil
					}
					if err := cmd.Context().Err(); err != nil {
						return err
					}
				}
			})
		},
	}

	cmd.Flags().StringVar(&batchID, "batch", "", "Only show events for this batch")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep polling for new events")
	return cmd
}

func batchTerminal(eventType notifications.EventType) bool {
	switch eventType {
	case notifications.EventBatchCompleted, notifications.EventBatchCanceled:
		return true
	default:
		return false
	}
}

func formatProgressEvent(event notifications.Event) string {
	parts := []string{
		event.Timestamp.Local().Format("15:04:05"),
		string(event.Type),
	}
	if event.BatchID != "" {
		parts = append(parts, "batch="+shortBatch(event.BatchID))
	}
	if event.RecordID > 0 {
		parts = append(parts, fmt.Sprintf("record=%d", event.RecordID))
	}
	if event.Title != "" {
		parts = append(parts, fmt.Sprintf("title=%q", event.Title))
	}
	if event.Score > 0 {
		parts = append(parts, fmt.Sprintf("score=%d", event.Score))
	}
	if event.Total > 0 {
		parts = append(parts, fmt.Sprintf("progress=%d/%d", event.Completed, event.Total))
	}
	if event.Message != "" {
		parts = append(parts, fmt.Sprintf("detail=%q", event.Message))
	}
	return strings.Join(parts, " ")
}
