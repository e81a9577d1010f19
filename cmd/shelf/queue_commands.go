package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"shelf/internal/ipc"
)

func parseIDArgs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func newEnqueueCommand(ctx *commandContext) *cobra.Command {
	var note string

	cmd := &cobra.Command{
		Use:   "enqueue [record-id...]",
		Short: "Queue records for metadata enrichment",
		Long:  "Queue the given records for enrichment. Without arguments every record that has not been enriched yet is queued.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDArgs(args)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Enqueue(ids, note)
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				fmt.Fprintf(stdout, "Batch %s: %d records queued", resp.BatchID, len(resp.Enqueued))
				if len(resp.Skipped) > 0 {
					fmt.Fprintf(stdout, ", %d already queued", len(resp.Skipped))
				}
				fmt.Fprintln(stdout)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&note, "note", "", "Free-form note stored with the batch")
	return cmd
}

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var batchID string
	var statuses []string

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List enrichment jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.JobList(ipc.JobListRequest{BatchID: batchID, Statuses: statuses})
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				if len(resp.Jobs) == 0 {
					fmt.Fprintln(stdout, "No jobs found")
					return nil
				}

				rows := make([][]string, 0, len(resp.Jobs))
				for _, job := range resp.Jobs {
					score := "-"
					if job.MatchScore > 0 {
						score = strconv.Itoa(job.MatchScore)
					}
					rows = append(rows, []string{
						strconv.FormatInt(job.ID, 10),
						shortBatch(job.BatchID),
						strconv.FormatInt(job.RecordID, 10),
						job.Status,
						strconv.Itoa(job.Attempts),
						score,
						truncate(job.ErrorMessage, 40),
					})
				}
				fmt.Fprintln(stdout, renderTable(
					[]string{"Job", "Batch", "Record", "Status", "Attempts", "Score", "Error"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&batchID, "batch", "", "Only show jobs for this batch")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by status (repeatable)")
	return cmd
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <batch-id>",
		Short: "Cancel a batch's remaining jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Cancel(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Canceled %d pending jobs; any in-flight job stops at its next checkpoint\n", resp.Canceled)
				return nil
			})
		},
	}
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [job-id...]",
		Short: "Retry failed and review jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDArgs(args)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Retry(ids)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d jobs\n", resp.Updated)
				return nil
			})
		},
	}
}

func newResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Return stuck in-flight jobs to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Reset()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reset %d jobs\n", resp.Updated)
				return nil
			})
		},
	}
}

func newClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove finished jobs from the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ClearFinished()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d finished jobs\n", resp.Removed)
				return nil
			})
		},
	}
}

func shortBatch(batchID string) string {
	if idx := strings.IndexByte(batchID, '-'); idx > 0 {
		return batchID[:idx]
	}
	return batchID
}
