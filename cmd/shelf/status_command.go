package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"shelf/internal/ipc"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Status()
				if err != nil {
					return err
				}

				stdout := cmd.OutOrStdout()
				colorize := shouldColorize(stdout)

				for _, line := range renderSectionHeader("Daemon", colorize) {
					fmt.Fprintln(stdout, line)
				}
				runningKind := statusWarn
				runningText := "stopped"
				if resp.Running {
					runningKind = statusOK
					runningText = fmt.Sprintf("running (pid %d)", resp.PID)
				}
				fmt.Fprintln(stdout, renderStatusLine("Worker", runningKind, runningText, colorize))
				if resp.LastError != "" {
					fmt.Fprintln(stdout, renderStatusLine("Last error", statusError, resp.LastError, colorize))
				}
				fmt.Fprintln(stdout, renderStatusLine("Library", statusInfo, resp.LibraryDBPath, colorize))
				fmt.Fprintln(stdout, renderStatusLine("Queue", statusInfo, resp.QueueDBPath, colorize))
				fmt.Fprintln(stdout, renderStatusLine("Records", statusInfo, strconv.Itoa(resp.Records), colorize))
				fmt.Fprintln(stdout)

				for _, line := range renderSectionHeader("Queue Status", colorize) {
					fmt.Fprintln(stdout, line)
				}
				if resp.Queue.Total == 0 {
					fmt.Fprintln(stdout, "Queue is empty")
					return nil
				}
				rows := [][]string{
					{"pending", strconv.Itoa(resp.Queue.Pending)},
					{"in_flight", strconv.Itoa(resp.Queue.InFlight)},
					{"succeeded", strconv.Itoa(resp.Queue.Succeeded)},
					{"failed", strconv.Itoa(resp.Queue.Failed)},
					{"canceled", strconv.Itoa(resp.Queue.Canceled)},
					{"review", strconv.Itoa(resp.Queue.Review)},
				}
				fmt.Fprintln(stdout, renderTable(
					[]string{"Status", "Count"},
					rows,
					[]columnAlignment{alignLeft, alignRight},
				))
				return nil
			})
		},
	}
}
