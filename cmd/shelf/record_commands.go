package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"shelf/internal/config"
	"shelf/internal/ipc"
)

func newListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List library records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.RecordList()
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				if len(resp.Records) == 0 {
					fmt.Fprintln(stdout, "Library is empty")
					return nil
				}

				rows := make([][]string, 0, len(resp.Records))
				for _, record := range resp.Records {
					rows = append(rows, []string{
						strconv.FormatInt(record.ID, 10),
						truncate(record.Title, 48),
						truncate(strings.Join(record.Authors, ", "), 36),
						record.ISBN,
						formatTimestamp(record.EnrichedAt),
					})
				}
				fmt.Fprintln(stdout, renderTable(
					[]string{"ID", "Title", "Authors", "ISBN", "Enriched"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
}

func newAddCommand(ctx *commandContext) *cobra.Command {
	var authors []string
	var isbn string
	var year int

	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a record to the library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.RecordAdd(ipc.RecordAddRequest{
					Title:           args[0],
					Authors:         authors,
					ISBN:            isbn,
					PublicationYear: year,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added record %d: %s\n", resp.Record.ID, resp.Record.Title)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&authors, "author", "a", nil, "Author name (repeatable)")
	cmd.Flags().StringVar(&isbn, "isbn", "", "ISBN-10 or ISBN-13")
	cmd.Flags().IntVar(&year, "year", 0, "Publication year")
	return cmd
}

func newRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a record from the library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid record id %q", args[0])
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.RecordRemove(id)
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				if resp.Removed {
					fmt.Fprintf(stdout, "Removed record %d\n", id)
				} else {
					fmt.Fprintf(stdout, "Record %d not found\n", id)
				}
				return nil
			})
		},
	}
}

func newImportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <csv-file>",
		Short: "Import records from a CSV file",
		Long:  "Import records from a CSV file with a title,authors,isbn header. Multiple authors are separated with semicolons.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Import(path)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d records (%d skipped)\n", resp.Imported, resp.Skipped)
				return nil
			})
		},
	}
}
