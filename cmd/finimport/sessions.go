package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
	"github.com/rumor-ml/commons.systems/finimport/internal/output"
	"github.com/rumor-ml/commons.systems/finimport/internal/ui"
)

func newSessionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List and roll back import sessions",
	}

	var asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List import sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			e, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			sessions, err := e.backend.ListSessions(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				return output.WriteSessions(sessions, cmd.OutOrStdout())
			}
			return printSessions(cmd, sessions)
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "print sessions as JSON")

	rollback := &cobra.Command{
		Use:   "rollback <session-id>",
		Short: "Remove the transactions of a committed import",
		Long: `Deletes every transaction recorded by the session and marks it rolled back,
so the same file can be imported again. Rolling back twice is harmless.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			e, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := e.Close(); closeErr != nil && err == nil {
					err = closeErr
				}
			}()

			session, err := e.pipeline(a).Rollback(ctx, args[0])
			if err != nil {
				return err
			}
			ui.Success(fmt.Sprintf("Rolled back %s (%s, %d transactions)", session.ID, session.Filename, session.TransactionCount))
			return nil
		},
	}

	cmd.AddCommand(list, rollback)
	return cmd
}

func printSessions(cmd *cobra.Command, sessions []*domain.ImportSession) error {
	if len(sessions) == 0 {
		ui.Info("No import sessions")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tFILE\tFORMAT\tACCOUNT\tTXNS\tDUPS\tSTATUS")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			s.ID,
			s.CreatedAt.Local().Format("2006-01-02 15:04"),
			s.Filename,
			s.Format,
			s.AccountSource,
			s.TransactionCount,
			s.DuplicateCount+s.CrossFileDuplicateCount,
			s.Status,
		)
	}
	return w.Flush()
}
