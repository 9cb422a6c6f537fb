package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func auditCmd() *cobra.Command {
	var limit, offset int32
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List audit log entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()
			logs, err := e.store.Repos().Audit.List(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tACTOR\tACTION\tRESOURCE\tIP\tMETADATA")
			for _, l := range logs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					l.CreatedAt.Format(time.RFC3339), l.ActorID, l.Action, l.Resource, l.IP, l.Metadata)
			}
			return w.Flush()
		},
	}
	cmd.Flags().Int32Var(&limit, "limit", 50, "Maximum entries")
	cmd.Flags().Int32Var(&offset, "offset", 0, "Entries to skip")
	return cmd
}
