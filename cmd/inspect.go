package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zoravur/materialize-live/internal/target"
)

// inspect shows what the server would run for a target without connecting.
func newInspectCmd() *cobra.Command {
	var relation, query, statement, datasource string
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the channel and SQL generated for a relation or query",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				t   target.Target
				err error
			)
			switch {
			case relation != "" && query != "":
				return errors.New("use either --relation or --query, not both")
			case relation != "":
				t, err = target.NewRelation(relation)
			case query != "":
				t, err = target.NewQuery(query)
			default:
				return errors.New("one of --relation or --query is required")
			}
			if err != nil {
				return err
			}
			stmt, err := target.ParseStatement(statement)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			path := target.EncodePath(t)
			fmt.Fprintf(out, "path:       %s\n", path)
			if datasource != "" {
				fmt.Fprintf(out, "channel:    %s\n", target.Channel(datasource, path))
			}
			fmt.Fprintf(out, "snapshot:   %s\n", t.SnapshotSQL())
			fmt.Fprintf(out, "changefeed: %s\n", t.ChangefeedSQL(stmt))
			return nil
		},
	}
	cmd.Flags().StringVar(&relation, "relation", "", "relation name")
	cmd.Flags().StringVar(&query, "query", "", "query text")
	cmd.Flags().StringVar(&statement, "statement", string(target.Subscribe), "changefeed keyword (SUBSCRIBE or TAIL)")
	cmd.Flags().StringVar(&datasource, "datasource", "", "datasource uid to scope the channel to")
	return cmd
}
