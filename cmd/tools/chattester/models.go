package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/webchat/backend/internal/model/chat"
)

var modelsCmd = &cobra.Command{
	Use:   "models <url>",
	Short: "List the models served at a canonical URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		models := newClient().ListModels(cmd.Context(), args[0], apiKey)
		if len(models) == 0 {
			printNotice(chat.NoticeWarning, "no models available")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tOWNER")
		for _, m := range models {
			fmt.Fprintf(w, "%s\t%s\t%s\n", m.ID, m.Name, m.OwnedBy)
		}
		return w.Flush()
	},
}
