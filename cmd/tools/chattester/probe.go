package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/webchat/backend/internal/model/chat"
	"github.com/zhouzirui/webchat/backend/internal/service/endpoint"
)

var probeCmd = &cobra.Command{
	Use:   "probe <url>",
	Short: "Validate an endpoint and print its canonical URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resolver := endpoint.NewResolver(newClient())

		result, err := resolver.Resolve(cmd.Context(), args[0], apiKey)
		if err != nil {
			printNotice(chat.NoticeError, "cannot connect to "+args[0])
			return err
		}

		if result.Normalized {
			printNotice(chat.NoticeSuccess, "added the /v1 suffix")
		}
		fmt.Fprintln(cmd.OutOrStdout(), result.CanonicalURL)
		return nil
	},
}
