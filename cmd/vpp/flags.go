package main

import "github.com/spf13/cobra"

const (
	flagHome      = "home"
	flagOverwrite = "overwrite"
)

func urlFlag(cmd *cobra.Command, url *string) {
	cmd.PersistentFlags().StringVarP(url, "url", "u", "http://127.0.0.1:8650", "vpp admin service url")
}

func tokenFlag(cmd *cobra.Command, token *string) {
	cmd.PersistentFlags().StringVarP(token, "token", "t", "", "admin token")
}
