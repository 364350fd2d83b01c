package main

import (
	"github.com/spf13/cobra"

	"github.com/calehh/vp-proxy/agent"
)

var historyArgs agent.GetHistoryReq

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the participation history, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return post("/getHistory", historyArgs)
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the participation history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return post("/history/clear", nil)
	},
}

var historyVotesCmd = &cobra.Command{
	Use:   "votes",
	Short: "List the votes recorded in the vote journal",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return post("/getVotes", nil)
	},
}

func init() {
	urlFlag(historyCmd, &adminArgs.Url)
	tokenFlag(historyCmd, &adminArgs.Token)
	historyCmd.Flags().IntVarP(&historyArgs.Page, "page", "p", 0, "page")
	historyCmd.Flags().IntVarP(&historyArgs.PageSize, "size", "s", 20, "page size")
	historyCmd.AddCommand(historyClearCmd, historyVotesCmd)
}
