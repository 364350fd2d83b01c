package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/calehh/vp-proxy/agent"
)

type watchArguments struct {
	From       uint64
	ActionType uint64
	Created    uint64
}

var watchArgs watchArguments

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Control proposal watching",
}

var watchStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start watching proposals newer than the given one",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return post("/watch/start", agent.StartWatchingReq{
			ProposalId:        watchArgs.From,
			ActionType:        watchArgs.ActionType,
			CreationTimestamp: watchArgs.Created,
		})
	},
}

var watchStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop watching and cancel every scheduled vote",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return post("/watch/stop", nil)
	},
}

var watchStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the engine status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return post("/watch/status", nil)
	},
}

var watchDiscoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Run a discovery cycle now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return post("/watch/discover", nil)
	},
}

var watchVoteCmd = &cobra.Command{
	Use:   "vote <proposal>",
	Short: "Vote on a watched proposal now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return err
		}
		return post("/watch/vote", agent.ProposalReq{ProposalId: id})
	},
}

var watchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the proposals scheduled for voting",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return post("/getWatchlist", nil)
	},
}

func init() {
	urlFlag(watchCmd, &adminArgs.Url)
	tokenFlag(watchCmd, &adminArgs.Token)
	watchStartCmd.Flags().Uint64VarP(&watchArgs.From, "from", "f", 0, "id of the newest proposal already handled")
	watchStartCmd.Flags().Uint64Var(&watchArgs.ActionType, "type", 0, "action type of that proposal")
	watchStartCmd.Flags().Uint64Var(&watchArgs.Created, "created", 0, "creation timestamp (unix seconds) of that proposal")
	watchCmd.AddCommand(watchStartCmd, watchStopCmd, watchStatusCmd, watchDiscoverCmd, watchVoteCmd, watchListCmd)
}
