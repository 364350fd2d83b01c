package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/calehh/vp-proxy/agent"
)

var actionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "Manage the action types the proxy votes on",
}

func actionTypeCmd(use string, short string, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <type>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return err
			}
			return post(path, agent.ActionTypeReq{ActionType: t})
		},
	}
}

var actionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the excluded action types",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return post("/getExcludedActions", nil)
	},
}

func init() {
	urlFlag(actionsCmd, &adminArgs.Url)
	tokenFlag(actionsCmd, &adminArgs.Token)
	actionsCmd.AddCommand(
		actionTypeCmd("disallow", "Exclude an action type and drop its scheduled votes", "/actions/disallow"),
		actionTypeCmd("allow", "Vote on an action type again", "/actions/allow"),
		actionsListCmd,
	)
}
