package main

import (
	"github.com/spf13/cobra"

	"github.com/calehh/vp-proxy/agent"
)

type councilArguments struct {
	Name   string
	Neuron string
}

var councilArgs councilArguments

var councilCmd = &cobra.Command{
	Use:   "council",
	Short: "Manage the council whose ballots decide the proxy vote",
}

var councilAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a council member",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return post("/council/add", agent.CouncilMemberReq{Name: councilArgs.Name, NeuronId: councilArgs.Neuron})
	},
}

var councilRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove the council members holding a neuron",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return post("/council/remove", agent.CouncilMemberReq{NeuronId: councilArgs.Neuron})
	},
}

var councilResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Remove every council member",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return post("/council/reset", nil)
	},
}

var councilListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the council",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return post("/getCouncil", nil)
	},
}

func init() {
	urlFlag(councilCmd, &adminArgs.Url)
	tokenFlag(councilCmd, &adminArgs.Token)
	councilAddCmd.Flags().StringVarP(&councilArgs.Name, "name", "n", "", "member name")
	councilAddCmd.Flags().StringVarP(&councilArgs.Neuron, "neuron", "i", "", "member neuron id")
	councilRemoveCmd.Flags().StringVarP(&councilArgs.Neuron, "neuron", "i", "", "member neuron id")
	councilCmd.AddCommand(councilAddCmd, councilRemoveCmd, councilResetCmd, councilListCmd)
}
