package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/calehh/vp-proxy/agent"
)

type setupArguments struct {
	Governance string
	Ledger     string
	Members    []string
	Exclude    []uint
}

var setupArgs setupArguments

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Configure services, council and excluded action types in one go",
	Args:  cobra.NoArgs,
	RunE:  setupRun,
}

func init() {
	urlFlag(setupCmd, &adminArgs.Url)
	tokenFlag(setupCmd, &adminArgs.Token)
	setupCmd.Flags().StringVar(&setupArgs.Governance, "governance", "", "governance service url")
	setupCmd.Flags().StringVar(&setupArgs.Ledger, "ledger", "", "ledger service url")
	setupCmd.Flags().StringSliceVarP(&setupArgs.Members, "member", "m", nil, "council member as name:neuron, repeatable")
	setupCmd.Flags().UintSliceVarP(&setupArgs.Exclude, "exclude", "x", nil, "action types to exclude")
}

func parseMember(s string) (agent.CouncilMemberReq, error) {
	name, neuron, ok := strings.Cut(s, ":")
	if !ok || neuron == "" {
		return agent.CouncilMemberReq{}, fmt.Errorf("invalid member %q, expected name:neuron", s)
	}
	return agent.CouncilMemberReq{Name: name, NeuronId: neuron}, nil
}

func setupRun(cmd *cobra.Command, args []string) error {
	members := make([]agent.CouncilMemberReq, 0, len(setupArgs.Members))
	for _, m := range setupArgs.Members {
		req, err := parseMember(m)
		if err != nil {
			return err
		}
		members = append(members, req)
	}
	if setupArgs.Governance != "" {
		if err := post("/config/governance", agent.AddressReq{Url: setupArgs.Governance}); err != nil {
			return err
		}
	}
	if setupArgs.Ledger != "" {
		if err := post("/config/ledger", agent.AddressReq{Url: setupArgs.Ledger}); err != nil {
			return err
		}
	}
	for _, m := range members {
		if err := post("/council/add", m); err != nil {
			return err
		}
	}
	for _, t := range setupArgs.Exclude {
		if err := post("/actions/disallow", agent.ActionTypeReq{ActionType: uint64(t)}); err != nil {
			return err
		}
	}
	return nil
}
