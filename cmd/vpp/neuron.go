package main

import (
	"github.com/spf13/cobra"

	"github.com/calehh/vp-proxy/agent"
)

type neuronArguments struct {
	Amount  uint64
	Nonce   uint64
	Seconds uint32
}

var neuronArgs neuronArguments

var neuronCmd = &cobra.Command{
	Use:   "neuron",
	Short: "Manage the proxy's own neuron",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return post("/getNeuron", nil)
	},
}

var neuronCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Stake tokens and claim the proxy neuron",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return post("/neuron/create", agent.CreateNeuronReq{Amount: neuronArgs.Amount, Nonce: neuronArgs.Nonce})
	},
}

var neuronClaimCmd = &cobra.Command{
	Use:   "claim",
	Short: "Retry the claim of a neuron whose stake was already transferred",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return post("/neuron/claim", nil)
	},
}

var neuronDissolveCmd = &cobra.Command{
	Use:   "dissolve-delay",
	Short: "Increase the neuron dissolve delay",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return post("/neuron/dissolve", agent.DissolveDelayReq{Seconds: neuronArgs.Seconds})
	},
}

func init() {
	urlFlag(neuronCmd, &adminArgs.Url)
	tokenFlag(neuronCmd, &adminArgs.Token)
	neuronCreateCmd.Flags().Uint64VarP(&neuronArgs.Amount, "amount", "a", 0, "stake amount")
	neuronCreateCmd.Flags().Uint64VarP(&neuronArgs.Nonce, "nonce", "n", 0, "staking subaccount nonce")
	neuronDissolveCmd.Flags().Uint32VarP(&neuronArgs.Seconds, "seconds", "s", 0, "additional dissolve delay in seconds")
	neuronCmd.AddCommand(neuronCreateCmd, neuronClaimCmd, neuronDissolveCmd)
}
