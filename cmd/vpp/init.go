package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/calehh/vp-proxy/config"
)

type printInfo struct {
	Home       string `json:"home"`
	ConfigFile string `json:"config_file"`
	Identity   string `json:"identity"`
	ListenAddr string `json:"listen_addr"`
}

func displayInfo(info printInfo) error {
	out, err := json.MarshalIndent(info, "", " ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(os.Stderr, "%s\n", out)
	return err
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the proxy identity and configuration files",
	Args:  cobra.ExactArgs(0),
	RunE:  initRun,
}

func init() {
	initCmd.Flags().StringP(flagHome, "d", "", "home directory")
	initCmd.Flags().BoolP(flagOverwrite, "o", false, "overwrite an existing config.toml")
	initCmd.Flags().String("governance", "", "governance service url")
	initCmd.Flags().String("ledger", "", "ledger service url")
}

func initRun(cmd *cobra.Command, args []string) error {
	home, _ := cmd.Flags().GetString(flagHome)
	overwrite, _ := cmd.Flags().GetBool(flagOverwrite)
	cfg := config.DefaultConfig(home)
	cfg.Governance.URL, _ = cmd.Flags().GetString("governance")
	cfg.Governance.LedgerURL, _ = cmd.Flags().GetString("ledger")

	if _, err := os.Stat(cfg.ConfigFile()); err == nil && !overwrite {
		return fmt.Errorf("config file %s already exists, use --%s to replace it", cfg.ConfigFile(), flagOverwrite)
	}
	if err := cfg.ValidateBasic(); err != nil {
		return err
	}
	id, err := config.InitializeIdentity(cfg)
	if err != nil {
		return fmt.Errorf("initialize identity: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir(), config.DefaultDirPerm); err != nil {
		return err
	}
	if err := config.WriteConfigFile(cfg.ConfigFile(), cfg); err != nil {
		return err
	}
	return displayInfo(printInfo{
		Home:       cfg.RootDir,
		ConfigFile: cfg.ConfigFile(),
		Identity:   id.Address().Hex(),
		ListenAddr: cfg.ListenAddr,
	})
}
