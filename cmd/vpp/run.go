package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	cmtflags "github.com/cometbft/cometbft/libs/cli/flags"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/calehh/vp-proxy/agent"
	"github.com/calehh/vp-proxy/config"
	"github.com/calehh/vp-proxy/state"
)

var (
	homeDir string
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "vpp",
	Short: "vpp votes on governance proposals on behalf of a council",
	Long: `vpp watches a governance service for new proposals and, shortly
before each voting deadline, casts the vote its council agreed on.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the voting proxy",
	Run: func(cmd *cobra.Command, args []string) {
		run(cmd, args)
	},
}

func init() {
	runCmd.Flags().StringVarP(&homeDir, flagHome, "d", "", "home directory")
	runCmd.Flags().BoolVar(&dryRun, "mock", false, "use an in-memory governance service and ledger")
}

func run(cmd *cobra.Command, args []string) {
	if homeDir == "" {
		homeDir = os.ExpandEnv("$HOME/.vpp")
	}
	cfg := config.DefaultConfig(homeDir)
	cfg.SetRoot(homeDir)
	viper.SetConfigFile(cfg.ConfigFile())

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("Reading config: %v", err)
	}
	if err := viper.Unmarshal(cfg); err != nil {
		log.Fatalf("Decoding config: %v", err)
	}
	if err := cfg.ValidateBasic(); err != nil {
		log.Fatalf("Invalid configuration data: %v", err)
	}

	logger := cmtlog.NewTMLogger(cmtlog.NewSyncWriter(os.Stdout))
	logger, err := cmtflags.ParseLogLevel(cfg.LogLevel, logger, config.DefaultLogLevel)
	if err != nil {
		log.Fatalf("failed to parse log level: %v", err)
	}

	identity, err := config.InitializeIdentity(cfg)
	if err != nil {
		log.Fatalf("load identity err %s", err.Error())
	}
	if err := os.MkdirAll(cfg.DataDir(), config.DefaultDirPerm); err != nil {
		log.Fatalf("create data dir err %s", err.Error())
	}
	stateDB, err := state.NewStateDB(cfg.DataDir(), logger)
	if err != nil {
		log.Fatalf("open state db err %s", err.Error())
	}
	journal, err := state.OpenVoteJournal(cfg.JournalDir())
	if err != nil {
		log.Fatalf("open vote journal err %s", err.Error())
	}
	history, err := agent.NewGormHistoryStore(logger, cfg.HistoryDBFile())
	if err != nil {
		log.Fatalf("open history db err %s", err.Error())
	}

	var factory agent.ClientFactory = agent.HTTPClientFactory{Identity: identity, Logger: logger}
	if dryRun {
		logger.Info("dry run, remote services are mocked")
		factory = agent.MockClientFactory{Mock: agent.NewMockClient()}
	}
	engine := agent.NewEngine(logger, agent.EngineConfigFrom(cfg.Watcher), factory,
		agent.WithIdentity(identity),
		agent.WithHistoryStore(history),
		agent.WithVoteJournal(journal),
		agent.WithSnapshotStore(stateDB),
	)
	if err := engine.LoadHistory(); err != nil {
		log.Fatalf("load history err %s", err.Error())
	}
	snap, err := stateDB.LoadSnapshot()
	switch {
	case err == nil:
		if err := engine.Restore(snap); err != nil {
			log.Fatalf("restore engine err %s", err.Error())
		}
	case errors.Is(err, state.ErrNoSnapshot):
		logger.Info("no snapshot, starting fresh")
	default:
		log.Fatalf("load snapshot err %s", err.Error())
	}
	if engine.GovernanceAddress() == "" && cfg.Governance.URL != "" {
		if err := engine.SetGovernance(cfg.Governance.URL); err != nil {
			log.Fatalf("set governance err %s", err.Error())
		}
	}
	if engine.LedgerAddress() == "" && cfg.Governance.LedgerURL != "" {
		if err := engine.SetLedger(cfg.Governance.LedgerURL); err != nil {
			log.Fatalf("set ledger err %s", err.Error())
		}
	}

	service := agent.NewService(cfg.ListenAddr, cfg.AdminToken, engine)
	go func() {
		if err := service.Start(); err != nil {
			log.Fatalf("admin service err %s", err.Error())
		}
	}()
	logger.Info("vpp started", "listen", cfg.ListenAddr, "identity", identity.Address().Hex(), "version", VersionWithCommit(GitCommit))

	defer func() {
		log.Println("shut down...")
		done := make(chan struct{})
		go func() {
			defer close(done)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := service.Stop(ctx); err != nil {
				logger.Error("stop admin service fail", "err", err)
			}
			engine.Close()
			if err := stateDB.SaveSnapshot(engine.Snapshot()); err != nil {
				logger.Error("save snapshot fail", "err", err)
			}
			_ = journal.Close()
			_ = history.Close()
			_ = stateDB.Close()
		}()
		timer := time.NewTimer(time.Second * 10)
		select {
		case <-timer.C:
			os.Exit(1)
		case <-done:
			return
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}
