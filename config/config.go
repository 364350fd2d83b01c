package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/calehh/vp-proxy/crypto"
	"github.com/calehh/vp-proxy/types"
)

const (
	DefaultLogLevel   = "info"
	DefaultListenAddr = "127.0.0.1:8650"
	DefaultPageLimit  = MaxPageLimit
	MaxPageLimit      = 100

	DefaultDiscoveryInterval    = 24 * time.Hour
	DefaultMaxVoteAttempts      = 5
	DefaultMaxDiscoveryAttempts = 5
	DefaultRetryDelay           = 30 * time.Second
	DefaultAdminTitlePrefix     = "[vp-proxy]"

	identityKeyFile = "identity_priv_key"
)

type GovernanceConfig struct {
	URL         string `mapstructure:"url"`
	LedgerURL   string `mapstructure:"ledger_url"`
	IdentityKey string `mapstructure:"identity_key"`
}

type WatcherConfig struct {
	DiscoveryInterval    time.Duration `mapstructure:"discovery_interval"`
	GraceWindow          time.Duration `mapstructure:"grace_window"`
	PageLimit            int           `mapstructure:"page_limit"`
	MaxVoteAttempts      int           `mapstructure:"max_vote_attempts"`
	MaxDiscoveryAttempts int           `mapstructure:"max_discovery_attempts"`
	RetryDelay           time.Duration `mapstructure:"retry_delay"`
	AdminTitlePrefix     string        `mapstructure:"admin_title_prefix"`
}

type Config struct {
	RootDir    string `mapstructure:"-"`
	LogLevel   string `mapstructure:"log_level"`
	ListenAddr string `mapstructure:"listen_addr"`
	AdminToken string `mapstructure:"admin_token"`

	Governance *GovernanceConfig `mapstructure:"governance"`
	Watcher    *WatcherConfig    `mapstructure:"watcher"`
}

func DefaultWatcherConfig() *WatcherConfig {
	return &WatcherConfig{
		DiscoveryInterval:    DefaultDiscoveryInterval,
		GraceWindow:          types.DefaultGraceWindow,
		PageLimit:            DefaultPageLimit,
		MaxVoteAttempts:      DefaultMaxVoteAttempts,
		MaxDiscoveryAttempts: DefaultMaxDiscoveryAttempts,
		RetryDelay:           DefaultRetryDelay,
		AdminTitlePrefix:     DefaultAdminTitlePrefix,
	}
}

func DefaultConfig(home string) *Config {
	if len(home) == 0 {
		home = os.ExpandEnv("$HOME/.vpp")
	}
	config := &Config{
		RootDir:    home,
		LogLevel:   DefaultLogLevel,
		ListenAddr: DefaultListenAddr,
		Governance: &GovernanceConfig{
			IdentityKey: filepath.Join("config", identityKeyFile),
		},
		Watcher: DefaultWatcherConfig(),
	}
	_ = os.MkdirAll(filepath.Join(home, "config"), DefaultDirPerm)
	return config
}

func (cfg *Config) SetRoot(root string) *Config {
	cfg.RootDir = root
	return cfg
}

func (cfg *Config) rootify(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(cfg.RootDir, path)
}

func (cfg *Config) ConfigFile() string {
	return filepath.Join(cfg.RootDir, "config", "config.toml")
}

func (cfg *Config) IdentityKeyFile() string {
	return cfg.rootify(cfg.Governance.IdentityKey)
}

func (cfg *Config) DataDir() string {
	return filepath.Join(cfg.RootDir, "data")
}

func (cfg *Config) HistoryDBFile() string {
	return filepath.Join(cfg.DataDir(), "history.db")
}

func (cfg *Config) JournalDir() string {
	return filepath.Join(cfg.DataDir(), "journal")
}

func (cfg *Config) ValidateBasic() error {
	if cfg.Governance == nil {
		return errors.New("missing [governance] section")
	}
	w := cfg.Watcher
	if w == nil {
		return errors.New("missing [watcher] section")
	}
	if w.DiscoveryInterval <= 0 {
		return errors.New("discovery_interval must be positive")
	}
	if w.GraceWindow < 0 {
		return errors.New("grace_window can't be negative")
	}
	if w.PageLimit <= 0 || w.PageLimit > MaxPageLimit {
		return fmt.Errorf("page_limit must be in (0, %d]", MaxPageLimit)
	}
	if w.MaxVoteAttempts <= 0 {
		return errors.New("max_vote_attempts must be positive")
	}
	if w.MaxDiscoveryAttempts <= 0 {
		return errors.New("max_discovery_attempts must be positive")
	}
	if w.RetryDelay < 0 {
		return errors.New("retry_delay can't be negative")
	}
	return nil
}

// InitializeIdentity loads the proxy identity key, generating it on first use.
func InitializeIdentity(cfg *Config) (*crypto.Identity, error) {
	path := cfg.IdentityKeyFile()
	if _, err := os.Stat(path); err == nil {
		return crypto.LoadIdentity(path)
	}
	if err := os.MkdirAll(filepath.Dir(path), DefaultDirPerm); err != nil {
		return nil, err
	}
	id, err := crypto.GenerateIdentity()
	if err != nil {
		return nil, err
	}
	if err := id.Save(path); err != nil {
		return nil, err
	}
	return id, nil
}
