package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/gotmesh/internal/config"
	"github.com/Iron-Ham/gotmesh/internal/logging"
	"github.com/Iron-Ham/gotmesh/internal/store"
	"github.com/Iron-Ham/gotmesh/internal/taskmanager"
)

var rootCmd = &cobra.Command{
	Use:   "gotmesh",
	Short: "Peer-to-peer task graph runner",
	Long: `gotmesh runs dependency graphs of tasks across cooperating peers.

Peers that share a mailbox directory gossip their claims and outcomes, so
each task in a shared plan runs on exactly one of them while every peer
tracks the whole graph.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/gotmesh/config.yaml)")
	rootCmd.PersistentFlags().String("data-dir", "", "directory for task state, results and logs")
	rootCmd.PersistentFlags().String("peer", "", "local peer id (default is the hostname)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("peer.data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))
	_ = viper.BindPFlag("peer.id", rootCmd.PersistentFlags().Lookup("peer"))
}

func initConfig() {
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("GOTMESH")
	// GOTMESH_CLAIM_TTL_MS for claim.ttl_ms
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	_ = viper.ReadInConfig()
}

// peerEnv bundles what every command that touches task state needs.
type peerEnv struct {
	cfg     *config.Config
	logger  *logging.Logger
	results *store.FileStore
	tm      *taskmanager.Manager
}

// openPeer loads the configuration, opens the log file and restores the
// task manager from the data directory.
func openPeer() (*peerEnv, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(cfg.Peer.DataDir, cfg.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return nil, err
	}
	logger = logger.WithPeer(cfg.Peer.ResolvePeerID())

	results, err := store.NewFileStore(cfg.Peer.DataDir)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}

	tm, err := taskmanager.LoadState(cfg.Peer.DataDir,
		taskmanager.WithResultStore(results),
		taskmanager.WithLogger(logger),
		taskmanager.WithClaimTTL(cfg.Claim.TTL()),
		taskmanager.WithDefaultMaxRetries(cfg.Task.DefaultMaxRetries),
		taskmanager.WithDefaultTimeout(cfg.Task.DefaultTimeout()),
	)
	if err != nil {
		_ = logger.Close()
		return nil, fmt.Errorf("failed to restore task state from %s: %w", filepath.Clean(cfg.Peer.DataDir), err)
	}
	return &peerEnv{cfg: cfg, logger: logger, results: results, tm: tm}, nil
}

// save persists the manager's state back to the data directory.
func (p *peerEnv) save() error {
	if err := p.tm.SaveState(p.cfg.Peer.DataDir); err != nil {
		return fmt.Errorf("failed to save task state: %w", err)
	}
	return nil
}

func (p *peerEnv) close() {
	p.tm.Close()
	_ = p.logger.Close()
}
