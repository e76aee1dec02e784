package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/bullseye/internal/logger"
	"github.com/joescharf/bullseye/internal/models"
	"github.com/joescharf/bullseye/internal/output"
	"github.com/joescharf/bullseye/internal/sessions"
	"github.com/joescharf/bullseye/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui         *output.UI
	dataStore  store.Store
	sessionMgr *sessions.Manager

	verbose bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "bullseye",
	Short: "Bullseye - score archery practice sessions",
	Long: `bullseye records archery practice sessions end by end.
Arrows are scored from keypad labels or face coordinates, ends commit
automatically when full, and history is kept in a local SQLite database
with stats, exports, an HTTP API and MCP tools on top.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	err := rootCmd.Execute()
	if sessionMgr != nil {
		if cerr := sessionMgr.Close(context.Background()); cerr != nil && err == nil {
			err = cerr
		}
	}
	if dataStore != nil {
		_ = dataStore.Close()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return rootRun(cmd)
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/bullseye/config.yaml)")
}

func initConfig() {
	// .env values land in the process environment before viper reads it.
	_ = godotenv.Load()

	configDir, err := configDirFunc()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
		os.Exit(1)
	}

	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("BULLSEYE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults(configDir)

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers the default value of every config key.
func setDefaults(configDir string) {
	viper.SetDefault("state_dir", configDir)
	viper.SetDefault("db_path", filepath.Join(configDir, "bullseye.db"))
	viper.SetDefault("session.ends", models.DefaultTotalEnds)
	viper.SetDefault("session.arrows_per_end", models.DefaultArrowsPerEnd)
	viper.SetDefault("session.distance", models.DefaultDistance)
	viper.SetDefault("session.face", string(models.DefaultTargetFace))
	viper.SetDefault("scoring.commit_delay", "0s")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("port", 8420)
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	// Initialize store lazily, only when commands actually need it.
	// This allows config/version commands to run without a db.
}

// rootRun handles `bullseye` with no subcommand: show the session in
// progress, if any, otherwise help.
func rootRun(cmd *cobra.Command) error {
	m, err := getManager()
	if err != nil {
		return cmd.Help()
	}

	open, err := m.List(context.Background(), store.SessionListFilter{IncompleteOnly: true, Limit: 1})
	if err != nil || len(open) == 0 {
		return cmd.Help()
	}
	return sessionShowRun(open[0].ID)
}

// newLogger builds the structured logger for the current flags and config.
func newLogger() zerolog.Logger {
	level := viper.GetString("log.level")
	if verbose {
		level = "debug"
	}
	return logger.Console(os.Stderr, level)
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx := rootCmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// getManager returns the shared session manager, configured from viper.
func getManager() (*sessions.Manager, error) {
	if sessionMgr != nil {
		return sessionMgr, nil
	}
	s, err := getStore()
	if err != nil {
		return nil, err
	}

	sessionMgr = sessions.NewManager(s, sessions.Options{
		Defaults: sessions.Defaults{
			TotalEnds:    viper.GetInt("session.ends"),
			ArrowsPerEnd: viper.GetInt("session.arrows_per_end"),
			Distance:     viper.GetInt("session.distance"),
			Face:         models.TargetFace(strings.ToUpper(viper.GetString("session.face"))),
		},
		CommitDelay: viper.GetDuration("scoring.commit_delay"),
		Logger:      newLogger(),
	})
	return sessionMgr, nil
}

// resolveSession maps a CLI argument to a session id.
func resolveSession(ctx context.Context, m *sessions.Manager, ref string) (string, error) {
	id, err := m.Resolve(ctx, ref)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("no session matches %q", ref)
		}
		return "", err
	}
	return id, nil
}
