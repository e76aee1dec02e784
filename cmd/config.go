package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "bullseye"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage bullseye configuration.

Every key can also be set from the environment: session.face becomes
BULLSEYE_SESSION_FACE. A .env file in the working directory is loaded first.

Running bare 'bullseye config' is the same as 'bullseye config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the current values",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show each setting and where its value comes from",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open the config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// setting is one documented configuration key.
type setting struct {
	Key  string
	Help string
	// Optional settings are written commented out by init.
	Optional bool
	// Secret values are masked by show and never written by init.
	Secret bool
}

// settings drives config init, config show and the env var names. Keys
// sharing a prefix must be adjacent so init can group them.
var settings = []setting{
	{Key: "state_dir", Help: "State and data directory", Optional: true},
	{Key: "db_path", Help: "SQLite database path", Optional: true},
	{Key: "session.ends", Help: "Ends per new session"},
	{Key: "session.arrows_per_end", Help: "Arrows per end"},
	{Key: "session.distance", Help: "Distance in meters"},
	{Key: "session.face", Help: "WA_OUTDOOR, WA_INDOOR_SINGLE or WA_INDOOR_TRIPLE"},
	{Key: "scoring.commit_delay", Help: `Pause before a full end is saved, e.g. "1500ms"`},
	{Key: "log.level", Help: "debug, info, warn or error"},
	{Key: "port", Help: "HTTP API port for 'bullseye serve'"},
	{Key: "anthropic.api_key", Help: "Prefer BULLSEYE_ANTHROPIC_API_KEY or a .env file", Optional: true, Secret: true},
	{Key: "anthropic.model", Help: "Model used for coaching"},
}

// envName maps a config key to its environment variable.
func envName(key string) string {
	return "BULLSEYE_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// renderConfig writes settings as commented YAML, one block per prefix.
func renderConfig() []byte {
	var b bytes.Buffer
	b.WriteString("# bullseye configuration\n")
	b.WriteString("# See: bullseye config show (for effective values and sources)\n")

	group := "-"
	for _, s := range settings {
		prefix, name := "", s.Key
		if i := strings.IndexByte(s.Key, '.'); i >= 0 {
			prefix, name = s.Key[:i], s.Key[i+1:]
		}

		indent := ""
		if prefix != "" {
			indent = "  "
		}
		if prefix != group || prefix == "" {
			b.WriteString("\n")
			if prefix != "" {
				fmt.Fprintf(&b, "%s:\n", prefix)
			}
			group = prefix
		}

		fmt.Fprintf(&b, "%s# %s\n", indent, s.Help)
		value := yamlScalar(viper.Get(s.Key))
		if s.Secret {
			value = `""`
		}
		if s.Optional {
			indent += "# "
		}
		fmt.Fprintf(&b, "%s%s: %s\n", indent, name, value)
	}
	return b.Bytes()
}

func yamlScalar(v any) string {
	switch t := v.(type) {
	case string:
		return strconv.Quote(t)
	case nil:
		return `""`
	default:
		return fmt.Sprint(t)
	}
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	content := renderConfig()
	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		_, _ = ui.Out.Write(content)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	_, _ = ui.Out.Write(content)
	return nil
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	inFile := fileKeys(cfgPath)
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	table := ui.Table([]string{"Key", "Value", "Source"})
	for _, s := range settings {
		value := fmt.Sprint(viper.Get(s.Key))
		if s.Secret {
			value = maskSecret(viper.GetString(s.Key))
		}
		_ = table.Append([]string{s.Key, value, sourceOf(s.Key, envName(s.Key), inFile)})
	}
	return table.Render()
}

// maskSecret hides all but the last four characters of a secret.
func maskSecret(v string) string {
	switch {
	case v == "":
		return ""
	case len(v) <= 4:
		return "****"
	default:
		return "****" + v[len(v)-4:]
	}
}

// fileKeys returns the dotted keys present in the YAML file at path.
// A missing or unreadable file has no keys.
func fileKeys(path string) map[string]bool {
	keys := make(map[string]bool)
	data, err := os.ReadFile(path)
	if err != nil {
		return keys
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return keys
	}
	collectKeys("", doc, keys)
	return keys
}

func collectKeys(prefix string, m map[string]any, into map[string]bool) {
	for k, v := range m {
		if prefix != "" {
			k = prefix + "." + k
		}
		if child, ok := v.(map[string]any); ok {
			collectKeys(k, child, into)
			continue
		}
		into[k] = true
	}
}

// sourceOf reports where viper takes the value of key from. The
// environment wins over the file, the file over the defaults.
func sourceOf(key, env string, inFile map[string]bool) string {
	if _, ok := os.LookupEnv(env); ok {
		return "env " + env
	}
	if inFile[key] {
		return "file"
	}
	return "default"
}

func editorCommand() string {
	for _, v := range []string{"EDITOR", "VISUAL"} {
		if e := os.Getenv(v); e != "" {
			return e
		}
	}
	return ""
}

func configEditRun() error {
	editor := editorCommand()
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set: set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'bullseye config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	c := exec.Command(editor, cfgPath)
	c.Stdin = os.Stdin
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	return c.Run()
}
