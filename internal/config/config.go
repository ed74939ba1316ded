package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	// EnvConfigPath overrides DefaultPath.
	EnvConfigPath = "OITRADER_CONFIG"
	DefaultPath   = "configs/config.yaml"

	envBinanceKey    = "BINANCE_API_KEY"
	envBinanceSecret = "BINANCE_API_SECRET"
	envTelegramToken = "TELEGRAM_BOT_TOKEN"
)

// PathFromEnv returns the config path selected by the environment.
func PathFromEnv() string {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads path and its includes, applies defaults for keys the files do
// not set, fills secrets from the environment and validates the result.
func Load(path string) (*Config, error) {
	files, err := resolveConfigIncludes(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigType("yaml")
	for _, file := range files {
		if err := mergeConfigFile(v, file); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	setKeys := make(keySet)
	markSetKeys("", v.AllSettings(), setKeys)
	cfg.applyDefaults(setKeys)
	cfg.applyEnv(os.Getenv)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func mergeConfigFile(v *viper.Viper, path string) error {
	layer := viper.New()
	layer.SetConfigFile(path)
	if err := layer.ReadInConfig(); err != nil {
		return err
	}
	return v.MergeConfigMap(layer.AllSettings())
}

// includeWalker orders a config file after everything it includes so that
// the including file wins on merge.
type includeWalker struct {
	active  map[string]bool
	visited map[string]bool
	order   []string
}

func resolveConfigIncludes(path string) ([]string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}
	root, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w := &includeWalker{active: map[string]bool{}, visited: map[string]bool{}}
	if err := w.visit(root); err != nil {
		return nil, err
	}
	return w.order, nil
}

func (w *includeWalker) visit(file string) error {
	file = filepath.Clean(file)
	if w.active[file] {
		return fmt.Errorf("config include cycle at %s", file)
	}
	if w.visited[file] {
		return nil
	}
	w.active[file] = true
	includes, err := readIncludes(file)
	if err != nil {
		return fmt.Errorf("read includes of %s: %w", file, err)
	}
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(file), inc)
		}
		if err := w.visit(inc); err != nil {
			return err
		}
	}
	w.active[file] = false
	w.visited[file] = true
	w.order = append(w.order, file)
	return nil
}

// readIncludes returns the include entries of one file. A single string is
// accepted as a one-element list.
func readIncludes(file string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(file)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if !v.IsSet("include") {
		return nil, nil
	}
	var raw []string
	if err := mapstructure.WeakDecode(v.Get("include"), &raw); err != nil {
		return nil, fmt.Errorf("include must list file paths: %w", err)
	}
	out := raw[:0]
	for _, inc := range raw {
		if inc = strings.TrimSpace(inc); inc != "" {
			out = append(out, inc)
		}
	}
	return out, nil
}

// markSetKeys records the dotted path of every leaf in settings. Lists are
// leaves.
func markSetKeys(prefix string, node any, keys keySet) {
	tree, ok := node.(map[string]any)
	if !ok {
		if prefix != "" {
			keys.mark(prefix)
		}
		return
	}
	for name, child := range tree {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if prefix != "" {
			name = prefix + "." + name
		}
		markSetKeys(name, child, keys)
	}
}

// applyEnv fills secrets left empty in the files.
func (c *Config) applyEnv(getenv func(string) string) {
	if c.Exchange.APIKey == "" {
		c.Exchange.APIKey = strings.TrimSpace(getenv(envBinanceKey))
	}
	if c.Exchange.APISecret == "" {
		c.Exchange.APISecret = strings.TrimSpace(getenv(envBinanceSecret))
	}
	if c.Notify.Telegram.BotToken == "" {
		c.Notify.Telegram.BotToken = strings.TrimSpace(getenv(envTelegramToken))
	}
}
