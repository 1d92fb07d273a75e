package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g. SMM_LLM_API_KEY.
const EnvPrefix = "SMM"

// Load reads smm.yaml (explicit path, ./smm.yaml or ~/.smm/smm.yaml) on top
// of the defaults and applies SMM_* environment overrides.
func Load(path string) (Config, error) {
	v := viper.New()
	if err := setDefaults(v, Default()); err != nil {
		return Config{}, err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("smm")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".smm"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	// The OpenAI key is commonly exported without the prefix.
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if len(cfg.LLM.TaskBudgets) == 0 {
		cfg.LLM.TaskBudgets = DefaultTaskBudgets()
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every leaf of def so AutomaticEnv can override keys
// that are absent from the file. def must encode as a YAML mapping.
func setDefaults(v *viper.Viper, def any) error {
	data, err := yaml.Marshal(def)
	if err != nil {
		return fmt.Errorf("encode defaults: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("decode defaults: %w", err)
	}
	walkDefaults(v, "", tree)
	return nil
}

func walkDefaults(v *viper.Viper, prefix string, node map[string]any) {
	for key, value := range node {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if child, ok := value.(map[string]any); ok && full != "llm.task_budgets" {
			walkDefaults(v, full, child)
			continue
		}
		v.SetDefault(full, value)
	}
}

// WriteStarter writes the default configuration as YAML to path, refusing to
// overwrite an existing file.
func WriteStarter(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o600)
}
