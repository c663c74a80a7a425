package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = ".ac2git"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for ac2git settings.
const envPrefix = "AC2GIT"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// DefaultRetrievalWorkers is the default per-stream retrieval concurrency.
const DefaultRetrievalWorkers = 4

// DefaultRetrievalRetryMax is the default number of transient-error retries.
const DefaultRetrievalRetryMax = 5

// DefaultRetrievalRetryDelay is the default initial backoff delay.
const DefaultRetrievalRetryDelay = "500ms"

// DefaultMethod is the retrieval strategy used when none is configured.
const DefaultMethod = MethodPop

// DefaultEmptyChildStreamAction is the propagation policy used when none
// is configured.
const DefaultEmptyChildStreamAction = ChildActionMerge

// DefaultStartTx is the transaction keyword used when start-tx is omitted.
const DefaultStartTx = TxFirst

// DefaultEndTx is the transaction keyword used when end-tx is omitted.
const DefaultEndTx = TxHighest

// LoadConfig loads configuration from file, env vars, and defaults.
// If configPath is non-empty, it is used as the explicit config file path.
// Otherwise, the config file is searched in CWD and $HOME.
// When no path is given and no file is found, that is not an error:
// defaults and env vars are used, though Validate still rejects a
// config without depot, streams and repo-path. An explicit path that
// cannot be read is an error.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator, "-", envKeySeparator))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("streams", []string{})
	viperCfg.SetDefault("start-tx", DefaultStartTx)
	viperCfg.SetDefault("end-tx", DefaultEndTx)
	viperCfg.SetDefault("method", DefaultMethod)
	viperCfg.SetDefault("source-stream-fast-forward", false)
	viperCfg.SetDefault("empty-child-stream-action", DefaultEmptyChildStreamAction)
	viperCfg.SetDefault("user-map", map[string]UserSpec{})

	viperCfg.SetDefault("retrieval.workers", DefaultRetrievalWorkers)
	viperCfg.SetDefault("retrieval.retry_max", DefaultRetrievalRetryMax)
	viperCfg.SetDefault("retrieval.retry_delay", DefaultRetrievalRetryDelay)
}
