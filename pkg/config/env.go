package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "mwallet"

// Env holds overrides read from MWALLET_* variables. A tagged field also
// falls back to the unprefixed name, so MORALIS_API_KEY works too.
type Env struct {
	MoralisAPIKey string `envconfig:"MORALIS_API_KEY"`
	IndexerURL    string `envconfig:"INDEXER_URL"`
	DefaultChain  string `envconfig:"DEFAULT_CHAIN"`
	LogLevel      string `envconfig:"LOG_LEVEL"`
	LogFile       string `envconfig:"LOG_FILE"`
	LogJSON       bool   `envconfig:"LOG_JSON"`
	ListenAddr    string `envconfig:"LISTEN_ADDR"`
}

// LoadDotEnv loads dotenv files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// ApplyEnv overlays environment overrides onto globalCfg.
func ApplyEnv(globalCfg *GlobalConfig) error {
	var env Env
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return err
	}
	if env.MoralisAPIKey != "" {
		globalCfg.MoralisAPIKey = env.MoralisAPIKey
	}
	if env.IndexerURL != "" {
		globalCfg.IndexerURL = env.IndexerURL
	}
	if env.DefaultChain != "" {
		globalCfg.DefaultChain = strings.ToLower(env.DefaultChain)
	}
	if env.LogLevel != "" {
		globalCfg.LogLevel = env.LogLevel
	}
	if env.LogFile != "" {
		globalCfg.LogFile = env.LogFile
	}
	if env.LogJSON {
		globalCfg.LogJSON = true
	}
	if env.ListenAddr != "" {
		globalCfg.ListenAddr = env.ListenAddr
	}
	return nil
}
