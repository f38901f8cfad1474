package config

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

const ConfigFileName = ".mwallet.json"

const (
	DefaultDecimals = 18
	DefaultGasLimit = 21000
)

// ChainConfig holds configuration for a specific EVM chain.
type ChainConfig struct {
	ID          string `json:"id"` // hex chain id, e.g. "0x1"
	Name        string `json:"name"`
	RPCURL      string `json:"rpc_url"`
	Symbol      string `json:"symbol"`
	Decimals    int    `json:"decimals,omitempty"`
	ExplorerURL string `json:"explorer_url,omitempty"`
	LegacyFees  bool   `json:"legacy_fees,omitempty"`
	GasLimit    uint64 `json:"gas_limit,omitempty"`
}

// NumericID parses the hex chain identifier for EIP-155 signing.
func (c ChainConfig) NumericID() (*big.Int, error) {
	return ParseChainID(c.ID)
}

// ParseChainID parses a 0x-prefixed hex chain identifier.
func ParseChainID(id string) (*big.Int, error) {
	if !strings.HasPrefix(id, "0x") || len(id) < 3 {
		return nil, fmt.Errorf("chain id %q is not 0x-prefixed hex", id)
	}
	n, ok := new(big.Int).SetString(id[2:], 16)
	if !ok || n.Sign() <= 0 {
		return nil, fmt.Errorf("chain id %q is not 0x-prefixed hex", id)
	}
	return n, nil
}

// FormatChainID renders a numeric chain id the way ChainConfig.ID stores it.
func FormatChainID(n *big.Int) string {
	return "0x" + n.Text(16)
}

// GlobalConfig holds application-wide settings.
type GlobalConfig struct {
	DefaultChain          string   `json:"default_chain"`
	ConfirmTimeoutSeconds int      `json:"confirm_timeout_seconds"`
	PollIntervalSeconds   int      `json:"poll_interval_seconds"`
	IndexerURL            string   `json:"indexer_url"`
	MoralisAPIKey         string   `json:"-"`
	TokenDecimals         int      `json:"token_decimals"`
	LogLevel              string   `json:"log_level"`
	LogFile               string   `json:"log_file"`
	LogJSON               bool     `json:"log_json"`
	ListenAddr            string   `json:"listen_addr"`
	CORSOrigins           []string `json:"cors_origins"`
}

// DefaultGlobalConfig returns the settings used when no config file exists.
func DefaultGlobalConfig() GlobalConfig {
	return GlobalConfig{
		DefaultChain:          "0x1",
		ConfirmTimeoutSeconds: 600,
		PollIntervalSeconds:   4,
		IndexerURL:            "https://deep-index.moralis.io/api/v2.2",
		TokenDecimals:         4,
		LogLevel:              "info",
		ListenAddr:            "127.0.0.1:8080",
		CORSOrigins:           []string{"http://localhost:3000"},
	}
}

// DefaultChains is the built-in chain table.
func DefaultChains() []ChainConfig {
	return []ChainConfig{
		{
			ID:          "0x1",
			Name:        "Ethereum",
			RPCURL:      "https://ethereum-rpc.publicnode.com",
			Symbol:      "ETH",
			Decimals:    DefaultDecimals,
			ExplorerURL: "https://etherscan.io",
			GasLimit:    DefaultGasLimit,
		},
		{
			ID:          "0x89",
			Name:        "Polygon",
			RPCURL:      "https://polygon-bor-rpc.publicnode.com",
			Symbol:      "POL",
			Decimals:    DefaultDecimals,
			ExplorerURL: "https://polygonscan.com",
			GasLimit:    DefaultGasLimit,
		},
		{
			ID:          "0x38",
			Name:        "BNB Smart Chain",
			RPCURL:      "https://bsc-rpc.publicnode.com",
			Symbol:      "BNB",
			Decimals:    DefaultDecimals,
			ExplorerURL: "https://bscscan.com",
			LegacyFees:  true,
			GasLimit:    DefaultGasLimit,
		},
		{
			ID:          "0xaa36a7",
			Name:        "Sepolia",
			RPCURL:      "https://ethereum-sepolia-rpc.publicnode.com",
			Symbol:      "SepoliaETH",
			Decimals:    DefaultDecimals,
			ExplorerURL: "https://sepolia.etherscan.io",
			GasLimit:    DefaultGasLimit,
		},
	}
}

func GetConfigPath(customPath string) (string, error) {
	if customPath != "" {
		return customPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigFileName), nil
}

// LoadConfigFromFile reads the config at path. A missing file yields the
// built-in defaults. The file is never written back.
func LoadConfigFromFile(path string) ([]ChainConfig, GlobalConfig, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return DefaultChains(), DefaultGlobalConfig(), nil
	}
	if err != nil {
		return nil, GlobalConfig{}, err
	}
	defer func() { _ = f.Close() }()
	return LoadConfig(f)
}

func LoadConfig(r io.Reader) ([]ChainConfig, GlobalConfig, error) {
	var cfg struct {
		Chains                []ChainConfig `json:"chains"`
		DefaultChain          *string       `json:"default_chain"`
		ConfirmTimeoutSeconds *int          `json:"confirm_timeout_seconds"`
		PollIntervalSeconds   *int          `json:"poll_interval_seconds"`
		IndexerURL            *string       `json:"indexer_url"`
		TokenDecimals         *int          `json:"token_decimals"`
		LogLevel              *string       `json:"log_level"`
		LogFile               *string       `json:"log_file"`
		LogJSON               *bool         `json:"log_json"`
		ListenAddr            *string       `json:"listen_addr"`
		CORSOrigins           []string      `json:"cors_origins"`
	}
	if err := json.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, GlobalConfig{}, err
	}

	chains := cfg.Chains
	if len(chains) == 0 {
		chains = DefaultChains()
	}
	for i := range chains {
		chains[i].ID = strings.ToLower(strings.TrimSpace(chains[i].ID))
		if chains[i].Decimals == 0 {
			chains[i].Decimals = DefaultDecimals
		}
		if chains[i].GasLimit == 0 {
			chains[i].GasLimit = DefaultGasLimit
		}
	}

	globalCfg := DefaultGlobalConfig()
	if cfg.DefaultChain != nil {
		globalCfg.DefaultChain = strings.ToLower(*cfg.DefaultChain)
	}
	if cfg.ConfirmTimeoutSeconds != nil {
		globalCfg.ConfirmTimeoutSeconds = *cfg.ConfirmTimeoutSeconds
	}
	if cfg.PollIntervalSeconds != nil {
		globalCfg.PollIntervalSeconds = *cfg.PollIntervalSeconds
	}
	if cfg.IndexerURL != nil {
		globalCfg.IndexerURL = *cfg.IndexerURL
	}
	if cfg.TokenDecimals != nil {
		globalCfg.TokenDecimals = *cfg.TokenDecimals
	}
	if cfg.LogLevel != nil {
		globalCfg.LogLevel = *cfg.LogLevel
	}
	if cfg.LogFile != nil {
		globalCfg.LogFile = *cfg.LogFile
	}
	if cfg.LogJSON != nil {
		globalCfg.LogJSON = *cfg.LogJSON
	}
	if cfg.ListenAddr != nil {
		globalCfg.ListenAddr = *cfg.ListenAddr
	}
	if cfg.CORSOrigins != nil {
		globalCfg.CORSOrigins = cfg.CORSOrigins
	}

	return chains, globalCfg, nil
}

// Validate checks the loaded configuration for obvious operator mistakes.
func Validate(chains []ChainConfig, globalCfg GlobalConfig) error {
	if len(chains) == 0 {
		return fmt.Errorf("validation failed: configuration must have at least one chain")
	}
	seen := make(map[string]bool, len(chains))
	for i, c := range chains {
		if _, err := ParseChainID(c.ID); err != nil {
			return fmt.Errorf("validation failed: chain at index %d: %w", i, err)
		}
		if seen[c.ID] {
			return fmt.Errorf("validation failed: duplicate chain id %s", c.ID)
		}
		seen[c.ID] = true
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("validation failed: chain %s has no name", c.ID)
		}
		u, err := url.Parse(c.RPCURL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss") {
			return fmt.Errorf("validation failed: chain %s has malformed RPC URL %q", c.ID, c.RPCURL)
		}
		if c.Decimals <= 0 || c.Decimals > 36 {
			return fmt.Errorf("validation failed: chain %s decimals must be in [1, 36]", c.ID)
		}
	}
	if globalCfg.DefaultChain != "" && !seen[globalCfg.DefaultChain] {
		return fmt.Errorf("validation failed: default chain %s is not configured", globalCfg.DefaultChain)
	}
	if globalCfg.ConfirmTimeoutSeconds <= 0 {
		return fmt.Errorf("validation failed: confirm_timeout_seconds must be positive")
	}
	if globalCfg.PollIntervalSeconds <= 0 {
		return fmt.Errorf("validation failed: poll_interval_seconds must be positive")
	}
	return nil
}
