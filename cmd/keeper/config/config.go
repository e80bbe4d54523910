package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/scalexfi/lending-keeper-go/keeper"
)

const (
	DefaultRouterKey        = "ScaleXRouter"
	DefaultGasLimit         = 2_000_000
	DefaultTxTimeoutSeconds = 60
)

var hundred = decimal.NewFromInt(100)

// AssetTarget is one configured pool target. The utilization is kept
// as a string in YAML and parsed into an exact decimal, never a float.
type AssetTarget struct {
	Symbol               string `yaml:"symbol"`
	TargetUtilizationPct string `yaml:"target_utilization_pct"`
	Decimals             int32  `yaml:"decimals"`
	Status               string `yaml:"status"`
}

// KeeperConfig is the full run configuration.
type KeeperConfig struct {
	RPCURL           string        `yaml:"rpc_url"`
	ChainID          int64         `yaml:"chain_id"`
	DeploymentsPath  string        `yaml:"deployments_path"`
	LendingManager   string        `yaml:"lending_manager"`
	RouterKey        string        `yaml:"router_key"`
	GasLimit         uint64        `yaml:"gas_limit"`
	TxTimeoutSeconds int           `yaml:"tx_timeout_seconds"`
	DashboardURL     string        `yaml:"dashboard_url"`
	Workers          int           `yaml:"workers"`
	Targets          []AssetTarget `yaml:"targets"`
}

// LoadConfig reads a configuration file from the given path,
// unmarshals it, applies defaults, and validates it. Any error here
// is fatal to the run: no asset may be touched on a bad config.
func LoadConfig(path string) (*KeeperConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg KeeperConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *KeeperConfig) applyDefaults() {
	if c.RouterKey == "" {
		c.RouterKey = DefaultRouterKey
	}
	if c.GasLimit == 0 {
		c.GasLimit = DefaultGasLimit
	}
	if c.TxTimeoutSeconds == 0 {
		c.TxTimeoutSeconds = DefaultTxTimeoutSeconds
	}
}

// validate checks if the configuration is valid.
func (c *KeeperConfig) validate() error {
	if c.RPCURL == "" {
		return errors.New("config: rpc_url is required")
	}
	if c.ChainID <= 0 {
		return errors.New("config: chain_id is required")
	}
	if c.DeploymentsPath == "" {
		return errors.New("config: deployments_path is required")
	}
	if !common.IsHexAddress(c.LendingManager) {
		return fmt.Errorf("config: lending_manager is not a hex address: %q", c.LendingManager)
	}
	if c.TxTimeoutSeconds < 0 {
		return errors.New("config: tx_timeout_seconds must not be negative")
	}
	if len(c.Targets) == 0 {
		return errors.New("config: at least one target is required")
	}
	if _, err := c.KeeperTargets(); err != nil {
		return err
	}
	return nil
}

// KeeperTargets converts the raw YAML targets into validated keeper
// targets in configured order.
func (c *KeeperConfig) KeeperTargets() ([]keeper.AssetTarget, error) {
	targets := make([]keeper.AssetTarget, 0, len(c.Targets))
	for i, t := range c.Targets {
		if t.Symbol == "" {
			return nil, fmt.Errorf("config: targets[%d]: symbol is required", i)
		}
		pct, err := decimal.NewFromString(t.TargetUtilizationPct)
		if err != nil {
			return nil, fmt.Errorf("config: targets[%d] %s: target_utilization_pct: %w", i, t.Symbol, err)
		}
		if pct.IsNegative() || pct.GreaterThan(hundred) {
			return nil, fmt.Errorf("config: targets[%d] %s: target_utilization_pct must be within [0, 100]", i, t.Symbol)
		}
		if t.Decimals < 0 {
			return nil, fmt.Errorf("config: targets[%d] %s: decimals must be non-negative", i, t.Symbol)
		}

		status := keeper.TargetPending
		switch t.Status {
		case "", string(keeper.TargetPending):
		case string(keeper.TargetAchieved):
			status = keeper.TargetAchieved
		default:
			return nil, fmt.Errorf("config: targets[%d] %s: unknown status %q", i, t.Symbol, t.Status)
		}

		targets = append(targets, keeper.AssetTarget{
			Symbol:    t.Symbol,
			TargetPct: pct,
			Decimals:  t.Decimals,
			Status:    status,
		})
	}
	return targets, nil
}

// ManagerAddress returns the LendingManager entry point.
func (c *KeeperConfig) ManagerAddress() common.Address {
	return common.HexToAddress(c.LendingManager)
}

// TxTimeout returns the per-transaction deadline.
func (c *KeeperConfig) TxTimeout() time.Duration {
	return time.Duration(c.TxTimeoutSeconds) * time.Second
}
