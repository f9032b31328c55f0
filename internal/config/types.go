package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/multierr"
)

// Config 聚合了中继系统运行所需的全部配置项。
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Routing   RoutingConfig   `mapstructure:"routing"`
	Signing   SigningConfig   `mapstructure:"signing"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Relayer   RelayerConfig   `mapstructure:"relayer"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// TokenConfig 描述一个代币注册项。
type TokenConfig struct {
	Symbol   string `mapstructure:"symbol"`
	Address  string `mapstructure:"address"`
	Decimals uint8  `mapstructure:"decimals"`
}

// ProtocolConfig 描述单个 AMM 协议的接入参数。
type ProtocolConfig struct {
	Name         string  `mapstructure:"name"`
	Enabled      bool    `mapstructure:"enabled"`
	Kind         string  `mapstructure:"kind"`
	Factory      string  `mapstructure:"factory"`
	Router       string  `mapstructure:"router"`
	Quoter       string  `mapstructure:"quoter"`
	InitCodeHash string  `mapstructure:"init_code_hash"`
	FeeTiers     []int64 `mapstructure:"fee_tiers"`
	MaxHops      int     `mapstructure:"max_hops"`
}

// IntermediaryPairConfig 描述一对允许同时出现的中间代币。
type IntermediaryPairConfig struct {
	A string `mapstructure:"a"`
	B string `mapstructure:"b"`
}

// ChainConfig 描述目标链及其地址注册表。
type ChainConfig struct {
	ID                 uint64                   `mapstructure:"id"`
	NodeHTTPEndpoint   string                   `mapstructure:"node_http_endpoint"`
	WrappedNative      string                   `mapstructure:"wrapped_native"`
	Multicall          string                   `mapstructure:"multicall"`
	Executor           string                   `mapstructure:"executor"`
	TransferAuthorizer string                   `mapstructure:"transfer_authorizer"`
	Tokens             []TokenConfig            `mapstructure:"tokens"`
	Intermediaries     []string                 `mapstructure:"intermediaries"`
	IntermediaryPairs  []IntermediaryPairConfig `mapstructure:"intermediary_pairs"`
	Protocols          []ProtocolConfig         `mapstructure:"protocols"`
}

// RoutingConfig 控制路径发现与评分。
type RoutingConfig struct {
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	ProtocolTimeout time.Duration `mapstructure:"protocol_timeout"`
	BatchChunkSize  int           `mapstructure:"batch_chunk_size"`
	MaxHops         int           `mapstructure:"max_hops"`
	HopPenaltyUSD   float64       `mapstructure:"hop_penalty_usd"`
	LiquidityBonus  float64       `mapstructure:"liquidity_bonus_usd"`
	ImpactThreshold int           `mapstructure:"impact_threshold_bps"`
}

// SigningConfig 控制 EIP-712 域参数与中继私钥。
type SigningConfig struct {
	OrderDomainName    string `mapstructure:"order_domain_name"`
	OrderDomainVersion string `mapstructure:"order_domain_version"`
	AuthDomainName     string `mapstructure:"auth_domain_name"`
	AuthDomainVersion  string `mapstructure:"auth_domain_version"`
	RelayerPrivateKey  string `mapstructure:"relayer_private_key"`
}

// ExecutionConfig 控制执行计划的构建。
type ExecutionConfig struct {
	DeadlineWindow time.Duration `mapstructure:"deadline_window"`
	QuoteBufferBps int64         `mapstructure:"quote_buffer_bps"`
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"`
}

// RelayerConfig 控制中继主循环节奏。
type RelayerConfig struct {
	LoopInterval time.Duration `mapstructure:"loop_interval"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Chain.ID == 0 {
		err = multierr.Append(err, errors.New("chain.id 不能为0"))
	}
	if c.Chain.NodeHTTPEndpoint == "" {
		err = multierr.Append(err, errors.New("chain.node_http_endpoint 不能为空"))
	}
	if !common.IsHexAddress(c.Chain.WrappedNative) {
		err = multierr.Append(err, errors.New("chain.wrapped_native 不是合法地址"))
	}
	if !common.IsHexAddress(c.Chain.Multicall) {
		err = multierr.Append(err, errors.New("chain.multicall 不是合法地址"))
	}
	if !common.IsHexAddress(c.Chain.Executor) {
		err = multierr.Append(err, errors.New("chain.executor 不是合法地址"))
	}
	if !common.IsHexAddress(c.Chain.TransferAuthorizer) {
		err = multierr.Append(err, errors.New("chain.transfer_authorizer 不是合法地址"))
	}
	for i, t := range c.Chain.Tokens {
		if t.Symbol == "" {
			err = multierr.Append(err, fmt.Errorf("chain.tokens[%d].symbol 不能为空", i))
		}
		if !common.IsHexAddress(t.Address) {
			err = multierr.Append(err, fmt.Errorf("chain.tokens[%d].address 不是合法地址", i))
		}
	}
	for i, addr := range c.Chain.Intermediaries {
		if !common.IsHexAddress(addr) {
			err = multierr.Append(err, fmt.Errorf("chain.intermediaries[%d] 不是合法地址", i))
		}
	}
	for i, p := range c.Chain.IntermediaryPairs {
		if !common.IsHexAddress(p.A) || !common.IsHexAddress(p.B) {
			err = multierr.Append(err, fmt.Errorf("chain.intermediary_pairs[%d] 包含非法地址", i))
		}
	}
	enabled := 0
	for i, p := range c.Chain.Protocols {
		if p.Name == "" {
			err = multierr.Append(err, fmt.Errorf("chain.protocols[%d].name 不能为空", i))
		}
		if p.Kind != "uniswap-v2" && p.Kind != "uniswap-v3" {
			err = multierr.Append(err, fmt.Errorf("chain.protocols[%d].kind 必须是 uniswap-v2 或 uniswap-v3", i))
		}
		if !common.IsHexAddress(p.Factory) {
			err = multierr.Append(err, fmt.Errorf("chain.protocols[%d].factory 不是合法地址", i))
		}
		if !common.IsHexAddress(p.Router) {
			err = multierr.Append(err, fmt.Errorf("chain.protocols[%d].router 不是合法地址", i))
		}
		if len(p.FeeTiers) == 0 {
			err = multierr.Append(err, fmt.Errorf("chain.protocols[%d].fee_tiers 至少包含一个档位", i))
		}
		if p.MaxHops < 1 || p.MaxHops > 3 {
			err = multierr.Append(err, fmt.Errorf("chain.protocols[%d].max_hops 必须位于[1,3]", i))
		}
		if p.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		err = multierr.Append(err, errors.New("chain.protocols 至少启用一个协议"))
	}
	if c.Routing.CacheTTL <= 0 {
		err = multierr.Append(err, errors.New("routing.cache_ttl 必须大于0"))
	}
	if c.Routing.ProtocolTimeout <= 0 {
		err = multierr.Append(err, errors.New("routing.protocol_timeout 必须大于0"))
	}
	if c.Routing.BatchChunkSize <= 0 {
		err = multierr.Append(err, errors.New("routing.batch_chunk_size 必须大于0"))
	}
	if c.Routing.MaxHops < 1 || c.Routing.MaxHops > 3 {
		err = multierr.Append(err, errors.New("routing.max_hops 必须位于[1,3]"))
	}
	if c.Signing.OrderDomainName == "" || c.Signing.OrderDomainVersion == "" {
		err = multierr.Append(err, errors.New("signing.order_domain_name/version 不能为空"))
	}
	if c.Signing.AuthDomainName == "" || c.Signing.AuthDomainVersion == "" {
		err = multierr.Append(err, errors.New("signing.auth_domain_name/version 不能为空"))
	}
	if c.Signing.OrderDomainName == c.Signing.AuthDomainName {
		err = multierr.Append(err, errors.New("signing 两个域的 name 不能相同"))
	}
	if c.Execution.DeadlineWindow <= 0 {
		err = multierr.Append(err, errors.New("execution.deadline_window 必须大于0"))
	}
	if c.Execution.QuoteBufferBps < 0 || c.Execution.QuoteBufferBps > 10000 {
		err = multierr.Append(err, errors.New("execution.quote_buffer_bps 必须位于[0,10000]"))
	}
	if c.Execution.ConfirmTimeout <= 0 {
		err = multierr.Append(err, errors.New("execution.confirm_timeout 必须大于0"))
	}
	if c.Relayer.LoopInterval <= 0 {
		err = multierr.Append(err, errors.New("relayer.loop_interval 必须大于0"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
