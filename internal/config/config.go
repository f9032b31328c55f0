package config

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"dex-relayer/internal/chain"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "dexrelay"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ChainContext 由链配置构建只读链上下文。
func (c *Config) ChainContext() (*chain.Context, error) {
	protocols := make(map[string]chain.ProtocolContracts, len(c.Chain.Protocols))
	for _, p := range c.Chain.Protocols {
		if !p.Enabled {
			continue
		}
		protocols[p.Name] = chain.ProtocolContracts{
			Factory: common.HexToAddress(p.Factory),
			Router:  common.HexToAddress(p.Router),
			Quoter:  common.HexToAddress(p.Quoter),
		}
	}

	tokens := make([]chain.Token, 0, len(c.Chain.Tokens))
	for _, t := range c.Chain.Tokens {
		tokens = append(tokens, chain.Token{
			Symbol:   t.Symbol,
			Address:  common.HexToAddress(t.Address),
			Decimals: t.Decimals,
		})
	}

	ctx := chain.NewContext(
		new(big.Int).SetUint64(c.Chain.ID),
		common.HexToAddress(c.Chain.WrappedNative),
		tokens,
		chain.Contracts{
			Multicall:    common.HexToAddress(c.Chain.Multicall),
			Executor:     common.HexToAddress(c.Chain.Executor),
			TransferAuth: common.HexToAddress(c.Chain.TransferAuthorizer),
			Protocols:    protocols,
		},
	)

	for _, addr := range c.Chain.Intermediaries {
		ctx.Intermediaries = append(ctx.Intermediaries, common.HexToAddress(addr))
	}
	for _, p := range c.Chain.IntermediaryPairs {
		ctx.IntermediaryPairs = append(ctx.IntermediaryPairs, [2]common.Address{
			common.HexToAddress(p.A),
			common.HexToAddress(p.B),
		})
	}

	return ctx, nil
}

// Context 实现 chain.Provider，仅支持配置中声明的那条链。
func (c *Config) Context(chainID uint64) (*chain.Context, error) {
	if chainID != c.Chain.ID {
		return nil, fmt.Errorf("config: 未配置链 %d", chainID)
	}
	return c.ChainContext()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("routing.cache_ttl", "10m")
	v.SetDefault("routing.protocol_timeout", "5s")
	v.SetDefault("routing.batch_chunk_size", 50)
	v.SetDefault("routing.max_hops", 3)
	v.SetDefault("routing.hop_penalty_usd", 0.5)
	v.SetDefault("routing.liquidity_bonus_usd", 1.0)
	v.SetDefault("routing.impact_threshold_bps", 100)

	v.SetDefault("signing.order_domain_name", "DexRelay Limit Orders")
	v.SetDefault("signing.order_domain_version", "1")
	v.SetDefault("signing.auth_domain_name", "DexRelay Transfer Authorization")
	v.SetDefault("signing.auth_domain_version", "1")

	v.SetDefault("execution.deadline_window", "10m")
	v.SetDefault("execution.quote_buffer_bps", 50)
	v.SetDefault("execution.confirm_timeout", "2m")

	v.SetDefault("relayer.loop_interval", "30s")

	v.SetDefault("database.path", "data/dex_relayer.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
