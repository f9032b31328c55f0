package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/multierr"
)

func validConfig() *Config {
	return &Config{
		App: AppConfig{Environment: "test"},
		Chain: ChainConfig{
			ID:                 1,
			NodeHTTPEndpoint:   "http://localhost:8545",
			WrappedNative:      "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
			Multicall:          "0xcA11bde05977b3631167028862bE2a173976CA11",
			Executor:           "0x5000000000000000000000000000000000000005",
			TransferAuthorizer: "0x6000000000000000000000000000000000000006",
			Tokens: []TokenConfig{
				{Symbol: "WETH", Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Decimals: 18},
			},
			Protocols: []ProtocolConfig{{
				Name:     "uniswap-v2",
				Enabled:  true,
				Kind:     "uniswap-v2",
				Factory:  "0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f",
				Router:   "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D",
				FeeTiers: []int64{30},
				MaxHops:  3,
			}},
		},
		Routing: RoutingConfig{
			CacheTTL:        10 * time.Minute,
			ProtocolTimeout: 5 * time.Second,
			BatchChunkSize:  50,
			MaxHops:         3,
		},
		Signing: SigningConfig{
			OrderDomainName:    "DexRelay Limit Orders",
			OrderDomainVersion: "1",
			AuthDomainName:     "DexRelay Transfer Authorization",
			AuthDomainVersion:  "1",
		},
		Execution: ExecutionConfig{
			DeadlineWindow: 10 * time.Minute,
			QuoteBufferBps: 50,
			ConfirmTimeout: 2 * time.Minute,
		},
		Relayer:  RelayerConfig{LoopInterval: 30 * time.Second},
		Database: DatabaseConfig{InMemory: true, MaxOpenConns: 1},
		Logging: LoggingConfig{
			Level:            "info",
			Encoding:         "console",
			OutputPaths:      []string{"stdout"},
			ErrorOutputPaths: []string{"stderr"},
		},
	}
}

func TestValidate_OK(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Chain.ID = 0
	cfg.Chain.WrappedNative = "not-an-address"
	cfg.Routing.MaxHops = 5
	cfg.Relayer.LoopInterval = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation failure")
	}
	if got := len(multierr.Errors(errors.Unwrap(err))); got < 4 {
		t.Errorf("expected all violations collected, got %d: %v", got, err)
	}
}

func TestValidate_ProtocolKind(t *testing.T) {
	cfg := validConfig()
	cfg.Chain.Protocols[0].Kind = "balancer"

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "kind") {
		t.Errorf("unknown protocol kind must be rejected, got %v", err)
	}
}

func TestValidate_RequiresEnabledProtocol(t *testing.T) {
	cfg := validConfig()
	cfg.Chain.Protocols[0].Enabled = false

	if err := cfg.Validate(); err == nil {
		t.Error("config without any enabled protocol must be rejected")
	}
}

func TestValidate_DomainNamesMustDiffer(t *testing.T) {
	cfg := validConfig()
	cfg.Signing.AuthDomainName = cfg.Signing.OrderDomainName

	if err := cfg.Validate(); err == nil {
		t.Error("identical order and authorization domain names must be rejected")
	}
}

func TestChainContext(t *testing.T) {
	cfg := validConfig()
	cfg.Chain.Intermediaries = []string{"0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"}

	ctx, err := cfg.ChainContext()
	if err != nil {
		t.Fatalf("ChainContext: %v", err)
	}
	if ctx.ChainID.Uint64() != 1 {
		t.Errorf("ChainID = %s, want 1", ctx.ChainID)
	}
	if _, ok := ctx.TokenBySymbol("weth"); !ok {
		t.Error("token lookup must be case-insensitive")
	}
	if _, err := ctx.Protocol("uniswap-v2"); err != nil {
		t.Errorf("enabled protocol must be registered: %v", err)
	}
	if len(ctx.Intermediaries) != 1 {
		t.Errorf("expected 1 intermediary, got %d", len(ctx.Intermediaries))
	}

	if _, err := cfg.Context(137); err == nil {
		t.Error("unconfigured chain ID must be rejected")
	}
}

func TestValidate_ReportsEveryViolation(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Level = ""
	cfg.Logging.Encoding = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation failure")
	}
	if !strings.Contains(err.Error(), "logging.level") || !strings.Contains(err.Error(), "logging.encoding") {
		t.Errorf("both logging violations must be reported: %v", err)
	}
}
