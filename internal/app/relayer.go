package app

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"dex-relayer/internal/chain"
	"dex-relayer/internal/config"
	"dex-relayer/internal/ethrpc"
	"dex-relayer/internal/executor"
	"dex-relayer/internal/multicall"
	"dex-relayer/internal/order"
	"dex-relayer/internal/route"
	"dex-relayer/internal/sign"
	"dex-relayer/internal/store"
)

// relayer 把存储里的签名订单送进发现-校验-执行管线。
type relayer struct {
	chainCtx    *chain.Context
	client      *ethrpc.Client
	coordinator *executor.Coordinator
	orders      store.OrderStore
	logger      *zap.Logger
}

func newRelayer(ctx context.Context, cfg *config.Config, logger *zap.Logger, orders store.OrderStore) (*relayer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	chainCtx, err := cfg.ChainContext()
	if err != nil {
		return nil, fmt.Errorf("构建链上下文失败: %w", err)
	}

	// 未配置中继私钥时进入只读模式，发现照常、提交会被拒绝。
	var relayerKey *ecdsa.PrivateKey
	if cfg.Signing.RelayerPrivateKey != "" {
		staticKey, err := sign.NewStaticKey(cfg.Signing.RelayerPrivateKey)
		if err != nil {
			return nil, fmt.Errorf("解析中继私钥失败: %w", err)
		}
		relayerKey, _ = staticKey.Key()
	}

	client, err := ethrpc.Dial(ctx, cfg.Chain.NodeHTTPEndpoint, relayerKey, logger)
	if err != nil {
		return nil, err
	}

	if client.ChainID().Uint64() != cfg.Chain.ID {
		client.Close()
		return nil, fmt.Errorf("节点链ID %s 与配置 %d 不符", client.ChainID(), cfg.Chain.ID)
	}

	caller := multicall.New(client, chainCtx.Contracts.Multicall, cfg.Routing.BatchChunkSize, logger)

	registry, err := buildRegistry(cfg, chainCtx)
	if err != nil {
		client.Close()
		return nil, err
	}

	optimizer := route.NewOptimizer(
		registry,
		caller,
		route.NewTTLCache(cfg.Routing.CacheTTL),
		nil, // 美元价格源由部署方注入，缺省按1计价
		client,
		chainCtx,
		route.OptimizerConfig{
			ProtocolTimeout:    cfg.Routing.ProtocolTimeout,
			MaxHops:            cfg.Routing.MaxHops,
			HopPenaltyUSD:      cfg.Routing.HopPenaltyUSD,
			LiquidityBonusUSD:  cfg.Routing.LiquidityBonus,
			ImpactThresholdBps: int64(cfg.Routing.ImpactThreshold),
		},
		logger,
	)

	domains := sign.Domains{
		ChainID:      chainCtx.ChainID,
		Executor:     chainCtx.Contracts.Executor,
		TransferAuth: chainCtx.Contracts.TransferAuth,
		OrderName:    cfg.Signing.OrderDomainName,
		OrderVersion: cfg.Signing.OrderDomainVersion,
		AuthName:     cfg.Signing.AuthDomainName,
		AuthVersion:  cfg.Signing.AuthDomainVersion,
	}

	coordinator := executor.NewCoordinator(
		sign.NewVerifier(domains),
		optimizer,
		client,
		chainCtx,
		order.NewNonceBitmap(),
		executor.Config{
			DeadlineWindow: cfg.Execution.DeadlineWindow,
			QuoteBufferBps: cfg.Execution.QuoteBufferBps,
			ConfirmTimeout: cfg.Execution.ConfirmTimeout,
		},
		logger,
	)

	return &relayer{
		chainCtx:    chainCtx,
		client:      client,
		coordinator: coordinator,
		orders:      orders,
		logger:      logger,
	}, nil
}

func buildRegistry(cfg *config.Config, chainCtx *chain.Context) (*route.Registry, error) {
	topo := route.Topology{
		Intermediaries:    chainCtx.Intermediaries,
		IntermediaryPairs: chainCtx.IntermediaryPairs,
	}

	registry := route.NewRegistry()
	for _, p := range cfg.Chain.Protocols {
		if !p.Enabled {
			continue
		}
		contracts, err := chainCtx.Protocol(p.Name)
		if err != nil {
			return nil, err
		}
		switch p.Kind {
		case "uniswap-v2":
			registry.Register(route.NewUniswapV2(p.Name, contracts, common.HexToHash(p.InitCodeHash), p.FeeTiers, topo))
		case "uniswap-v3":
			registry.Register(route.NewUniswapV3(p.Name, contracts, p.FeeTiers, topo))
		default:
			return nil, fmt.Errorf("未知协议类型 %q", p.Kind)
		}
	}
	return registry, nil
}

// Tick 对每个未关闭订单发起至多一次执行尝试。
// 单个订单失败只记录日志，不影响同一轮的其他订单。
func (r *relayer) Tick(ctx context.Context) error {
	open, err := r.orders.OpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("读取未关闭订单失败: %w", err)
	}

	now := time.Now().Unix()
	for _, stored := range open {
		if stored.Signed.Order.Expiry <= now {
			if err := r.orders.MarkClosed(ctx, stored.ID); err != nil {
				r.logger.Warn("关闭过期订单失败", zap.String("order", stored.ID.Hex()), zap.Error(err))
			}
			continue
		}

		remaining, err := r.orders.RemainingAmount(ctx, stored.ID)
		if err != nil {
			r.logger.Warn("查询未成交余量失败", zap.String("order", stored.ID.Hex()), zap.Error(err))
			continue
		}
		if remaining.Sign() <= 0 {
			if err := r.orders.MarkClosed(ctx, stored.ID); err != nil {
				r.logger.Warn("关闭已成交订单失败", zap.String("order", stored.ID.Hex()), zap.Error(err))
			}
			continue
		}

		r.attempt(ctx, stored, remaining)
	}
	return nil
}

func (r *relayer) attempt(ctx context.Context, stored store.StoredOrder, remaining *big.Int) {
	result, err := r.coordinator.Execute(ctx, stored.Signed, remaining)
	switch {
	case err == nil:
	case errors.Is(err, route.ErrNoRoute):
		r.logger.Debug("暂无可行路径，等待下一轮",
			zap.String("order", stored.ID.Hex()),
		)
		return
	case errors.Is(err, executor.ErrNonceUsed):
		if closeErr := r.orders.MarkClosed(ctx, stored.ID); closeErr != nil {
			r.logger.Warn("关闭订单失败", zap.String("order", stored.ID.Hex()), zap.Error(closeErr))
		}
		return
	case ethrpc.IsRetryable(err):
		r.logger.Debug("传输层瞬时错误，等待下一轮重试",
			zap.String("order", stored.ID.Hex()),
			zap.Error(err),
		)
		return
	default:
		r.logger.Warn("订单执行尝试失败",
			zap.String("order", stored.ID.Hex()),
			zap.Error(err),
		)
		return
	}

	if err := r.orders.RecordFill(ctx, stored.ID, result.Params.AmountIn, result.Params.AmountOutMin, result.TxHash); err != nil {
		r.logger.Error("记录成交失败", zap.String("order", stored.ID.Hex()), zap.Error(err))
		return
	}

	if result.Params.AmountIn.Cmp(remaining) >= 0 {
		if err := r.orders.MarkClosed(ctx, stored.ID); err != nil {
			r.logger.Warn("关闭已成交订单失败", zap.String("order", stored.ID.Hex()), zap.Error(err))
		}
	}
}

// Close 释放节点连接。
func (r *relayer) Close() {
	r.client.Close()
}
