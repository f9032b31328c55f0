package route

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"dex-relayer/internal/chain"
	"dex-relayer/internal/ethrpc"
	"dex-relayer/internal/multicall"
)

// PriceSource 提供代币的美元参考价，由调用方注入（HTTP 客户端不在核心内）。
type PriceSource interface {
	USDPrice(ctx context.Context, token common.Address) (float64, error)
}

// OptimizerConfig 控制发现与评分行为。
type OptimizerConfig struct {
	ProtocolTimeout    time.Duration
	MaxHops            int
	HopPenaltyUSD      float64
	LiquidityBonusUSD  float64
	ImpactThresholdBps int64
}

// Optimizer 组合路径生成与批量调用，对候选路径评分并缓存赢家。
type Optimizer struct {
	registry *Registry
	caller   *multicall.Caller
	cache    Cache
	prices   PriceSource
	gas      ethrpc.GasPricer
	chainCtx *chain.Context
	cfg      OptimizerConfig
	logger   *zap.Logger
}

// NewOptimizer 创建路由优化器。缓存实例由外部注入，不存在环境级状态。
func NewOptimizer(
	registry *Registry,
	caller *multicall.Caller,
	cache Cache,
	prices PriceSource,
	gas ethrpc.GasPricer,
	chainCtx *chain.Context,
	cfg OptimizerConfig,
	logger *zap.Logger,
) *Optimizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ProtocolTimeout <= 0 {
		cfg.ProtocolTimeout = 5 * time.Second
	}
	if cfg.MaxHops <= 0 {
		cfg.MaxHops = 3
	}
	return &Optimizer{
		registry: registry,
		caller:   caller,
		cache:    cache,
		prices:   prices,
		gas:      gas,
		chainCtx: chainCtx,
		cfg:      cfg,
		logger:   logger,
	}
}

// BestRoute 返回当前最优路径。
// 缓存命中直接返回；未命中时对每个协议并发发现，超时的协议按
// 零候选处理；所有协议都无候选时返回 ErrNoRoute。
func (o *Optimizer) BestRoute(ctx context.Context, tokenIn common.Address, amountIn *big.Int, tokenOut common.Address) (*Route, error) {
	tokenIn = o.chainCtx.Normalize(tokenIn)
	tokenOut = o.chainCtx.Normalize(tokenOut)
	if tokenIn == tokenOut {
		return nil, fmt.Errorf("route: tokenIn 与 tokenOut 相同")
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, fmt.Errorf("route: amountIn 必须为正")
	}

	key := QueryKey(tokenIn, amountIn, tokenOut, o.registry.Scope())
	if cached, ok := o.cache.Get(key); ok {
		o.logger.Debug("路由缓存命中", zap.String("key", key))
		return cached, nil
	}

	candidates := o.discover(ctx, tokenIn, amountIn, tokenOut)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: %s -> %s", ErrNoRoute, tokenIn.Hex(), tokenOut.Hex())
	}

	best := o.rank(ctx, candidates, amountIn, tokenOut)

	// 并发的重复查询各自写入即可，后写为准，不需要额外协调。
	o.cache.Set(key, best)

	o.logger.Info("选出最优路径",
		zap.String("protocol", best.Protocol),
		zap.Int("hops", best.Hops()),
		zap.String("amount_out", best.AmountOut.String()),
		zap.Float64("score", best.Score),
		zap.Int("candidates", len(candidates)),
	)
	return best, nil
}

// discover 对每个协议并发执行一轮批量发现。
// 单个协议失败或超时只损失该协议的候选，不影响整个查询。
func (o *Optimizer) discover(ctx context.Context, tokenIn common.Address, amountIn *big.Int, tokenOut common.Address) []*Route {
	var (
		mu         sync.Mutex
		candidates []*Route
		wg         sync.WaitGroup
	)

	for _, protocol := range o.registry.All() {
		wg.Add(1)
		go func(p Protocol) {
			defer wg.Done()

			protoCtx, cancel := context.WithTimeout(ctx, o.cfg.ProtocolTimeout)
			defer cancel()

			routes := p.GenerateRoutes(tokenIn, tokenOut, o.cfg.MaxHops)
			if len(routes) == 0 {
				return
			}

			reqs := p.BuildBatchRequests(routes, amountIn)
			results, err := o.caller.Execute(protoCtx, reqs)
			if err != nil {
				o.logger.Warn("协议发现失败，按零候选处理",
					zap.String("protocol", p.Name()),
					zap.Error(err),
				)
				return
			}

			viable := p.DecodeBatchResults(routes, results)
			mu.Lock()
			candidates = append(candidates, viable...)
			mu.Unlock()
		}(protocol)
	}

	wg.Wait()
	return candidates
}

// rank 为候选路径评分并返回最高分者；平分先比跳数再比 gas。
func (o *Optimizer) rank(ctx context.Context, candidates []*Route, amountIn *big.Int, tokenOut common.Address) *Route {
	outPrice := o.usdPrice(ctx, tokenOut)
	nativePrice := o.usdPrice(ctx, o.chainCtx.WrappedNative)
	gasPrice := o.gasPrice(ctx)

	outDecimals := uint8(18)
	if token, ok := o.chainCtx.TokenByAddress(tokenOut); ok {
		outDecimals = token.Decimals
	}

	var best *Route
	for _, r := range candidates {
		r.Score = o.score(r, amountIn, outPrice, nativePrice, gasPrice, outDecimals)
		if best == nil || betterThan(r, best) {
			best = r
		}
	}
	return best
}

// score = 产出价值 − gas 成本 − 跳数惩罚 + 流动性加分 − 价格冲击惩罚。
func (o *Optimizer) score(r *Route, amountIn *big.Int, outPrice, nativePrice float64, gasPrice *big.Int, outDecimals uint8) float64 {
	outUSD := amountToFloat(r.AmountOut, outDecimals) * outPrice

	gasUSD := 0.0
	if gasPrice != nil {
		gasWei := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(r.GasEstimate))
		gasUSD = amountToFloat(gasWei, 18) * nativePrice
	}

	hopPenalty := o.cfg.HopPenaltyUSD * float64(r.Hops()-1)

	impactBps := priceImpactBps(r, amountIn)
	impactPenalty := outUSD * float64(impactBps) / 10000

	bonus := 0.0
	if impactBps <= o.cfg.ImpactThresholdBps && (r.Liquidity != nil || r.RefAmountOut != nil) {
		bonus = o.cfg.LiquidityBonusUSD
	}

	return outUSD - gasUSD - hopPenalty + bonus - impactPenalty
}

// priceImpactBps 比较小额参考报价与整额报价的单位兑换率缺口。
func priceImpactBps(r *Route, amountIn *big.Int) int64 {
	if r.RefAmountOut == nil || r.RefAmountOut.Sign() <= 0 || r.AmountOut == nil {
		return 0
	}
	ref := refAmount(amountIn)
	if ref.Sign() <= 0 {
		return 0
	}

	// rateRef = refOut/refIn, rateFull = out/in；缺口 = 1 − rateFull/rateRef。
	num := new(big.Int).Mul(r.AmountOut, ref)
	den := new(big.Int).Mul(r.RefAmountOut, amountIn)
	if den.Sign() <= 0 {
		return 0
	}
	ratio := new(big.Int).Mul(num, big.NewInt(10000))
	ratio.Div(ratio, den)
	impact := 10000 - ratio.Int64()
	if impact < 0 {
		return 0
	}
	return impact
}

func betterThan(a, b *Route) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Hops() != b.Hops() {
		return a.Hops() < b.Hops()
	}
	return a.GasEstimate < b.GasEstimate
}

func (o *Optimizer) usdPrice(ctx context.Context, token common.Address) float64 {
	if o.prices == nil {
		return 1
	}
	price, err := o.prices.USDPrice(ctx, token)
	if err != nil || price <= 0 {
		o.logger.Warn("获取美元价格失败，按1计", zap.String("token", token.Hex()), zap.Error(err))
		return 1
	}
	return price
}

func (o *Optimizer) gasPrice(ctx context.Context) *big.Int {
	if o.gas == nil {
		return nil
	}
	price, err := o.gas.SuggestGasPrice(ctx)
	if err != nil {
		o.logger.Warn("获取 gas 价格失败，评分忽略 gas 成本", zap.Error(err))
		return nil
	}
	return price
}

func amountToFloat(amount *big.Int, decimals uint8) float64 {
	if amount == nil {
		return 0
	}
	f := new(big.Float).SetInt(amount)
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	out, _ := new(big.Float).Quo(f, scale).Float64()
	return out
}
