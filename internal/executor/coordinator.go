package executor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"dex-relayer/internal/chain"
	"dex-relayer/internal/ethrpc"
	"dex-relayer/internal/order"
	"dex-relayer/internal/route"
)

// ErrExecutionReverted 表示链上调用在提交后失败，按原样上抛、不自动重试。
var ErrExecutionReverted = errors.New("executor: 链上执行回滚")

// ErrNonceUsed 表示划转授权 nonce 已被消费，订单不可再执行。
var ErrNonceUsed = errors.New("executor: 划转授权 nonce 已被消费")

// RouteFinder 是协调器消费的路由查询界面。
type RouteFinder interface {
	BestRoute(ctx context.Context, tokenIn common.Address, amountIn *big.Int, tokenOut common.Address) (*route.Route, error)
}

// Config 控制执行计划的构建参数。
type Config struct {
	// DeadlineWindow 是执行期限距当前时刻的窗口，受订单过期时间封顶。
	DeadlineWindow time.Duration
	// QuoteBufferBps 是在报价之下预留的滑点缓冲。
	QuoteBufferBps int64
	// ConfirmTimeout 是等待交易确认的上限。
	ConfirmTimeout time.Duration
}

// Result 记录一次执行尝试的产物。
type Result struct {
	Route   *route.Route
	Params  *order.ExecutionParams
	TxHash  common.Hash
	Receipt *types.Receipt
}

// Coordinator 驱动签名订单的完整执行流程：
// 有效性闸门 → 路由查询 → 执行计划 → 执行校验 → 上链提交 → 等待确认。
// 任何一道校验失败都会在提交之前中止。
type Coordinator struct {
	verifier    order.SignatureVerifier
	routes      RouteFinder
	broadcaster ethrpc.Broadcaster
	chainCtx    *chain.Context
	nonces      *order.NonceBitmap
	cfg         Config
	logger      *zap.Logger
}

// NewCoordinator 创建执行协调器。
func NewCoordinator(
	verifier order.SignatureVerifier,
	routes RouteFinder,
	broadcaster ethrpc.Broadcaster,
	chainCtx *chain.Context,
	nonces *order.NonceBitmap,
	cfg Config,
	logger *zap.Logger,
) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DeadlineWindow <= 0 {
		cfg.DeadlineWindow = 10 * time.Minute
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 2 * time.Minute
	}
	return &Coordinator{
		verifier:    verifier,
		routes:      routes,
		broadcaster: broadcaster,
		chainCtx:    chainCtx,
		nonces:      nonces,
		cfg:         cfg,
		logger:      logger,
	}
}

// Execute 对签名订单发起一次执行尝试。remaining 是未成交余量，
// 为 nil 时按整单处理。提交失败不重试，由调用方决定是否重来。
func (c *Coordinator) Execute(ctx context.Context, so *order.SignedOrder, remaining *big.Int) (*Result, error) {
	now := time.Now()

	valid := order.ValidateSigned(so, c.verifier, now)
	c.logWarnings(valid.Warnings)
	if !valid.Valid {
		return nil, fmt.Errorf("%w: %s", order.ErrStructural, strings.Join(valid.Errors, "; "))
	}

	if c.nonces.IsUsed(so.Authorization.Nonce) {
		return nil, ErrNonceUsed
	}

	if remaining == nil || remaining.Cmp(so.Order.AmountIn) > 0 {
		remaining = so.Order.AmountIn
	}
	if remaining.Sign() <= 0 {
		return nil, fmt.Errorf("%w: 订单没有未成交余量", order.ErrConstraint)
	}

	best, err := c.routes.BestRoute(ctx, so.Order.TokenIn, remaining, so.Order.TokenOut)
	if err != nil {
		return nil, err
	}

	params, err := c.buildParams(&so.Order, best, remaining, now)
	if err != nil {
		return nil, err
	}

	execValid := order.ValidateExecution(&so.Order, params, now)
	c.logWarnings(execValid.Warnings)
	if !execValid.Valid {
		return nil, fmt.Errorf("%w: %s", order.ErrConstraint, strings.Join(execValid.Errors, "; "))
	}

	callData, err := packExecuteOrder(so, params)
	if err != nil {
		return nil, fmt.Errorf("executor: 编码执行调用失败: %w", err)
	}

	txHash, err := c.broadcaster.SubmitCall(ctx, c.chainCtx.Contracts.Executor, callData)
	if err != nil {
		return nil, fmt.Errorf("executor: 提交执行交易失败: %w", err)
	}

	confirmCtx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
	defer cancel()

	receipt, err := c.broadcaster.WaitMined(confirmCtx, txHash)
	if err != nil {
		return nil, fmt.Errorf("executor: 等待确认失败: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: tx=%s", ErrExecutionReverted, txHash.Hex())
	}

	c.nonces.MarkUsed(so.Authorization.Nonce)

	c.logger.Info("订单执行已确认",
		zap.String("maker", so.Order.Maker.Hex()),
		zap.String("tx", txHash.Hex()),
		zap.String("protocol", best.Protocol),
		zap.String("amount_in", params.AmountIn.String()),
		zap.String("amount_out_min", params.AmountOutMin.String()),
	)

	return &Result{Route: best, Params: params, TxHash: txHash, Receipt: receipt}, nil
}

// buildParams 把最优路径落成一份执行计划。
// amountOutMin 取按比例下限与(报价−缓冲)的较大者；
// 期限取 now+窗口 与订单过期时间的较小者。
func (c *Coordinator) buildParams(o *order.LimitOrder, r *route.Route, remaining *big.Int, now time.Time) (*order.ExecutionParams, error) {
	protocol, err := c.chainCtx.Protocol(r.Protocol)
	if err != nil {
		return nil, err
	}

	amountIn := new(big.Int).Set(remaining)
	if amountIn.Cmp(o.AmountIn) > 0 {
		amountIn.Set(o.AmountIn)
	}

	floor := order.ProportionalFloor(o, amountIn)

	buffered := new(big.Int).Mul(r.AmountOut, big.NewInt(10000-c.cfg.QuoteBufferBps))
	buffered.Div(buffered, big.NewInt(10000))
	if buffered.Cmp(floor) > 0 {
		floor = buffered
	}

	deadline := now.Add(c.cfg.DeadlineWindow).Unix()
	if deadline > o.Expiry {
		deadline = o.Expiry
	}

	return &order.ExecutionParams{
		Router:       protocol.Router,
		Path:         r.Path,
		Fees:         r.Fees,
		AmountIn:     amountIn,
		AmountOutMin: floor,
		Deadline:     deadline,
	}, nil
}

func (c *Coordinator) logWarnings(warnings []string) {
	for _, w := range warnings {
		c.logger.Warn("订单校验告警", zap.String("warning", w))
	}
}
