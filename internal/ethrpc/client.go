package ethrpc

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// CallTransport 抽象只读合约调用，核心代码不直接持有网络连接。
type CallTransport interface {
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// GasPricer 提供当前建议的 gas 价格。
type GasPricer interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// Broadcaster 负责交易广播与确认等待。
type Broadcaster interface {
	SubmitCall(ctx context.Context, to common.Address, data []byte) (common.Hash, error)
	WaitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Client 基于 ethclient 实现 CallTransport、GasPricer 与 Broadcaster。
type Client struct {
	eth     *ethclient.Client
	chainID *big.Int
	key     *ecdsa.PrivateKey
	logger  *zap.Logger
}

// Dial 建立到节点的 HTTP 连接。私钥可为 nil，此时仅支持只读调用。
func Dial(ctx context.Context, endpoint string, key *ecdsa.PrivateKey, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	eth, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("ethrpc: 连接节点失败: %w", err)
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("ethrpc: 获取链ID失败: %w", err)
	}

	return &Client{eth: eth, chainID: chainID, key: key, logger: logger}, nil
}

// ChainID 返回节点报告的链 ID。
func (c *Client) ChainID() *big.Int {
	return c.chainID
}

// CallContract 发起一次 eth_call。
func (c *Client) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	msg := ethereum.CallMsg{To: &to, Data: data}
	out, err := c.eth.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("ethrpc: eth_call 失败: %w", err)
	}
	return out, nil
}

// SuggestGasPrice 返回节点建议的 gas 价格。
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	price, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("ethrpc: 获取 gas 价格失败: %w", err)
	}
	return price, nil
}

// SubmitCall 用中继私钥签名并广播一笔调用交易，单次尝试不重试。
func (c *Client) SubmitCall(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	if c.key == nil {
		return common.Hash{}, errors.New("ethrpc: 未配置中继私钥，无法广播交易")
	}

	from := crypto.PubkeyToAddress(c.key.PublicKey)

	nonce, err := c.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("ethrpc: 获取 nonce 失败: %w", err)
	}

	gasLimit, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
	if err != nil {
		return common.Hash{}, fmt.Errorf("ethrpc: 预估 gas 失败: %w", err)
	}

	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("ethrpc: 获取 gas 价格失败: %w", err)
	}

	tx := types.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, data)

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("ethrpc: 签名交易失败: %w", err)
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("ethrpc: 广播交易失败: %w", err)
	}

	c.logger.Info("交易已广播",
		zap.String("tx", signed.Hash().Hex()),
		zap.String("to", to.Hex()),
		zap.Uint64("gas_limit", gasLimit),
	)

	return signed.Hash(), nil
}

// WaitMined 轮询等待交易上链并返回回执。
func (c *Client) WaitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("ethrpc: 查询回执失败: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close 关闭底层连接。
func (c *Client) Close() {
	c.eth.Close()
}
