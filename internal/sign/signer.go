package sign

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"dex-relayer/internal/order"
)

var (
	// ErrSignatureMismatch 表示恢复出的签名者与挂单者不符，永不重试。
	ErrSignatureMismatch = errors.New("sign: 签名者与挂单者不符")
	// ErrMalformedSignature 表示签名字节本身不合法。
	ErrMalformedSignature = errors.New("sign: 签名格式不合法")
)

// Domains 描述两个相互独立的 EIP-712 域。
// 订单域绑定执行合约，授权域绑定划转授权合约；按 (chainID, 合约)
// 做域隔离是防跨链、跨部署重放的根基，两个域绝不能混用。
type Domains struct {
	ChainID      *big.Int
	Executor     common.Address
	TransferAuth common.Address

	OrderName    string
	OrderVersion string
	AuthName     string
	AuthVersion  string
}

// DefaultDomains 返回域的规范命名，仅 chainID 与合约地址随部署变化。
func DefaultDomains(chainID *big.Int, executor, transferAuth common.Address) Domains {
	return Domains{
		ChainID:      chainID,
		Executor:     executor,
		TransferAuth: transferAuth,
		OrderName:    "DexRelay Limit Orders",
		OrderVersion: "1",
		AuthName:     "DexRelay Transfer Authorization",
		AuthVersion:  "1",
	}
}

// 类型字段的名称、类型与顺序都参与摘要，必须与链上校验合约逐位一致。
var orderType = []apitypes.Type{
	{Name: "maker", Type: "address"},
	{Name: "tokenIn", Type: "address"},
	{Name: "tokenOut", Type: "address"},
	{Name: "amountIn", Type: "uint256"},
	{Name: "amountOutMin", Type: "uint256"},
	{Name: "maxSlippageBps", Type: "uint256"},
	{Name: "allowedRouters", Type: "address[]"},
	{Name: "expiry", Type: "uint256"},
	{Name: "nonce", Type: "uint256"},
}

var authorizationType = []apitypes.Type{
	{Name: "token", Type: "address"},
	{Name: "amount", Type: "uint256"},
	{Name: "nonce", Type: "uint256"},
	{Name: "deadline", Type: "uint256"},
	{Name: "spender", Type: "address"},
}

var domainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// OrderDigest 计算订单在订单域下的 EIP-712 摘要。
func (d Domains) OrderDigest(o *order.LimitOrder) (common.Hash, error) {
	routers := make([]interface{}, len(o.AllowedRouters))
	for i, r := range o.AllowedRouters {
		routers[i] = r.Hex()
	}

	typed := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainType,
			"LimitOrder":   orderType,
		},
		PrimaryType: "LimitOrder",
		Domain: apitypes.TypedDataDomain{
			Name:              d.OrderName,
			Version:           d.OrderVersion,
			ChainId:           (*math.HexOrDecimal256)(d.ChainID),
			VerifyingContract: d.Executor.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"maker":          o.Maker.Hex(),
			"tokenIn":        o.TokenIn.Hex(),
			"tokenOut":       o.TokenOut.Hex(),
			"amountIn":       (*math.HexOrDecimal256)(o.AmountIn),
			"amountOutMin":   (*math.HexOrDecimal256)(o.AmountOutMin),
			"maxSlippageBps": math.NewHexOrDecimal256(o.MaxSlippageBps),
			"allowedRouters": routers,
			"expiry":         math.NewHexOrDecimal256(o.Expiry),
			"nonce":          (*math.HexOrDecimal256)(o.Nonce),
		},
	}

	return digest(typed)
}

// AuthorizationDigest 计算划转授权在授权域下的 EIP-712 摘要。
func (d Domains) AuthorizationDigest(a *order.TransferAuthorization) (common.Hash, error) {
	typed := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain":          domainType,
			"TransferAuthorization": authorizationType,
		},
		PrimaryType: "TransferAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              d.AuthName,
			Version:           d.AuthVersion,
			ChainId:           (*math.HexOrDecimal256)(d.ChainID),
			VerifyingContract: d.TransferAuth.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"token":    a.Token.Hex(),
			"amount":   (*math.HexOrDecimal256)(a.Amount),
			"nonce":    (*math.HexOrDecimal256)(a.Nonce),
			"deadline": math.NewHexOrDecimal256(a.Deadline),
			"spender":  a.Spender.Hex(),
		},
	}

	return digest(typed)
}

// digest 按 EIP-712 规范拼接 \x19\x01 ++ 域分隔符 ++ 结构哈希。
func digest(typed apitypes.TypedData) (common.Hash, error) {
	domainSeparator, err := typed.HashStruct("EIP712Domain", typed.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign: 计算域分隔符失败: %w", err)
	}

	structHash, err := typed.HashStruct(typed.PrimaryType, typed.Message)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign: 计算结构哈希失败: %w", err)
	}

	raw := append([]byte{0x19, 0x01}, append(domainSeparator, structHash...)...)
	return crypto.Keccak256Hash(raw), nil
}

// KeyProvider 提供挂单者的签名私钥，由调用方注入。
type KeyProvider interface {
	Key() (*ecdsa.PrivateKey, error)
}

// StaticKey 是最简单的 KeyProvider：直接持有一把私钥。
type StaticKey struct {
	private *ecdsa.PrivateKey
}

// NewStaticKey 用十六进制私钥构建 StaticKey。
func NewStaticKey(hexKey string) (*StaticKey, error) {
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("sign: 解析私钥失败: %w", err)
	}
	return &StaticKey{private: key}, nil
}

// Key 返回持有的私钥。
func (k *StaticKey) Key() (*ecdsa.PrivateKey, error) {
	return k.private, nil
}

// Address 返回私钥对应的地址。
func (k *StaticKey) Address() common.Address {
	return crypto.PubkeyToAddress(k.private.PublicKey)
}

// Signer 产出挂单者必须提供的两份结构化数据签名。
type Signer struct {
	domains Domains
	keys    KeyProvider
}

// NewSigner 创建签名器。
func NewSigner(domains Domains, keys KeyProvider) *Signer {
	return &Signer{domains: domains, keys: keys}
}

// SignOrder 在订单域下签署订单条款。
func (s *Signer) SignOrder(o *order.LimitOrder) ([]byte, error) {
	dig, err := s.domains.OrderDigest(o)
	if err != nil {
		return nil, err
	}
	return s.signDigest(dig)
}

// SignAuthorization 在授权域下签署划转授权。
// spender 必须是执行合约地址，否则拒签。
func (s *Signer) SignAuthorization(a *order.TransferAuthorization) ([]byte, error) {
	if a.Spender != s.domains.Executor {
		return nil, fmt.Errorf("sign: 授权 spender %s 不是执行合约 %s",
			a.Spender.Hex(), s.domains.Executor.Hex())
	}
	dig, err := s.domains.AuthorizationDigest(a)
	if err != nil {
		return nil, err
	}
	return s.signDigest(dig)
}

// Sign 一次性产出签名订单：订单签名 + 划转授权签名。
func (s *Signer) Sign(o *order.LimitOrder, a *order.TransferAuthorization) (*order.SignedOrder, error) {
	orderSig, err := s.SignOrder(o)
	if err != nil {
		return nil, err
	}
	authSig, err := s.SignAuthorization(a)
	if err != nil {
		return nil, err
	}
	return &order.SignedOrder{
		Order:         *o,
		OrderSig:      orderSig,
		Authorization: *a,
		AuthSig:       authSig,
	}, nil
}

func (s *Signer) signDigest(dig common.Hash) ([]byte, error) {
	key, err := s.keys.Key()
	if err != nil {
		return nil, fmt.Errorf("sign: 获取私钥失败: %w", err)
	}

	sig, err := crypto.Sign(dig.Bytes(), key)
	if err != nil {
		return nil, fmt.Errorf("sign: 签名失败: %w", err)
	}

	// 链上校验约定 v ∈ {27,28}。
	sig[64] += 27
	return sig, nil
}

// Verifier 提供纯函数式的签名复核，不持有私钥。
type Verifier struct {
	domains Domains
}

// NewVerifier 创建校验器。
func NewVerifier(domains Domains) *Verifier {
	return &Verifier{domains: domains}
}

// VerifyOrderSignature 在订单域下恢复签名者并与挂单者比对。
func (v *Verifier) VerifyOrderSignature(o *order.LimitOrder, sig []byte) error {
	dig, err := v.domains.OrderDigest(o)
	if err != nil {
		return err
	}
	return recoverAndCompare(dig, sig, o.Maker)
}

// VerifyAuthorizationSignature 在授权域下恢复签名者并与挂单者比对。
func (v *Verifier) VerifyAuthorizationSignature(maker common.Address, a *order.TransferAuthorization, sig []byte) error {
	dig, err := v.domains.AuthorizationDigest(a)
	if err != nil {
		return err
	}
	return recoverAndCompare(dig, sig, maker)
}

func recoverAndCompare(dig common.Hash, sig []byte, expected common.Address) error {
	if len(sig) != 65 {
		return ErrMalformedSignature
	}

	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}

	pub, err := crypto.SigToPub(dig.Bytes(), normalized)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}

	if crypto.PubkeyToAddress(*pub) != expected {
		return ErrSignatureMismatch
	}
	return nil
}
