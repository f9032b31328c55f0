package sign

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"dex-relayer/internal/order"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var (
	executorAddr = common.HexToAddress("0xaaaa000000000000000000000000000000000001")
	authAddr     = common.HexToAddress("0xbbbb000000000000000000000000000000000002")
)

func testDomains(chainID int64) Domains {
	return DefaultDomains(big.NewInt(chainID), executorAddr, authAddr)
}

func testOrder(maker common.Address) order.LimitOrder {
	return order.LimitOrder{
		Maker:          maker,
		TokenIn:        common.HexToAddress("0x2000000000000000000000000000000000000002"),
		TokenOut:       common.HexToAddress("0x3000000000000000000000000000000000000003"),
		AmountIn:       big.NewInt(1_000_000),
		AmountOutMin:   big.NewInt(990_000),
		MaxSlippageBps: 50,
		AllowedRouters: []common.Address{common.HexToAddress("0x4000000000000000000000000000000000000004")},
		Expiry:         time.Now().Add(time.Hour).Unix(),
		Nonce:          big.NewInt(1),
	}
}

func newTestSigner(t *testing.T, chainID int64) (*Signer, common.Address) {
	t.Helper()
	keys, err := NewStaticKey(testKeyHex)
	if err != nil {
		t.Fatalf("NewStaticKey: %v", err)
	}
	return NewSigner(testDomains(chainID), keys), keys.Address()
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	signer, maker := newTestSigner(t, 1)
	o := testOrder(maker)
	a := order.TransferAuthorization{
		Token:    o.TokenIn,
		Amount:   o.AmountIn,
		Nonce:    big.NewInt(9),
		Deadline: time.Now().Add(time.Hour).Unix(),
		Spender:  executorAddr,
	}

	so, err := signer.Sign(&o, &a)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(so.OrderSig) != 65 || len(so.AuthSig) != 65 {
		t.Fatalf("expected 65-byte signatures, got %d and %d", len(so.OrderSig), len(so.AuthSig))
	}

	v := NewVerifier(testDomains(1))
	if err := v.VerifyOrderSignature(&so.Order, so.OrderSig); err != nil {
		t.Errorf("VerifyOrderSignature: %v", err)
	}
	if err := v.VerifyAuthorizationSignature(maker, &so.Authorization, so.AuthSig); err != nil {
		t.Errorf("VerifyAuthorizationSignature: %v", err)
	}
}

func TestOrderDigest_DomainSeparation(t *testing.T) {
	_, maker := newTestSigner(t, 1)
	o := testOrder(maker)

	base, err := testDomains(1).OrderDigest(&o)
	if err != nil {
		t.Fatalf("OrderDigest: %v", err)
	}

	otherChain, err := testDomains(137).OrderDigest(&o)
	if err != nil {
		t.Fatalf("OrderDigest: %v", err)
	}
	if base == otherChain {
		t.Error("digests on different chain IDs must differ")
	}

	d := testDomains(1)
	d.Executor = common.HexToAddress("0xcccc000000000000000000000000000000000003")
	otherContract, err := d.OrderDigest(&o)
	if err != nil {
		t.Fatalf("OrderDigest: %v", err)
	}
	if base == otherContract {
		t.Error("digests on different executor contracts must differ")
	}
}

func TestOrderDigest_NonceDistinctness(t *testing.T) {
	_, maker := newTestSigner(t, 1)
	o1 := testOrder(maker)
	o2 := testOrder(maker)
	o2.Nonce = big.NewInt(2)

	d1, err := testDomains(1).OrderDigest(&o1)
	if err != nil {
		t.Fatalf("OrderDigest: %v", err)
	}
	d2, err := testDomains(1).OrderDigest(&o2)
	if err != nil {
		t.Fatalf("OrderDigest: %v", err)
	}
	if d1 == d2 {
		t.Error("orders differing only in nonce must have distinct digests")
	}
}

func TestVerify_CrossDomainReplayRejected(t *testing.T) {
	signer, maker := newTestSigner(t, 1)
	o := testOrder(maker)

	sig, err := signer.SignOrder(&o)
	if err != nil {
		t.Fatalf("SignOrder: %v", err)
	}

	// 另一条链上的校验器恢复出不同摘要的签名者。
	v := NewVerifier(testDomains(137))
	err = v.VerifyOrderSignature(&o, sig)
	if err == nil {
		t.Fatal("signature from chain 1 must not verify on chain 137")
	}
	if !errors.Is(err, ErrSignatureMismatch) && !errors.Is(err, ErrMalformedSignature) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestVerify_WrongSigner(t *testing.T) {
	signer, _ := newTestSigner(t, 1)
	o := testOrder(common.HexToAddress("0xdddd000000000000000000000000000000000004"))

	sig, err := signer.SignOrder(&o)
	if err != nil {
		t.Fatalf("SignOrder: %v", err)
	}

	v := NewVerifier(testDomains(1))
	if err := v.VerifyOrderSignature(&o, sig); !errors.Is(err, ErrSignatureMismatch) {
		t.Errorf("expected ErrSignatureMismatch, got %v", err)
	}
}

func TestVerify_MalformedSignature(t *testing.T) {
	_, maker := newTestSigner(t, 1)
	o := testOrder(maker)

	v := NewVerifier(testDomains(1))
	if err := v.VerifyOrderSignature(&o, make([]byte, 10)); !errors.Is(err, ErrMalformedSignature) {
		t.Errorf("expected ErrMalformedSignature for short signature, got %v", err)
	}
}

func TestSignAuthorization_RejectsForeignSpender(t *testing.T) {
	signer, _ := newTestSigner(t, 1)
	a := order.TransferAuthorization{
		Token:    common.HexToAddress("0x2000000000000000000000000000000000000002"),
		Amount:   big.NewInt(1),
		Nonce:    big.NewInt(1),
		Deadline: time.Now().Add(time.Hour).Unix(),
		Spender:  common.HexToAddress("0xeeee000000000000000000000000000000000005"),
	}

	if _, err := signer.SignAuthorization(&a); err == nil {
		t.Fatal("authorization with spender other than the executor must be refused")
	}
}

func TestStaticKeyAddress(t *testing.T) {
	keys, err := NewStaticKey(testKeyHex)
	if err != nil {
		t.Fatalf("NewStaticKey: %v", err)
	}
	key, err := keys.Key()
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	if got := crypto.PubkeyToAddress(key.PublicKey); got != keys.Address() {
		t.Errorf("Address mismatch: %s vs %s", got.Hex(), keys.Address().Hex())
	}
}
