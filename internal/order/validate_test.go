package order

import (
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	addrMaker    = common.HexToAddress("0x1000000000000000000000000000000000000001")
	addrTokenIn  = common.HexToAddress("0x2000000000000000000000000000000000000002")
	addrTokenOut = common.HexToAddress("0x3000000000000000000000000000000000000003")
	addrRouter   = common.HexToAddress("0x4000000000000000000000000000000000000004")
	addrOther    = common.HexToAddress("0x5000000000000000000000000000000000000005")
)

func makeOrder(now time.Time) LimitOrder {
	return LimitOrder{
		Maker:          addrMaker,
		TokenIn:        addrTokenIn,
		TokenOut:       addrTokenOut,
		AmountIn:       big.NewInt(1000),
		AmountOutMin:   big.NewInt(100),
		MaxSlippageBps: 300,
		AllowedRouters: []common.Address{addrRouter},
		Expiry:         now.Add(time.Hour).Unix(),
		Nonce:          big.NewInt(7),
	}
}

func makeParams(o *LimitOrder, now time.Time) ExecutionParams {
	return ExecutionParams{
		Router:       addrRouter,
		Path:         []common.Address{o.TokenIn, o.TokenOut},
		Fees:         []*big.Int{big.NewInt(3000)},
		AmountIn:     big.NewInt(1000),
		AmountOutMin: big.NewInt(100),
		Deadline:     now.Add(10 * time.Minute).Unix(),
	}
}

func TestValidateStructure_ValidOrder(t *testing.T) {
	now := time.Now()
	o := makeOrder(now)

	res := ValidateStructure(&o, now)
	if !res.Valid {
		t.Fatalf("expected valid order, got errors: %v", res.Errors)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("expected no warnings, got %v", res.Warnings)
	}
}

func TestValidateStructure_CollectsAllReasons(t *testing.T) {
	now := time.Now()
	o := LimitOrder{
		TokenIn:        addrTokenIn,
		TokenOut:       addrTokenIn,
		AmountIn:       big.NewInt(0),
		AmountOutMin:   big.NewInt(-1),
		MaxSlippageBps: 20000,
		Expiry:         now.Add(-time.Minute).Unix(),
	}

	res := ValidateStructure(&o, now)
	if res.Valid {
		t.Fatal("expected invalid order")
	}
	if len(res.Errors) < 5 {
		t.Errorf("expected all failing reasons collected, got %d: %v", len(res.Errors), res.Errors)
	}
}

func TestValidateStructure_Warnings(t *testing.T) {
	now := time.Now()
	o := makeOrder(now)
	o.MaxSlippageBps = 800
	o.Expiry = now.Add(60 * 24 * time.Hour).Unix()

	res := ValidateStructure(&o, now)
	if !res.Valid {
		t.Fatalf("warnings must not invalidate the order: %v", res.Errors)
	}
	if len(res.Warnings) != 2 {
		t.Errorf("expected slippage and expiry warnings, got %v", res.Warnings)
	}
}

func TestValidateExecution_ProportionalPartialFill(t *testing.T) {
	now := time.Now()
	o := makeOrder(now)

	p := makeParams(&o, now)
	p.AmountIn = big.NewInt(500)
	p.AmountOutMin = big.NewInt(50)
	if res := ValidateExecution(&o, &p, now); !res.Valid {
		t.Fatalf("amountOutMin=50 for half fill must pass, got %v", res.Errors)
	}

	p.AmountOutMin = big.NewInt(49)
	res := ValidateExecution(&o, &p, now)
	if res.Valid {
		t.Fatal("amountOutMin=49 for half fill must be rejected")
	}
	found := false
	for _, reason := range res.Errors {
		if strings.Contains(reason, "按比例下限") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected proportional floor violation in reasons, got %v", res.Errors)
	}
}

func TestValidateExecution_RouterAllowList(t *testing.T) {
	now := time.Now()
	o := makeOrder(now)

	p := makeParams(&o, now)
	p.Router = addrOther
	if res := ValidateExecution(&o, &p, now); res.Valid {
		t.Fatal("router outside a non-empty allow-list must be rejected")
	}

	o.AllowedRouters = nil
	if res := ValidateExecution(&o, &p, now); !res.Valid {
		t.Fatalf("empty allow-list must accept any router, got %v", res.Errors)
	}
}

func TestValidateExecution_PathEndpoints(t *testing.T) {
	now := time.Now()
	o := makeOrder(now)

	p := makeParams(&o, now)
	p.Path = []common.Address{addrOther, o.TokenOut}
	if res := ValidateExecution(&o, &p, now); res.Valid {
		t.Fatal("path not starting at tokenIn must be rejected")
	}

	p = makeParams(&o, now)
	p.Path = []common.Address{o.TokenIn, addrOther}
	p.Fees = []*big.Int{big.NewInt(3000)}
	if res := ValidateExecution(&o, &p, now); res.Valid {
		t.Fatal("path not ending at tokenOut must be rejected")
	}
}

func TestValidateExecution_ExpiryOrdering(t *testing.T) {
	now := time.Now()
	o := makeOrder(now)

	p := makeParams(&o, now)
	p.Deadline = now.Add(-time.Minute).Unix()
	if res := ValidateExecution(&o, &p, now); res.Valid {
		t.Fatal("past deadline must be rejected")
	}

	p = makeParams(&o, now)
	p.Deadline = o.Expiry + 60
	if res := ValidateExecution(&o, &p, now); res.Valid {
		t.Fatal("deadline beyond order expiry must be rejected")
	}
}

func TestValidateExecution_AmountBounds(t *testing.T) {
	now := time.Now()
	o := makeOrder(now)

	p := makeParams(&o, now)
	p.AmountIn = big.NewInt(1001)
	if res := ValidateExecution(&o, &p, now); res.Valid {
		t.Fatal("amountIn above order total must be rejected")
	}

	p = makeParams(&o, now)
	p.AmountIn = big.NewInt(0)
	if res := ValidateExecution(&o, &p, now); res.Valid {
		t.Fatal("zero amountIn must be rejected")
	}
}

func TestValidateExecution_CollectsAllReasons(t *testing.T) {
	now := time.Now()
	o := makeOrder(now)

	p := ExecutionParams{
		Router:       addrOther,
		Path:         []common.Address{addrOther, addrOther},
		Fees:         []*big.Int{big.NewInt(3000)},
		AmountIn:     big.NewInt(2000),
		AmountOutMin: big.NewInt(1),
		Deadline:     now.Add(-time.Minute).Unix(),
	}

	res := ValidateExecution(&o, &p, now)
	if res.Valid {
		t.Fatal("expected invalid plan")
	}
	if len(res.Errors) < 4 {
		t.Errorf("expected all failing reasons collected, got %d: %v", len(res.Errors), res.Errors)
	}
}

type stubVerifier struct {
	orderErr error
	authErr  error
}

func (s stubVerifier) VerifyOrderSignature(_ *LimitOrder, _ []byte) error { return s.orderErr }
func (s stubVerifier) VerifyAuthorizationSignature(_ common.Address, _ *TransferAuthorization, _ []byte) error {
	return s.authErr
}

func TestValidateSigned_AuthorizationConsistency(t *testing.T) {
	now := time.Now()
	o := makeOrder(now)
	so := SignedOrder{
		Order: o,
		Authorization: TransferAuthorization{
			Token:    o.TokenIn,
			Amount:   big.NewInt(1000),
			Nonce:    big.NewInt(1),
			Deadline: now.Add(time.Hour).Unix(),
			Spender:  addrRouter,
		},
	}

	if res := ValidateSigned(&so, stubVerifier{}, now); !res.Valid {
		t.Fatalf("expected executable order, got %v", res.Errors)
	}

	so.Authorization.Token = addrOther
	if res := ValidateSigned(&so, stubVerifier{}, now); res.Valid {
		t.Fatal("authorization token mismatch must be rejected")
	}

	so.Authorization.Token = o.TokenIn
	so.Authorization.Amount = big.NewInt(999)
	if res := ValidateSigned(&so, stubVerifier{}, now); res.Valid {
		t.Fatal("authorization amount below order input must be rejected")
	}
}
