package multicall

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const wordSize = 32

// decodeResult 按声明的解码方式解释返回数据。
// 解码失败不报错，记为未回答（Success=false），由上层决定取舍。
func decodeResult(kind DecodeKind, raw []byte) *Result {
	if len(raw) < wordSize {
		return &Result{Success: false, Raw: raw}
	}

	switch kind {
	case KindExistence:
		addr := common.BytesToAddress(raw[wordSize-common.AddressLength : wordSize])
		return &Result{
			Success: addr != (common.Address{}),
			Address: addr,
			Raw:     raw,
		}

	case KindQuote, KindPrice:
		value := decodeAmount(raw)
		if value == nil {
			return &Result{Success: false, Raw: raw}
		}
		return &Result{Success: true, Value: value, Raw: raw}

	case KindLiquidity:
		value := decodeLiquidity(raw)
		if value == nil {
			return &Result{Success: false, Raw: raw}
		}
		return &Result{Success: true, Value: value, Raw: raw}
	}

	return &Result{Success: false, Raw: raw}
}

// decodeAmount 兼容单个 uint256 与 uint256[]（取末项，对应多跳报价的最终输出）。
// 报价器返回多字段元组时首个字即输出金额。
func decodeAmount(raw []byte) *big.Int {
	if len(raw) == wordSize {
		return new(big.Int).SetBytes(raw)
	}

	// 动态数组编码：第一字是偏移量，偏移处是长度，其后为元素。
	offset := new(big.Int).SetBytes(raw[:wordSize])
	if offset.Cmp(big.NewInt(int64(len(raw)))) < 0 && offset.Int64() == wordSize {
		lengthPos := int(offset.Int64())
		if lengthPos+wordSize > len(raw) {
			return nil
		}
		length := new(big.Int).SetBytes(raw[lengthPos : lengthPos+wordSize])
		n := int(length.Int64())
		if n <= 0 {
			return nil
		}
		last := lengthPos + wordSize + (n-1)*wordSize
		if last+wordSize > len(raw) {
			return nil
		}
		return new(big.Int).SetBytes(raw[last : last+wordSize])
	}

	// 多字段元组按首字取值。
	return new(big.Int).SetBytes(raw[:wordSize])
}

// decodeLiquidity 兼容 getReserves 的 (uint112,uint112,uint32) 与单个 uint256。
func decodeLiquidity(raw []byte) *big.Int {
	if len(raw) == wordSize {
		return new(big.Int).SetBytes(raw)
	}
	if len(raw) >= 3*wordSize {
		reserve0 := new(big.Int).SetBytes(raw[:wordSize])
		reserve1 := new(big.Int).SetBytes(raw[wordSize : 2*wordSize])
		return new(big.Int).Add(reserve0, reserve1)
	}
	return nil
}
