package order

import (
	"math/big"
	"sync"
)

// NonceBitmap 以字索引+位索引记录划转授权 nonce 的使用状态。
// 无中心序号计数器，消费可以乱序且幂等，并发部分成交不会在
// nonce 顺序上互相阻塞。
type NonceBitmap struct {
	mu    sync.Mutex
	words map[uint64]*big.Int
}

// NewNonceBitmap 创建空位图。
func NewNonceBitmap() *NonceBitmap {
	return &NonceBitmap{words: make(map[uint64]*big.Int)}
}

// nonce 的低8位是位索引，其余高位是字索引。
func split(nonce *big.Int) (word uint64, bit uint) {
	bit = uint(nonce.Uint64() & 0xff)
	word = new(big.Int).Rsh(nonce, 8).Uint64()
	return word, bit
}

// IsUsed 判断 nonce 是否已被消费。
func (b *NonceBitmap) IsUsed(nonce *big.Int) bool {
	if nonce == nil || nonce.Sign() < 0 {
		return false
	}
	word, bit := split(nonce)

	b.mu.Lock()
	defer b.mu.Unlock()

	bits, ok := b.words[word]
	if !ok {
		return false
	}
	return bits.Bit(int(bit)) == 1
}

// MarkUsed 置位 nonce，重复置位是幂等的。返回置位前是否已使用。
func (b *NonceBitmap) MarkUsed(nonce *big.Int) bool {
	if nonce == nil || nonce.Sign() < 0 {
		return false
	}
	word, bit := split(nonce)

	b.mu.Lock()
	defer b.mu.Unlock()

	bits, ok := b.words[word]
	if !ok {
		bits = new(big.Int)
		b.words[word] = bits
	}
	used := bits.Bit(int(bit)) == 1
	bits.SetBit(bits, int(bit), 1)
	return used
}
