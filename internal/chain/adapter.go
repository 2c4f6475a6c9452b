// Package chain defines the adapter contract the settlement pipeline consumes
// for all chain I/O, plus the (chain, provider) registry used to resolve a
// concrete adapter at runtime.
package chain

import (
	"context"
	"errors"
	"math/big"
)

// ErrReceiptNotFound is returned by GetReceipt when the transaction is not
// yet mined. The lifecycle tracker treats it as still-pending, never as failed.
var ErrReceiptNotFound = errors.New("receipt not found")

// TransferInput 待签名广播的转账参数
type TransferInput struct {
	From  string
	To    string
	Value *big.Int // base units
	Data  []byte
}

// Receipt 链上回执
type Receipt struct {
	Status            uint64 // 1 = success, 0 = reverted
	BlockNumber       uint64
	GasUsed           uint64
	EffectiveGasPrice *big.Int
}

// Succeeded reports whether the receipt carries a success status.
func (r *Receipt) Succeeded() bool {
	return r != nil && r.Status == 1
}

// Adapter 链适配器契约：管道对每条链/每个 provider 只依赖这五个操作。
type Adapter interface {
	GetBalance(ctx context.Context, address string) (*big.Int, error)
	EstimateGas(ctx context.Context, in TransferInput) (uint64, error)
	GetGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, in TransferInput) (string, error)
	GetReceipt(ctx context.Context, hash string) (*Receipt, error)
}
