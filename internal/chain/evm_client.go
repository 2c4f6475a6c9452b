package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// EVMAdapter 基于 ethclient 的 EVM 链适配器。
// 读路径在多个 RPC 端点间做故障转移；广播只走单端点、失败不静默重试
// （重复广播有双重提交风险，由上层按瞬态错误处理）。
type EVMAdapter struct {
	chainName string
	chainID   *big.Int
	clients   []*ethclient.Client
	signerKey *ecdsa.PrivateKey
	gasLimit  uint64 // 0 = estimate per transfer
}

// EVMConfig EVM 适配器配置
type EVMConfig struct {
	ChainName    string
	ChainID      int64
	RPCEndpoints []string
	PrivateKey   string // hex, without 0x prefix
	GasLimit     uint64
}

// NewEVMAdapter dials every configured endpoint; at least one must succeed.
func NewEVMAdapter(cfg EVMConfig) (*EVMAdapter, error) {
	if len(cfg.RPCEndpoints) == 0 {
		return nil, fmt.Errorf("chain %s: no RPC endpoints configured", cfg.ChainName)
	}

	var clients []*ethclient.Client
	for _, endpoint := range cfg.RPCEndpoints {
		client, err := ethclient.Dial(endpoint)
		if err != nil {
			log.Printf("⚠️ [Chain] Failed to dial %s endpoint %s: %v", cfg.ChainName, endpoint, err)
			continue
		}
		clients = append(clients, client)
	}
	if len(clients) == 0 {
		return nil, fmt.Errorf("chain %s: all RPC endpoints unreachable", cfg.ChainName)
	}

	adapter := &EVMAdapter{
		chainName: cfg.ChainName,
		chainID:   big.NewInt(cfg.ChainID),
		clients:   clients,
		gasLimit:  cfg.GasLimit,
	}

	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("chain %s: invalid signer key: %w", cfg.ChainName, err)
		}
		adapter.signerKey = key
	}

	return adapter, nil
}

// withReadFailover 依次尝试每个端点，全部失败返回最后一个错误
func (a *EVMAdapter) withReadFailover(fn func(c *ethclient.Client) error) error {
	var lastErr error
	for _, client := range a.clients {
		if err := fn(client); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("chain %s: all endpoints failed: %w", a.chainName, lastErr)
}

// GetBalance 查询账户余额（base units）
func (a *EVMAdapter) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	var balance *big.Int
	err := a.withReadFailover(func(c *ethclient.Client) error {
		b, err := c.BalanceAt(ctx, common.HexToAddress(address), nil)
		if err != nil {
			return err
		}
		balance = b
		return nil
	})
	return balance, err
}

// EstimateGas 估算转账 gas 用量
func (a *EVMAdapter) EstimateGas(ctx context.Context, in TransferInput) (uint64, error) {
	if a.gasLimit > 0 {
		return a.gasLimit, nil
	}
	to := common.HexToAddress(in.To)
	msg := ethereum.CallMsg{
		From:  common.HexToAddress(in.From),
		To:    &to,
		Value: in.Value,
		Data:  in.Data,
	}
	var gas uint64
	err := a.withReadFailover(func(c *ethclient.Client) error {
		g, err := c.EstimateGas(ctx, msg)
		if err != nil {
			return err
		}
		gas = g
		return nil
	})
	return gas, err
}

// GetGasPrice 查询当前建议 gas price（wei）
func (a *EVMAdapter) GetGasPrice(ctx context.Context) (*big.Int, error) {
	var price *big.Int
	err := a.withReadFailover(func(c *ethclient.Client) error {
		p, err := c.SuggestGasPrice(ctx)
		if err != nil {
			return err
		}
		price = p
		return nil
	})
	return price, err
}

// SendTransaction 构造、签名并广播一笔转账，返回交易哈希。
// 调用方必须持有该钱包的广播锁，nonce 在锁内取用。
func (a *EVMAdapter) SendTransaction(ctx context.Context, in TransferInput) (string, error) {
	if a.signerKey == nil {
		return "", fmt.Errorf("chain %s: no signer key configured", a.chainName)
	}

	client := a.clients[0]
	from := common.HexToAddress(in.From)
	to := common.HexToAddress(in.To)

	nonce, err := client.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get gas price: %w", err)
	}

	gasLimit := a.gasLimit
	if gasLimit == 0 {
		msg := ethereum.CallMsg{From: from, To: &to, Value: in.Value, Data: in.Data}
		gasLimit, err = client.EstimateGas(ctx, msg)
		if err != nil {
			return "", fmt.Errorf("failed to estimate gas: %w", err)
		}
	}

	tx := types.NewTransaction(nonce, to, in.Value, gasLimit, gasPrice, in.Data)
	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(a.chainID), a.signerKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := client.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("failed to broadcast transaction: %w", err)
	}

	hash := signedTx.Hash().Hex()
	log.Printf("✅ [Chain] Transaction broadcast on %s: hash=%s, nonce=%d, gasLimit=%d",
		a.chainName, hash, nonce, gasLimit)
	return hash, nil
}

// GetReceipt 查询交易回执；未上链返回 ErrReceiptNotFound
func (a *EVMAdapter) GetReceipt(ctx context.Context, hash string) (*Receipt, error) {
	var receipt *types.Receipt
	err := a.withReadFailover(func(c *ethclient.Client) error {
		r, err := c.TransactionReceipt(ctx, common.HexToHash(hash))
		if err != nil {
			return err
		}
		receipt = r
		return nil
	})
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return nil, ErrReceiptNotFound
		}
		return nil, err
	}

	out := &Receipt{
		Status:  receipt.Status,
		GasUsed: receipt.GasUsed,
	}
	if receipt.BlockNumber != nil {
		out.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if receipt.EffectiveGasPrice != nil {
		out.EffectiveGasPrice = receipt.EffectiveGasPrice
	}
	return out, nil
}

// SignerAddress 返回配置的签名人地址（未配置返回空串）
func (a *EVMAdapter) SignerAddress() string {
	if a.signerKey == nil {
		return ""
	}
	return strings.ToLower(crypto.PubkeyToAddress(a.signerKey.PublicKey).Hex())
}
