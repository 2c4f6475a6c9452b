package services

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"sync"

	"agentpay-backend/internal/chain"
	"agentpay-backend/internal/clients"
	"agentpay-backend/internal/utils"
)

// Guardrails preflight 护栏参数，零值字段表示不启用对应检查
type Guardrails struct {
	DustFloor         *big.Int // 低于此值的转账视为粉尘，拒绝
	MaxFeeCap         *big.Int // 预估手续费上限
	GasGuardBps       int      // 允许的 gas price 偏离（基点）
	ReferenceGasPrice *big.Int // gas 偏离的参考价，nil 时尝试从 oracle 获取
	AllowSelfSend     bool     // 显式允许自转账
}

// PreflightResult 模拟结果
type PreflightResult struct {
	Value                *big.Int `json:"value"`
	Balance              *big.Int `json:"balance"`
	GasEstimate          uint64   `json:"gas_estimate"`
	GasPrice             *big.Int `json:"gas_price"`
	EstimatedFee         *big.Int `json:"estimated_fee"`
	TotalImpact          *big.Int `json:"total_impact"`
	ProjectedPostBalance *big.Int `json:"projected_post_balance"`
}

// PreflightService 转账预检服务
// 广播前计算余额/费用影响并执行护栏校验
type PreflightService struct {
	registry       *chain.Registry
	gasPriceOracle *clients.GasPriceClient // 可为 nil，此时 gas 偏离检查需调用方提供参考价
}

// NewPreflightService 创建预检服务
func NewPreflightService(registry *chain.Registry, gasPriceOracle *clients.GasPriceClient) *PreflightService {
	return &PreflightService{
		registry:       registry,
		gasPriceOracle: gasPriceOracle,
	}
}

// Simulate 模拟一笔转账并执行全部护栏校验
func (s *PreflightService) Simulate(ctx context.Context, from, to string, value *big.Int, chainName string, guardrails Guardrails) (*PreflightResult, error) {
	if err := s.validateStatic(from, to, value, guardrails); err != nil {
		return nil, err
	}

	adapter, err := s.registry.Resolve(chainName, "")
	if err != nil {
		return nil, fmt.Errorf("failed to resolve chain adapter: %w", err)
	}

	balance, gasEstimate, gasPrice, err := s.queryChain(ctx, adapter, from, to, value)
	if err != nil {
		return nil, err
	}

	estimatedFee := new(big.Int).Mul(new(big.Int).SetUint64(gasEstimate), gasPrice)
	result := &PreflightResult{
		Value:        value,
		Balance:      balance,
		GasEstimate:  gasEstimate,
		GasPrice:     gasPrice,
		EstimatedFee: estimatedFee,
		TotalImpact:  new(big.Int).Add(value, estimatedFee),
	}
	result.ProjectedPostBalance = new(big.Int).Sub(balance, result.TotalImpact)

	if err := s.checkGuardrails(result, chainName, guardrails); err != nil {
		return nil, err
	}

	if result.ProjectedPostBalance.Sign() < 0 {
		return nil, NewGuardrailError(GuardrailInsufficientBalance,
			"balance %s cannot cover value %s plus fee %s", balance, value, estimatedFee)
	}

	return result, nil
}

// SimulateSweep 模拟清空钱包的转账：目标金额 = 余额 − 预估手续费
func (s *PreflightService) SimulateSweep(ctx context.Context, from, to, chainName string, guardrails Guardrails) (*PreflightResult, error) {
	// sweep 的金额由余额推导，静态阶段只校验地址与自转账；
	// 粉尘下限要等推导出实际转账额后再检查
	staticGuardrails := guardrails
	staticGuardrails.DustFloor = nil
	if err := s.validateStatic(from, to, big.NewInt(1), staticGuardrails); err != nil {
		return nil, err
	}

	adapter, err := s.registry.Resolve(chainName, "")
	if err != nil {
		return nil, fmt.Errorf("failed to resolve chain adapter: %w", err)
	}

	balance, gasEstimate, gasPrice, err := s.queryChain(ctx, adapter, from, to, big.NewInt(0))
	if err != nil {
		return nil, err
	}

	estimatedFee := new(big.Int).Mul(new(big.Int).SetUint64(gasEstimate), gasPrice)
	projectedSend := new(big.Int).Sub(balance, estimatedFee)
	if projectedSend.Sign() <= 0 {
		return nil, NewGuardrailError(GuardrailInsufficientBalance,
			"insufficient balance to cover gas: balance=%s, fee=%s", balance, estimatedFee)
	}
	if guardrails.DustFloor != nil && projectedSend.Cmp(guardrails.DustFloor) < 0 {
		return nil, NewGuardrailError(GuardrailBelowDustFloor,
			"sweep amount %s is below the dust floor %s", projectedSend, guardrails.DustFloor)
	}

	result := &PreflightResult{
		Value:                projectedSend,
		Balance:              balance,
		GasEstimate:          gasEstimate,
		GasPrice:             gasPrice,
		EstimatedFee:         estimatedFee,
		TotalImpact:          new(big.Int).Set(balance),
		ProjectedPostBalance: big.NewInt(0),
	}

	// sweep 的金额基于计算时的 gas price，gas 飙升防护在这里尤其重要
	if err := s.checkGuardrails(result, chainName, guardrails); err != nil {
		return nil, err
	}

	log.Printf("🔍 [Preflight] Sweep simulated: from=%s, balance=%s, fee=%s, projectedSend=%s",
		from, balance, estimatedFee, projectedSend)
	return result, nil
}

// validateStatic 不依赖链上状态的同步校验
func (s *PreflightService) validateStatic(from, to string, value *big.Int, guardrails Guardrails) error {
	if !utils.IsEvmAddress(to) {
		return NewGuardrailError(GuardrailInvalidRecipient, "recipient %s is not a valid address", to)
	}
	if utils.SameAddress(from, to) && !guardrails.AllowSelfSend {
		return NewGuardrailError(GuardrailSelfSendBlocked, "transfer from %s to itself is blocked", from)
	}
	if value == nil || value.Sign() <= 0 {
		return NewGuardrailError(GuardrailNonPositiveValue, "transfer value must be positive")
	}
	if guardrails.DustFloor != nil && value.Cmp(guardrails.DustFloor) < 0 {
		return NewGuardrailError(GuardrailBelowDustFloor,
			"value %s is below the dust floor %s", value, guardrails.DustFloor)
	}
	return nil
}

// queryChain 并发发起余额、gas 估算、gas price 三个独立只读查询
func (s *PreflightService) queryChain(ctx context.Context, adapter chain.Adapter, from, to string, value *big.Int) (*big.Int, uint64, *big.Int, error) {
	var (
		wg          sync.WaitGroup
		balance     *big.Int
		gasEstimate uint64
		gasPrice    *big.Int
		balanceErr  error
		gasErr      error
		priceErr    error
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		balance, balanceErr = adapter.GetBalance(ctx, from)
	}()
	go func() {
		defer wg.Done()
		gasEstimate, gasErr = adapter.EstimateGas(ctx, chain.TransferInput{
			From:  from,
			To:    to,
			Value: value,
		})
	}()
	go func() {
		defer wg.Done()
		gasPrice, priceErr = adapter.GetGasPrice(ctx)
	}()
	wg.Wait()

	if balanceErr != nil {
		return nil, 0, nil, fmt.Errorf("failed to fetch balance: %w", balanceErr)
	}
	if gasErr != nil {
		return nil, 0, nil, fmt.Errorf("failed to estimate gas: %w", gasErr)
	}
	if priceErr != nil {
		return nil, 0, nil, fmt.Errorf("failed to fetch gas price: %w", priceErr)
	}

	return balance, gasEstimate, gasPrice, nil
}

// checkGuardrails 执行费用上限与 gas 偏离护栏
func (s *PreflightService) checkGuardrails(result *PreflightResult, chainName string, guardrails Guardrails) error {
	if guardrails.MaxFeeCap != nil && result.EstimatedFee.Cmp(guardrails.MaxFeeCap) > 0 {
		return NewGuardrailError(GuardrailFeeCapExceeded,
			"estimated fee %s exceeds cap %s", result.EstimatedFee, guardrails.MaxFeeCap)
	}

	if guardrails.GasGuardBps > 0 {
		reference := guardrails.ReferenceGasPrice
		if reference == nil && s.gasPriceOracle != nil {
			oraclePrice, err := s.gasPriceOracle.GetReferenceGasPrice(chainName)
			if err != nil {
				log.Printf("⚠️ [Preflight] Gas price oracle unavailable, skipping drift guard: %v", err)
			} else {
				reference = oraclePrice
			}
		}
		if reference != nil {
			// ceiling = reference × (1 + bps/10000)
			ceiling := new(big.Int).Mul(reference, big.NewInt(int64(10000+guardrails.GasGuardBps)))
			ceiling.Div(ceiling, big.NewInt(10000))
			if result.GasPrice.Cmp(ceiling) > 0 {
				return NewGuardrailError(GuardrailGasPriceDrift,
					"gas price %s exceeds guard ceiling %s (reference %s, %d bps)",
					result.GasPrice, ceiling, reference, guardrails.GasGuardBps)
			}
		}
	}

	return nil
}
