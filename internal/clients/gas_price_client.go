package clients

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"
)

// GasPriceClient client for an external gas price oracle. Used as a reference
// price to detect RPC endpoints quoting wildly off-market gas prices.
type GasPriceClient struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.RWMutex
	cache map[string]gasPriceCacheEntry
}

type gasPriceCacheEntry struct {
	price     *big.Int
	fetchedAt time.Time
}

// gasPriceResponse response from the gas oracle service
type gasPriceResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Chain       string `json:"chain"`
		GasPriceWei string `json:"gasPriceWei"`
	} `json:"data"`
}

const gasPriceCacheTTL = 30 * time.Second

// NewGasPriceClient creates a new gas price oracle client
func NewGasPriceClient(baseURL string) *GasPriceClient {
	if baseURL == "" {
		baseURL = "http://localhost:8091"
	}
	return &GasPriceClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		cache: make(map[string]gasPriceCacheEntry),
	}
}

// GetReferenceGasPrice returns the oracle's gas price for the chain in wei.
// Results are cached briefly; the oracle itself aggregates multiple sources.
func (c *GasPriceClient) GetReferenceGasPrice(chain string) (*big.Int, error) {
	c.mu.RLock()
	entry, ok := c.cache[chain]
	c.mu.RUnlock()
	if ok && time.Since(entry.fetchedAt) < gasPriceCacheTTL {
		return new(big.Int).Set(entry.price), nil
	}

	url := fmt.Sprintf("%s/api/v1/gas-price/%s", c.baseURL, chain)
	resp, err := c.httpClient.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to query gas price oracle: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read gas price response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gas price oracle returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed gasPriceResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse gas price response: %w", err)
	}
	if !parsed.Success {
		return nil, fmt.Errorf("gas price oracle reported failure for chain %s", chain)
	}

	price, ok := new(big.Int).SetString(parsed.Data.GasPriceWei, 10)
	if !ok {
		return nil, fmt.Errorf("invalid gas price value: %s", parsed.Data.GasPriceWei)
	}

	c.mu.Lock()
	c.cache[chain] = gasPriceCacheEntry{price: new(big.Int).Set(price), fetchedAt: time.Now()}
	c.mu.Unlock()

	return price, nil
}
