package chain

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"DeIDPlatform/pkg/logger"
	"DeIDPlatform/services/deid-backend/internal/signer"
)

// balanceOfABI общий для ERC-20 и ERC-721 метод balanceOf(address) returns (uint256)
const balanceOfABI = `[{"type":"function","name":"balanceOf","stateMutability":"view",
"inputs":[{"name":"owner","type":"address"}],
"outputs":[{"name":"balance","type":"uint256"}]}]`

var balanceOf = mustParseABI(balanceOfABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid balanceOf ABI: %v", err))
	}
	return parsed
}

// BalanceChecker читает балансы ERC-20 и ERC-721 через eth_call
type BalanceChecker struct {
	http     *http.Client
	networks map[string]string
	timeout  time.Duration
	logger   logger.Logger

	mu      sync.Mutex
	clients map[string]*ethclient.Client
}

// NewBalanceChecker создает новый экземпляр BalanceChecker.
// networks: имя сети → URL JSON-RPC узла.
func NewBalanceChecker(httpClient *http.Client, networks map[string]string, timeout time.Duration, log logger.Logger) *BalanceChecker {
	copied := make(map[string]string, len(networks))
	for name, url := range networks {
		if url != "" {
			copied[strings.ToLower(name)] = url
		}
	}
	return &BalanceChecker{
		http:     httpClient,
		networks: copied,
		timeout:  timeout,
		logger:   log,
		clients:  make(map[string]*ethclient.Client),
	}
}

// RPCURL возвращает URL узла сети
func (c *BalanceChecker) RPCURL(network string) (string, bool) {
	url, ok := c.networks[strings.ToLower(network)]
	return url, ok
}

// CheckERC20 проверяет, что баланс токена не меньше minimum
func (c *BalanceChecker) CheckERC20(ctx context.Context, wallet, token string, minimum *big.Int, rpcURL string) (bool, *big.Int, error) {
	balance, err := c.BalanceOf(ctx, rpcURL, token, wallet)
	if err != nil {
		return false, nil, fmt.Errorf("erc20 balance check: %w", err)
	}
	c.logger.Info("ERC20 balance check",
		logger.String("wallet", wallet),
		logger.String("token", token),
		logger.String("balance", balance.String()),
		logger.String("minimum", minimum.String()),
	)
	return balance.Cmp(minimum) >= 0, balance, nil
}

// CheckERC721 проверяет, что количество NFT не меньше minimum
func (c *BalanceChecker) CheckERC721(ctx context.Context, wallet, nft string, minimum *big.Int, rpcURL string) (bool, *big.Int, error) {
	balance, err := c.BalanceOf(ctx, rpcURL, nft, wallet)
	if err != nil {
		return false, nil, fmt.Errorf("erc721 balance check: %w", err)
	}
	c.logger.Info("ERC721 balance check",
		logger.String("wallet", wallet),
		logger.String("nft", nft),
		logger.String("balance", balance.String()),
		logger.String("minimum", minimum.String()),
	)
	return balance.Cmp(minimum) >= 0, balance, nil
}

// BalanceOf вызывает balanceOf(owner) на контракте в последнем блоке
func (c *BalanceChecker) BalanceOf(ctx context.Context, rpcURL, contract, owner string) (*big.Int, error) {
	contractAddr, err := signer.ParseAddress(contract)
	if err != nil {
		return nil, fmt.Errorf("invalid contract address: %w", err)
	}
	ownerAddr, err := signer.ParseAddress(owner)
	if err != nil {
		return nil, fmt.Errorf("invalid owner address: %w", err)
	}

	data, err := balanceOf.Pack("balanceOf", ownerAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to encode balanceOf call: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	client, err := c.client(ctx, rpcURL)
	if err != nil {
		return nil, err
	}

	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &contractAddr, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("rpc call failed: %w", err)
	}

	values, err := balanceOf.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("failed to decode balanceOf result: %w", err)
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result type %T", values[0])
	}
	return balance, nil
}

// client возвращает клиент узла, создавая его при первом обращении
func (c *BalanceChecker) client(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[rpcURL]; ok {
		return client, nil
	}

	rpcClient, err := rpc.DialOptions(ctx, rpcURL, rpc.WithHTTPClient(c.http))
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc node: %w", err)
	}
	client := ethclient.NewClient(rpcClient)
	c.clients[rpcURL] = client
	return client, nil
}

// Close закрывает клиенты узлов
func (c *BalanceChecker) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for url, client := range c.clients {
		client.Close()
		delete(c.clients, url)
	}
}

// ParseAmount разбирает десятичное неотрицательное число uint256
func ParseAmount(value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount: %q", value)
	}
	return amount, nil
}
