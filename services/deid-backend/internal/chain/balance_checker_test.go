package chain

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DeIDPlatform/pkg/logger"
)

const (
	wallet   = "0x000000000000000000000000000000000000dEaD"
	contract = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
)

// rpcServer поднимает JSON-RPC узел, отвечающий заданным результатом на eth_call
func rpcServer(t *testing.T, result string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage   `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "eth_call", req.Method)
		require.Len(t, req.Params, 2)

		var call struct {
			To    string `json:"to"`
			Input string `json:"input"`
			Data  string `json:"data"`
		}
		require.NoError(t, json.Unmarshal(req.Params[0], &call))
		input := call.Input
		if input == "" {
			input = call.Data
		}
		assert.Equal(t, "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", strings.ToLower(call.To))
		assert.Equal(t, "0x70a08231000000000000000000000000000000000000000000000000000000000000dead", input)
		assert.JSONEq(t, `"latest"`, string(req.Params[1]))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,"result":"` + result + `"}`))
	}))
}

// replyWithID отвечает на запрос заданным полем с тем же id
func replyWithID(field string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID json.RawMessage `json:"id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,` + field + `}`))
	}
}

func newChecker(url string) *BalanceChecker {
	return NewBalanceChecker(http.DefaultClient, map[string]string{"ethereum": url, "bsc": ""}, time.Second, logger.NewNop())
}

// TestCheckERC20 проверяет сравнение баланса с минимумом
func TestCheckERC20(t *testing.T) {
	// 100 = 0x64
	server := rpcServer(t, "0x0000000000000000000000000000000000000000000000000000000000000064")
	defer server.Close()

	c := newChecker(server.URL)

	ok, balance, err := c.CheckERC20(t.Context(), wallet, contract, big.NewInt(10), server.URL)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "100", balance.String())

	ok, _, err = c.CheckERC20(t.Context(), wallet, contract, big.NewInt(100), server.URL)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _, err = c.CheckERC20(t.Context(), wallet, contract, big.NewInt(101), server.URL)
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestCheckERC721 проверяет проверку количества NFT
func TestCheckERC721(t *testing.T) {
	server := rpcServer(t, "0x0000000000000000000000000000000000000000000000000000000000000000")
	defer server.Close()

	ok, balance, err := newChecker(server.URL).CheckERC721(t.Context(), wallet, contract, big.NewInt(1), server.URL)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, balance.Sign())
}

// TestBalanceOf_Uint256 проверяет разбор значений больше int64
func TestBalanceOf_Uint256(t *testing.T) {
	server := rpcServer(t, "0xffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff")
	defer server.Close()

	balance, err := newChecker(server.URL).BalanceOf(t.Context(), server.URL, contract, wallet)
	require.NoError(t, err)
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	assert.Equal(t, 0, balance.Cmp(max))
}

// TestBalanceOf_Errors проверяет ошибки RPC
func TestBalanceOf_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"rpc error", replyWithID(`"error":{"code":-32000,"message":"execution reverted"}`)},
		{"empty result", replyWithID(`"result":"0x"`)},
		{"http error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}},
		{"not json", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`nope`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			_, err := newChecker(server.URL).BalanceOf(t.Context(), server.URL, contract, wallet)
			assert.Error(t, err)
		})
	}
}

// TestBalanceOf_InvalidAddress проверяет отклонение адресов до запроса
func TestBalanceOf_InvalidAddress(t *testing.T) {
	c := newChecker("http://127.0.0.1:1")
	_, err := c.BalanceOf(t.Context(), "http://127.0.0.1:1", "0x1234", wallet)
	assert.Error(t, err)
	_, err = c.BalanceOf(t.Context(), "http://127.0.0.1:1", contract, "not-an-address")
	assert.Error(t, err)
}

// TestRPCURL проверяет выбор узла по имени сети
func TestRPCURL(t *testing.T) {
	c := newChecker("https://eth.example")

	url, ok := c.RPCURL("Ethereum")
	assert.True(t, ok)
	assert.Equal(t, "https://eth.example", url)

	_, ok = c.RPCURL("bsc")
	assert.False(t, ok, "сеть без URL не поддерживается")

	_, ok = c.RPCURL("solana")
	assert.False(t, ok)
}

// TestParseAmount проверяет разбор минимального баланса
func TestParseAmount(t *testing.T) {
	v, err := ParseAmount("1000000000000000000000")
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000000", v.String())

	for _, bad := range []string{"", "-1", "1.5", "abc"} {
		_, err := ParseAmount(bad)
		assert.Error(t, err, bad)
	}
}

// TestBalanceChecker_ReusesClient проверяет повторное использование клиента узла
func TestBalanceChecker_ReusesClient(t *testing.T) {
	server := rpcServer(t, "0x0000000000000000000000000000000000000000000000000000000000000001")
	defer server.Close()

	c := newChecker(server.URL)
	defer c.Close()

	for i := 0; i < 3; i++ {
		_, err := c.BalanceOf(t.Context(), server.URL, contract, wallet)
		require.NoError(t, err)
	}
	assert.Len(t, c.clients, 1)
}
