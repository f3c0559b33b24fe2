package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lendpool/core/state"
	"lendpool/core/types"
	"lendpool/native/lending"
	"lendpool/native/oracle"
	"lendpool/storage"
)

const testToken = "secret-token"

type testHarness struct {
	server  *httptest.Server
	engine  *lending.Engine
	manager *state.Manager
	prices  *oracle.ManualOracle
}

func newTestHarness(t *testing.T, opts ...ServerOption) *testHarness {
	t.Helper()

	manager := state.NewManager(storage.NewMemDB())
	prices := oracle.NewManualOracle()
	engine := lending.NewEngine("pool-vault", "pool-admin")
	engine.SetState(manager)
	engine.SetOracle(prices)

	model := lending.NewInterestModel(0, 0.04, 0.6, 0.8)
	risk := lending.RiskParameters{
		CollateralFactorBps:     8000,
		LiquidationThresholdBps: 8500,
		LiquidationBonusBps:     500,
		CloseFactorBps:          5000,
	}
	_, err := engine.CreateMarket("pool-admin", "USDC", model, risk, lending.BorrowCaps{})
	require.NoError(t, err)
	prices.Set("USDC", big.NewRat(1, 1), time.Now())

	account := types.NewAccount("alice")
	account.Credit("USDC", big.NewInt(10_000))
	require.NoError(t, manager.PutAccount(account))

	opts = append(opts, WithEventLog(manager))
	srv := NewServer(engine, slog.Default(), opts...)
	httpSrv := httptest.NewServer(srv.Router())
	t.Cleanup(httpSrv.Close)

	return &testHarness{server: httpSrv, engine: engine, manager: manager, prices: prices}
}

func (h *testHarness) call(t *testing.T, method string, params interface{}, headers map[string]string) (*http.Response, RPCResponse) {
	t.Helper()

	req := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		req["params"] = []interface{}{params}
	}
	body, err := json.Marshal(req)
	require.NoError(t, err)

	httpReq, err := http.NewRequest(http.MethodPost, h.server.URL+"/", bytes.NewReader(body))
	require.NoError(t, err)
	httpReq.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := http.DefaultClient.Do(httpReq)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded RPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestHarness(t)
	resp, err := http.Get(h.server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSupplyAndReserveData(t *testing.T) {
	h := newTestHarness(t)

	resp, decoded := h.call(t, "lending_supply", amountParams{User: "alice", Asset: "USDC", Amount: "5000"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Nil(t, decoded.Error)

	resp, decoded = h.call(t, "lending_getMarket", assetParams{Asset: "USDC"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Nil(t, decoded.Error)

	raw, err := json.Marshal(decoded.Result)
	require.NoError(t, err)
	var data lending.ReserveData
	require.NoError(t, json.Unmarshal(raw, &data))
	require.Equal(t, "USDC", data.Asset)
	require.Equal(t, 0, data.TotalSupplied.Cmp(big.NewInt(5000)))
	require.Equal(t, 0, data.TotalBorrowed.Sign())
}

func TestBorrowRepayFlow(t *testing.T) {
	h := newTestHarness(t)

	_, decoded := h.call(t, "lending_supply", amountParams{User: "alice", Asset: "USDC", Amount: "5000"}, nil)
	require.Nil(t, decoded.Error)

	_, decoded = h.call(t, "lending_borrow", amountParams{User: "alice", Asset: "USDC", Amount: "1000"}, nil)
	require.Nil(t, decoded.Error)

	_, decoded = h.call(t, "lending_getHealthFactor", accountParams{Address: "alice"}, nil)
	require.Nil(t, decoded.Error)

	_, decoded = h.call(t, "lending_repay", amountParams{User: "alice", Asset: "USDC", Amount: "2000"}, nil)
	require.Nil(t, decoded.Error)
	raw, err := json.Marshal(decoded.Result)
	require.NoError(t, err)
	var result repayResult
	require.NoError(t, json.Unmarshal(raw, &result))
	require.Equal(t, 0, result.Repaid.Cmp(big.NewInt(1000)))
}

func TestEngineErrorsMapToConflict(t *testing.T) {
	h := newTestHarness(t)

	resp, decoded := h.call(t, "lending_supply", amountParams{User: "alice", Asset: "USDC", Amount: "999999"}, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.NotNil(t, decoded.Error)
	require.Equal(t, codeServerError, decoded.Error.Code)

	resp, decoded = h.call(t, "lending_supply", amountParams{User: "alice", Asset: "DOGE", Amount: "10"}, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.NotNil(t, decoded.Error)
}

func TestInvalidRequests(t *testing.T) {
	h := newTestHarness(t)

	resp, decoded := h.call(t, "lending_unknown", nil, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, codeMethodNotFound, decoded.Error.Code)

	resp, decoded = h.call(t, "lending_supply", amountParams{User: "alice", Asset: "USDC", Amount: "not-a-number"}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, codeInvalidParams, decoded.Error.Code)

	httpResp, err := http.Post(h.server.URL+"/", "application/json", bytes.NewReader([]byte(`{"jsonrpc":"1.0","id":1,"method":"lending_supply"}`)))
	require.NoError(t, err)
	defer httpResp.Body.Close()
	require.Equal(t, http.StatusBadRequest, httpResp.StatusCode)
}

func TestAdminMethodsRequireBearerToken(t *testing.T) {
	h := newTestHarness(t, WithAuthToken(testToken))

	params := createMarketParams{
		Caller: "pool-admin",
		Asset:  "ETH",
		Kink:   0.8,
		Risk: riskParams{
			CollateralFactorBps:     7500,
			LiquidationThresholdBps: 8000,
			CloseFactorBps:          5000,
		},
	}

	resp, decoded := h.call(t, "lending_createMarket", params, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, codeUnauthorized, decoded.Error.Code)

	headers := map[string]string{"Authorization": "Bearer " + testToken}
	resp, decoded = h.call(t, "lending_createMarket", params, headers)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Nil(t, decoded.Error)

	// The engine still enforces its own admin gate behind the token.
	params.Asset = "BTC"
	params.Caller = "mallory"
	resp, decoded = h.call(t, "lending_createMarket", params, headers)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.NotNil(t, decoded.Error)
}

func TestRateLimit(t *testing.T) {
	h := newTestHarness(t, WithRateLimit(0.001, 1))

	resp, _ := h.call(t, "lending_getHealthFactor", accountParams{Address: "alice"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, decoded := h.call(t, "lending_getHealthFactor", accountParams{Address: "alice"}, nil)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, codeRateLimited, decoded.Error.Code)
}

func TestListLiquidationsEmpty(t *testing.T) {
	h := newTestHarness(t)

	resp, decoded := h.call(t, "lending_listLiquidations", listLiquidationsParams{Limit: 10}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Nil(t, decoded.Error)

	raw, err := json.Marshal(decoded.Result)
	require.NoError(t, err)
	var events []*lending.LiquidationEvent
	require.NoError(t, json.Unmarshal(raw, &events))
	require.Empty(t, events)
}

func TestListMarkets(t *testing.T) {
	h := newTestHarness(t)

	_, decoded := h.call(t, "lending_listMarkets", nil, nil)
	require.Nil(t, decoded.Error)

	raw, err := json.Marshal(decoded.Result)
	require.NoError(t, err)
	var markets []*lending.ReserveData
	require.NoError(t, json.Unmarshal(raw, &markets))
	require.Len(t, markets, 1)
	require.Equal(t, "USDC", markets[0].Asset)
}

func ExampleRPCRequest() {
	payload := RPCRequest{
		JSONRPC: "2.0",
		Method:  "lending_getMarket",
		ID:      1,
	}
	body, _ := json.Marshal(payload)
	fmt.Println(string(body))
	// Output: {"jsonrpc":"2.0","method":"lending_getMarket","params":null,"id":1}
}
