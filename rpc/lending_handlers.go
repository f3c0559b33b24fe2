package rpc

import (
	"encoding/json"
	"math/big"
	"net/http"
	"strings"

	"lendpool/native/lending"
)

type amountParams struct {
	User   string `json:"user"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type liquidateParams struct {
	Liquidator      string `json:"liquidator"`
	Borrower        string `json:"borrower"`
	DebtAsset       string `json:"debtAsset"`
	CollateralAsset string `json:"collateralAsset"`
	RepayAmount     string `json:"repayAmount"`
}

type accountParams struct {
	Address string `json:"address"`
}

type assetParams struct {
	Asset string `json:"asset"`
}

type collateralParams struct {
	User    string `json:"user"`
	Asset   string `json:"asset"`
	Enabled bool   `json:"enabled"`
}

type createMarketParams struct {
	Caller   string  `json:"caller"`
	Asset    string  `json:"asset"`
	BaseRate float64 `json:"baseRate"`
	Slope1   float64 `json:"slope1"`
	Slope2   float64 `json:"slope2"`
	Kink     float64 `json:"kink"`

	Risk riskParams `json:"risk"`

	BorrowCap         string `json:"borrowCap,omitempty"`
	UtilisationCapBps uint64 `json:"utilisationCapBps,omitempty"`
}

type riskParams struct {
	CollateralFactorBps     uint64 `json:"collateralFactorBps"`
	LiquidationThresholdBps uint64 `json:"liquidationThresholdBps"`
	LiquidationBonusBps     uint64 `json:"liquidationBonusBps"`
	CloseFactorBps          uint64 `json:"closeFactorBps"`
	ReserveFactorBps        uint64 `json:"reserveFactorBps"`
}

func (r riskParams) toRisk() lending.RiskParameters {
	return lending.RiskParameters{
		CollateralFactorBps:     r.CollateralFactorBps,
		LiquidationThresholdBps: r.LiquidationThresholdBps,
		LiquidationBonusBps:     r.LiquidationBonusBps,
		CloseFactorBps:          r.CloseFactorBps,
		ReserveFactorBps:        r.ReserveFactorBps,
	}
}

type setRiskParams struct {
	Caller string     `json:"caller"`
	Asset  string     `json:"asset"`
	Risk   riskParams `json:"risk"`
}

type withdrawFeesParams struct {
	Caller    string `json:"caller"`
	Asset     string `json:"asset"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

type listLiquidationsParams struct {
	Limit int `json:"limit,omitempty"`
}

type statusResult struct {
	Status string `json:"status"`
}

type repayResult struct {
	Repaid *big.Int `json:"repaid"`
}

type withdrawFeesResult struct {
	Withdrawn *big.Int `json:"withdrawn"`
}

type healthFactorResult struct {
	User         string   `json:"user"`
	HealthFactor *big.Int `json:"healthFactor"`
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return errParamCount
	}
	return json.Unmarshal(req.Params[0], out)
}

var errParamCount = &paramError{"expected a single parameter object"}

type paramError struct{ msg string }

func (e *paramError) Error() string { return e.msg }

func parseAmount(raw string) (*big.Int, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, false
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, false
	}
	return amount, true
}

func (s *Server) decodeAmountCall(w http.ResponseWriter, req *RPCRequest) (user, asset string, amount *big.Int, ok bool) {
	var params amountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return "", "", nil, false
	}
	user = strings.TrimSpace(params.User)
	if user == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "user required", nil)
		return "", "", nil, false
	}
	amount, valid := parseAmount(params.Amount)
	if !valid {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", params.Amount)
		return "", "", nil, false
	}
	return user, params.Asset, amount, true
}

func (s *Server) handleSupply(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	user, asset, amount, ok := s.decodeAmountCall(w, req)
	if !ok {
		return
	}
	if err := s.engine.Deposit(user, asset, amount); err != nil {
		s.writeEngineError(w, req.ID, req.Method, err)
		return
	}
	s.log.Info("supply accepted", "user", user, "asset", asset)
	writeResult(w, req.ID, statusResult{Status: "ok"})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	user, asset, amount, ok := s.decodeAmountCall(w, req)
	if !ok {
		return
	}
	if err := s.engine.Withdraw(user, asset, amount); err != nil {
		s.writeEngineError(w, req.ID, req.Method, err)
		return
	}
	writeResult(w, req.ID, statusResult{Status: "ok"})
}

func (s *Server) handleBorrow(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	user, asset, amount, ok := s.decodeAmountCall(w, req)
	if !ok {
		return
	}
	if err := s.engine.Borrow(user, asset, amount); err != nil {
		s.writeEngineError(w, req.ID, req.Method, err)
		return
	}
	writeResult(w, req.ID, statusResult{Status: "ok"})
}

func (s *Server) handleRepay(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	user, asset, amount, ok := s.decodeAmountCall(w, req)
	if !ok {
		return
	}
	repaid, err := s.engine.Repay(user, asset, amount)
	if err != nil {
		s.writeEngineError(w, req.ID, req.Method, err)
		return
	}
	writeResult(w, req.ID, repayResult{Repaid: repaid})
}

func (s *Server) handleLiquidate(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params liquidateParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	amount, ok := parseAmount(params.RepayAmount)
	if !ok {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid repay amount", params.RepayAmount)
		return
	}
	event, err := s.engine.Liquidate(params.Liquidator, params.Borrower, params.DebtAsset, params.CollateralAsset, amount)
	if err != nil {
		s.writeEngineError(w, req.ID, req.Method, err)
		return
	}
	s.metrics.RecordLiquidation(event.DebtAsset, event.CollateralAsset)
	s.log.Info("liquidation executed",
		"id", event.ID,
		"borrower", event.Borrower,
		"debtAsset", event.DebtAsset,
		"collateralAsset", event.CollateralAsset,
	)
	writeResult(w, req.ID, event)
}

func (s *Server) handleGetMarket(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params assetParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	data, err := s.engine.ReserveData(params.Asset)
	if err != nil {
		s.writeEngineError(w, req.ID, req.Method, err)
		return
	}
	s.metrics.RecordReserveRates(data.Asset, data.Utilisation, data.BorrowRate, data.SupplyRate)
	writeResult(w, req.ID, data)
}

func (s *Server) handleListMarkets(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	markets, err := s.engine.ListMarkets()
	if err != nil {
		s.writeEngineError(w, req.ID, req.Method, err)
		return
	}
	out := make([]*lending.ReserveData, 0, len(markets))
	for _, market := range markets {
		data, err := s.engine.ReserveData(market.Asset)
		if err != nil {
			s.writeEngineError(w, req.ID, req.Method, err)
			return
		}
		out = append(out, data)
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params accountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	data, err := s.engine.AccountData(params.Address)
	if err != nil {
		s.writeEngineError(w, req.ID, req.Method, err)
		return
	}
	writeResult(w, req.ID, data)
}

func (s *Server) handleGetHealthFactor(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params accountParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	hf, err := s.engine.HealthFactor(params.Address)
	if err != nil {
		s.writeEngineError(w, req.ID, req.Method, err)
		return
	}
	writeResult(w, req.ID, healthFactorResult{User: params.Address, HealthFactor: hf})
}

func (s *Server) handleSetCollateral(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params collateralParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	if err := s.engine.SetCollateralEnabled(params.User, params.Asset, params.Enabled); err != nil {
		s.writeEngineError(w, req.ID, req.Method, err)
		return
	}
	writeResult(w, req.ID, statusResult{Status: "ok"})
}

func (s *Server) handleListLiquidations(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params listLiquidationsParams
	if len(req.Params) == 1 {
		if err := json.Unmarshal(req.Params[0], &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
			return
		}
	} else if len(req.Params) > 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "too many parameters", nil)
		return
	}
	if s.events == nil {
		writeError(w, http.StatusNotImplemented, req.ID, codeServerError, "liquidation log not configured", nil)
		return
	}
	events, err := s.events.ListLiquidations(params.Limit)
	if err != nil {
		s.writeEngineError(w, req.ID, req.Method, err)
		return
	}
	writeResult(w, req.ID, events)
}

func (s *Server) handleCreateMarket(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.requireAuth(r) {
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "authentication required", nil)
		return
	}
	var params createMarketParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	caps := lending.BorrowCaps{UtilisationBps: params.UtilisationCapBps}
	if strings.TrimSpace(params.BorrowCap) != "" {
		total, ok := parseAmount(params.BorrowCap)
		if !ok {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid borrow cap", params.BorrowCap)
			return
		}
		caps.Total = total
	}
	model := lending.NewInterestModel(params.BaseRate, params.Slope1, params.Slope2, params.Kink)
	market, err := s.engine.CreateMarket(params.Caller, params.Asset, model, params.Risk.toRisk(), caps)
	if err != nil {
		s.writeEngineError(w, req.ID, req.Method, err)
		return
	}
	s.log.Info("market created", "asset", market.Asset)
	writeResult(w, req.ID, market)
}

func (s *Server) handleSetRiskParameters(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.requireAuth(r) {
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "authentication required", nil)
		return
	}
	var params setRiskParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	if err := s.engine.SetRiskParameters(params.Caller, params.Asset, params.Risk.toRisk()); err != nil {
		s.writeEngineError(w, req.ID, req.Method, err)
		return
	}
	writeResult(w, req.ID, statusResult{Status: "ok"})
}

func (s *Server) handleWithdrawFees(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.requireAuth(r) {
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "authentication required", nil)
		return
	}
	var params withdrawFeesParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	amount, ok := parseAmount(params.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", params.Amount)
		return
	}
	withdrawn, err := s.engine.WithdrawProtocolFees(params.Caller, params.Asset, params.Recipient, amount)
	if err != nil {
		s.writeEngineError(w, req.ID, req.Method, err)
		return
	}
	writeResult(w, req.ID, withdrawFeesResult{Withdrawn: withdrawn})
}
