package server

import (
	"encoding/json"
	"net/http"

	"github.com/ssd-technologies/keyledger/internal/registry"
)

// ownerRequest is the JSON body for PUT /api/admin/owner.
type ownerRequest struct {
	Owner string `json:"owner"`
}

// feeRequest is the JSON body for PUT /api/admin/fees/{param}.
type feeRequest struct {
	Value *uint64 `json:"value"`
}

// quoteRequest lists the byte lengths of the payload fields to be billed.
type quoteRequest struct {
	Sizes []int `json:"sizes"`
}

var feeParams = map[string]bool{
	registry.ParamBaseFee:            true,
	registry.ParamBytesFeeMultiplier: true,
	registry.ParamGrantFee:           true,
}

// handleGetFees handles GET /api/fees: current parameters and counters.
func (s *Server) handleGetFees(w http.ResponseWriter, r *http.Request) {
	cfg := s.reg.Config()
	writeJSON(w, http.StatusOK, map[string]any{
		"owner":                cfg.Owner,
		"base_fee":             cfg.BaseFee,
		"bytes_fee_multiplier": cfg.BytesFeeMultiplier,
		"grant_fee":            cfg.GrantFee,
		"balance":              s.reg.Balance(),
		"total_access_count":   s.reg.TotalAccessCount(),
		"sequence":             s.reg.Sequence(),
	})
}

// handleQuote handles POST /api/fees/quote: the creation fee for a payload of
// the given field sizes.
func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	cfg := s.reg.Config()
	fee, err := registry.RequiredCreationFee(cfg.BaseFee, cfg.BytesFeeMultiplier, req.Sizes...)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{
		"creation_fee": fee,
		"grant_fee":    cfg.RequiredGrantFee(),
	})
}

// handleSetOwner handles PUT /api/admin/owner.
func (s *Server) handleSetOwner(w http.ResponseWriter, r *http.Request) {
	caller, body, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	var req ownerRequest
	if !decodeBody(w, body, &req) {
		return
	}

	if err := s.reg.SetOwner(r.Context(), caller, registry.Identity(req.Owner)); err != nil {
		s.writeRegistryError(w, err)
		return
	}
	s.log.WithField("owner", req.Owner).Info("owner changed")
	writeJSON(w, http.StatusOK, map[string]string{"owner": req.Owner})
}

// handleSetFee handles PUT /api/admin/fees/{param}.
func (s *Server) handleSetFee(w http.ResponseWriter, r *http.Request) {
	param := r.PathValue("param")
	if !feeParams[param] {
		writeError(w, http.StatusNotFound, "unknown fee parameter")
		return
	}
	caller, body, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	var req feeRequest
	if !decodeBody(w, body, &req) {
		return
	}
	if req.Value == nil {
		writeError(w, http.StatusBadRequest, "value is required")
		return
	}

	if err := s.reg.SetParam(r.Context(), caller, param, *req.Value); err != nil {
		s.writeRegistryError(w, err)
		return
	}
	s.log.WithField(param, *req.Value).Info("fee parameter changed")
	writeJSON(w, http.StatusOK, map[string]uint64{param: *req.Value})
}

// handleWithdraw handles POST /api/admin/withdraw: sweep the balance to the
// owner.
func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	caller, _, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	amount, err := s.reg.WithdrawFees(r.Context(), caller)
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	addAmount(s.metrics.withdrawn, amount)
	s.log.WithField("amount", amount).Info("fees withdrawn")
	writeJSON(w, http.StatusOK, map[string]any{
		"recipient": caller,
		"amount":    amount,
	})
}

// handlePaidOut handles GET /api/payouts/{identity}.
func (s *Server) handlePaidOut(w http.ResponseWriter, r *http.Request) {
	id := registry.Identity(r.PathValue("identity"))
	if err := id.Validate(); err != nil {
		s.writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"identity": id,
		"paid_out": s.reg.PaidOut(id),
	})
}
