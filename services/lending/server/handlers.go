package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"moneymarket/services/lending/api"
)

func (s *Server) listMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.engine.Markets(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.Markets{Markets: markets})
}

func (s *Server) getMarket(w http.ResponseWriter, r *http.Request) {
	market, err := s.engine.Market(r.Context(), chi.URLParam(r, "market"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, market)
}

func (s *Server) getRisk(w http.ResponseWriter, r *http.Request) {
	params, err := s.engine.RiskParams(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, params)
}

func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.engine.Accounts(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.Accounts{Accounts: accounts})
}

func (s *Server) getLiquidity(w http.ResponseWriter, r *http.Request) {
	liq, err := s.engine.Liquidity(r.Context(), chi.URLParam(r, "account"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, liq)
}

func (s *Server) getPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.engine.Positions(r.Context(), chi.URLParam(r, "account"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

func (s *Server) getFlashPool(w http.ResponseWriter, r *http.Request) {
	pool, err := s.engine.FlashPool(r.Context(), chi.URLParam(r, "asset"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

type amountFunc func(ctx context.Context, account, market, amount string) (api.OpResult, error)

func (s *Server) amountOp(op amountFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req api.AmountRequest
		if err := decodeJSON(r, &req); err != nil {
			s.fail(w, r, err)
			return
		}
		res, err := op(r.Context(), caller(r), chi.URLParam(r, "market"), req.Amount)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) repay(w http.ResponseWriter, r *http.Request) {
	var req api.AmountRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.engine.Repay(r.Context(), caller(r), req.Borrower, chi.URLParam(r, "market"), req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) transfer(w http.ResponseWriter, r *http.Request) {
	var req api.TransferRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.engine.Transfer(r.Context(), caller(r), chi.URLParam(r, "market"), req.To, req.Tokens)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) enterMarkets(w http.ResponseWriter, r *http.Request) {
	var req api.EnterMarketsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.engine.EnterMarkets(r.Context(), caller(r), req.Markets); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) exitMarket(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ExitMarket(r.Context(), caller(r), chi.URLParam(r, "market")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) liquidate(w http.ResponseWriter, r *http.Request) {
	var req api.LiquidateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.engine.Liquidate(r.Context(), caller(r), chi.URLParam(r, "market"), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) flashLiquidate(w http.ResponseWriter, r *http.Request) {
	var req api.FlashLiquidationRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.engine.FlashLiquidate(r.Context(), caller(r), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("flash liquidation settled",
		slog.String("account", caller(r)),
		slog.String("borrower", req.Borrower),
		slog.String("market", req.RepayMarket),
		slog.String("amount", res.Repaid))
	writeJSON(w, http.StatusOK, res)
}

type adminFunc func(ctx context.Context, caller, market, value string) error

func (s *Server) adminValue(op adminFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req api.ValueRequest
		if err := decodeJSON(r, &req); err != nil {
			s.fail(w, r, err)
			return
		}
		if err := op(r.Context(), caller(r), chi.URLParam(r, "market"), req.Value); err != nil {
			s.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) setPaused(w http.ResponseWriter, r *http.Request) {
	var req api.PauseRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.engine.SetActionPaused(r.Context(), caller(r), req); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fail writes err and logs failures the client cannot act on.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	wire, status := api.ToError(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		s.logger.Error("lending request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
	}
	writeJSON(w, status, wire)
}

func caller(r *http.Request) string {
	if p, ok := PrincipalFromContext(r.Context()); ok {
		return p.Account
	}
	return ""
}
