package lending

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"moneymarket/storage"
)

// store is the typed view of the lending records inside a transaction.
type store struct {
	db storage.Database
}

func (s store) market(addr common.Address) (*MarketState, bool, error) {
	var state MarketState
	ok, err := storage.GetRLP(s.db, marketKey(addr), &state)
	if err != nil {
		return nil, false, fmt.Errorf("lending: load market: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	state.ensureDefaults()
	return &state, true, nil
}

func (s store) putMarket(state *MarketState) error {
	if err := storage.PutRLP(s.db, marketKey(state.Address), state); err != nil {
		return fmt.Errorf("lending: persist market: %w", err)
	}
	return nil
}

func (s store) marketIndex() ([]common.Address, error) {
	var markets []common.Address
	if _, err := storage.GetRLP(s.db, marketIndexKey(), &markets); err != nil {
		return nil, fmt.Errorf("lending: load market index: %w", err)
	}
	return markets, nil
}

func (s store) putMarketIndex(markets []common.Address) error {
	if err := storage.PutRLP(s.db, marketIndexKey(), markets); err != nil {
		return fmt.Errorf("lending: persist market index: %w", err)
	}
	return nil
}

func (s store) risk(market common.Address) (MarketRisk, error) {
	var risk MarketRisk
	if _, err := storage.GetRLP(s.db, riskKey(market), &risk); err != nil {
		return MarketRisk{}, fmt.Errorf("lending: load market risk: %w", err)
	}
	if risk.CollateralFactor == nil {
		risk.CollateralFactor = zero()
	}
	if risk.BorrowCap == nil {
		risk.BorrowCap = zero()
	}
	return risk, nil
}

func (s store) putRisk(market common.Address, risk MarketRisk) error {
	if err := storage.PutRLP(s.db, riskKey(market), risk); err != nil {
		return fmt.Errorf("lending: persist market risk: %w", err)
	}
	return nil
}

func (s store) global() (GlobalRiskParams, error) {
	var params GlobalRiskParams
	if _, err := storage.GetRLP(s.db, globalRiskKey(), &params); err != nil {
		return GlobalRiskParams{}, fmt.Errorf("lending: load risk params: %w", err)
	}
	params.ensureDefaults()
	return params, nil
}

func (s store) putGlobal(params GlobalRiskParams) error {
	if err := storage.PutRLP(s.db, globalRiskKey(), params); err != nil {
		return fmt.Errorf("lending: persist risk params: %w", err)
	}
	return nil
}

func (s store) tokens(market, account common.Address) (*uint256.Int, error) {
	balance := new(uint256.Int)
	if _, err := storage.GetRLP(s.db, supplyKey(market, account), balance); err != nil {
		return nil, fmt.Errorf("lending: load token balance: %w", err)
	}
	return balance, nil
}

func (s store) putTokens(market, account common.Address, balance *uint256.Int) error {
	if balance.IsZero() {
		return s.db.Delete(supplyKey(market, account))
	}
	if err := storage.PutRLP(s.db, supplyKey(market, account), balance); err != nil {
		return fmt.Errorf("lending: persist token balance: %w", err)
	}
	return nil
}

func (s store) borrow(market, account common.Address) (BorrowSnapshot, error) {
	var snapshot BorrowSnapshot
	if _, err := storage.GetRLP(s.db, borrowKey(market, account), &snapshot); err != nil {
		return BorrowSnapshot{}, fmt.Errorf("lending: load borrow snapshot: %w", err)
	}
	if snapshot.Principal == nil {
		snapshot.Principal = zero()
	}
	if snapshot.InterestIndex == nil {
		snapshot.InterestIndex = zero()
	}
	return snapshot, nil
}

func (s store) putBorrow(market, account common.Address, snapshot BorrowSnapshot) error {
	if snapshot.Principal == nil || snapshot.Principal.IsZero() {
		return s.db.Delete(borrowKey(market, account))
	}
	if err := storage.PutRLP(s.db, borrowKey(market, account), snapshot); err != nil {
		return fmt.Errorf("lending: persist borrow snapshot: %w", err)
	}
	return nil
}

func (s store) membership(account common.Address) ([]common.Address, error) {
	var markets []common.Address
	if _, err := storage.GetRLP(s.db, membershipKey(account), &markets); err != nil {
		return nil, fmt.Errorf("lending: load membership: %w", err)
	}
	return markets, nil
}

func (s store) putMembership(account common.Address, markets []common.Address) error {
	if len(markets) == 0 {
		return s.db.Delete(membershipKey(account))
	}
	if err := storage.PutRLP(s.db, membershipKey(account), markets); err != nil {
		return fmt.Errorf("lending: persist membership: %w", err)
	}
	return nil
}

func (s store) accounts() ([]common.Address, error) {
	var accounts []common.Address
	if _, err := storage.GetRLP(s.db, accountIndexKey(), &accounts); err != nil {
		return nil, fmt.Errorf("lending: load account index: %w", err)
	}
	return accounts, nil
}

// trackAccount appends account to the account index the first time it holds
// a position.
func (s store) trackAccount(account common.Address) error {
	seen, err := s.db.Has(accountSeenKey(account))
	if err != nil {
		return fmt.Errorf("lending: load account index: %w", err)
	}
	if seen {
		return nil
	}
	accounts, err := s.accounts()
	if err != nil {
		return err
	}
	accounts = append(accounts, account)
	if err := storage.PutRLP(s.db, accountIndexKey(), accounts); err != nil {
		return fmt.Errorf("lending: persist account index: %w", err)
	}
	return s.db.Put(accountSeenKey(account), []byte{1})
}
