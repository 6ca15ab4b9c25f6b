package lending

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	EventAccrueInterest    = "lending.accrue_interest"
	EventMint              = "lending.mint"
	EventRedeem            = "lending.redeem"
	EventBorrow            = "lending.borrow"
	EventRepayBorrow       = "lending.repay_borrow"
	EventLiquidateBorrow   = "lending.liquidate_borrow"
	EventSeize             = "lending.seize"
	EventTransfer          = "lending.transfer"
	EventReservesAdded     = "lending.reserves_added"
	EventReservesReduced   = "lending.reserves_reduced"
	EventMarketListed      = "lending.market_listed"
	EventMarketEntered     = "lending.market_entered"
	EventMarketExited      = "lending.market_exited"
	EventRiskParamsUpdated = "lending.risk_params_updated"
	EventActionPaused      = "lending.action_paused"
)

// Event represents a typed event emitted during a ledger transaction. Events
// are only published once the outermost transaction commits.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

type eventBuilder struct {
	event Event
}

func newEvent(eventType string, market common.Address) *eventBuilder {
	b := &eventBuilder{event: Event{Type: eventType, Attributes: map[string]string{}}}
	if market != (common.Address{}) {
		b.event.Attributes["market"] = market.Hex()
	}
	return b
}

func (b *eventBuilder) addr(key string, value common.Address) *eventBuilder {
	b.event.Attributes[key] = value.Hex()
	return b
}

func (b *eventBuilder) amount(key string, value *uint256.Int) *eventBuilder {
	if value != nil {
		b.event.Attributes[key] = value.Dec()
	}
	return b
}

func (b *eventBuilder) str(key, value string) *eventBuilder {
	if value != "" {
		b.event.Attributes[key] = value
	}
	return b
}
