package lending

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

const lendingPrefix = "lending"

func marketKey(market common.Address) []byte {
	return []byte(fmt.Sprintf("%s/market/%x", lendingPrefix, market.Bytes()))
}

func marketIndexKey() []byte {
	return []byte(lendingPrefix + "/market/index")
}

func riskKey(market common.Address) []byte {
	return []byte(fmt.Sprintf("%s/risk/%x", lendingPrefix, market.Bytes()))
}

func globalRiskKey() []byte {
	return []byte(lendingPrefix + "/global")
}

func supplyKey(market, account common.Address) []byte {
	return []byte(fmt.Sprintf("%s/supply/%x/%x", lendingPrefix, market.Bytes(), account.Bytes()))
}

func borrowKey(market, account common.Address) []byte {
	return []byte(fmt.Sprintf("%s/borrow/%x/%x", lendingPrefix, market.Bytes(), account.Bytes()))
}

func membershipKey(account common.Address) []byte {
	return []byte(fmt.Sprintf("%s/membership/%x", lendingPrefix, account.Bytes()))
}

func accountIndexKey() []byte {
	return []byte(lendingPrefix + "/account/index")
}

func accountSeenKey(account common.Address) []byte {
	return []byte(fmt.Sprintf("%s/account/seen/%x", lendingPrefix, account.Bytes()))
}
