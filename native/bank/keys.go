package bank

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

const bankPrefix = "bank"

func balanceKey(asset, account common.Address) []byte {
	return []byte(fmt.Sprintf("%s/balance/%x/%x", bankPrefix, asset.Bytes(), account.Bytes()))
}

func supplyKey(asset common.Address) []byte {
	return []byte(fmt.Sprintf("%s/supply/%x", bankPrefix, asset.Bytes()))
}
