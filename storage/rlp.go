package storage

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

// GetRLP loads the value stored under key and decodes it into out. The
// boolean result is false when the key does not exist.
func GetRLP(db Database, key []byte, out interface{}) (bool, error) {
	if db == nil {
		return false, fmt.Errorf("storage: database not initialised")
	}
	raw, err := db.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(raw) == 0 {
		return false, nil
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("storage: decode %q: %w", key, err)
	}
	return true, nil
}

// PutRLP encodes value with RLP and stores it under key.
func PutRLP(db Database, key []byte, value interface{}) error {
	if db == nil {
		return fmt.Errorf("storage: database not initialised")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("storage: encode %q: %w", key, err)
	}
	return db.Put(key, encoded)
}
