package substrate

import (
	"fmt"
	"math/big"

	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
)

// Storage locations read by the client
const (
	SystemModule = "System"
	AccountKey   = "Account"
)

// Account returns the System.Account entry for id. A missing entry is an
// empty account.
func (c *Client) Account(id types.AccountID) (*types.AccountInfo, error) {
	if err := c.checkConnected(); err != nil {
		return nil, err
	}

	key, err := types.CreateStorageKey(c.GetMetadata(), SystemModule, AccountKey, id[:])
	if err != nil {
		return nil, fmt.Errorf("creating storage key: %w", err)
	}

	var info types.AccountInfo
	ok, err := c.api.RPC.State.GetStorageLatest(key, &info)
	if err != nil {
		return nil, fmt.Errorf("querying account: %w", err)
	}
	if !ok {
		return &types.AccountInfo{}, nil
	}
	return &info, nil
}

// AccountNonce returns the next nonce for id
func (c *Client) AccountNonce(id types.AccountID) (uint64, error) {
	info, err := c.Account(id)
	if err != nil {
		return 0, err
	}
	return uint64(info.Nonce), nil
}

// FreeBalance returns the free balance of id in plancks
func (c *Client) FreeBalance(id types.AccountID) (*big.Int, error) {
	info, err := c.Account(id)
	if err != nil {
		return nil, err
	}
	return BalanceOf(info.Data.Free), nil
}

// BalanceOf converts a U128 that may be unset into a big.Int
func BalanceOf(v types.U128) *big.Int {
	if v.Int == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v.Int)
}
