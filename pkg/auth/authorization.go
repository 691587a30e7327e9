package auth

import (
	"github.com/cuemby/formation/pkg/apierr"
	"github.com/cuemby/formation/pkg/types"
)

// AccountLookup resolves an account by address; satisfied by *state.Store.
type AccountLookup interface {
	GetAccount(address string) (*types.Account, error)
}

// Authorize enforces the per-instance authorization model of the design:
// the principal's level on instanceID must be >= required.
func Authorize(accounts AccountLookup, principal Address, ownerAddr, instanceID string, required types.AuthLevel) error {
	account, err := accounts.GetAccount(ownerAddr)
	if err != nil {
		return apierr.New(apierr.KindNotFound, "owning account not found")
	}
	level := account.AuthLevelFor(instanceID)
	if string(principal) == ownerAddr {
		level = types.AuthLevelOwner
	}
	if level < required {
		return apierr.New(apierr.KindAuthorization, "insufficient instance permission")
	}
	return nil
}
