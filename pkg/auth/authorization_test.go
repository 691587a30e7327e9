package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/formation/pkg/types"
)

type fakeAccounts map[string]*types.Account

func (f fakeAccounts) GetAccount(address string) (*types.Account, error) {
	acct, ok := f[address]
	if !ok {
		return nil, assert.AnError
	}
	return acct, nil
}

func TestAuthorizeOwnerAlwaysSucceeds(t *testing.T) {
	owner := types.NewAccount("0xowner")
	accounts := fakeAccounts{"0xowner": owner}

	err := Authorize(accounts, Address("0xowner"), "0xowner", "i1", types.AuthLevelOwner)
	assert.NoError(t, err)
}

func TestAuthorizeInsufficientLevelRejected(t *testing.T) {
	owner := types.NewAccount("0xowner")
	owner.AuthorizedInstances["i1"] = types.AuthLevelReadOnly
	accounts := fakeAccounts{"0xowner": owner}

	err := Authorize(accounts, Address("0xoperator"), "0xowner", "i1", types.AuthLevelOperator)
	assert.Error(t, err)
}

func TestAuthorizeGrantedLevelSucceeds(t *testing.T) {
	owner := types.NewAccount("0xowner")
	owner.AuthorizedInstances["i1"] = types.AuthLevelManager
	accounts := fakeAccounts{"0xowner": owner}

	err := Authorize(accounts, Address("0xmanager"), "0xowner", "i1", types.AuthLevelManager)
	assert.NoError(t, err)
}

func TestAuthorizeUnknownOwnerAccount(t *testing.T) {
	accounts := fakeAccounts{}
	err := Authorize(accounts, Address("0xwhoever"), "0xghost", "i1", types.AuthLevelReadOnly)
	assert.Error(t, err)
}
