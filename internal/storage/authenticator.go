package storage

import (
	"net/http"
	"strings"

	"github.com/atlas-fx/floor-engine/pkg/types"
)

// StaffOwner marks a broker account's owner as platform staff, exposed
// so WebSocket admin channels can authorise without a separate
// users/roles table.
const StaffOwner = "staff"

// TokenAuthenticator implements internal/realtime.Authenticator over a
// Store, resolving the bearer token in an incoming WebSocket upgrade
// request's Authorization header back to the broker account it
// belongs to.
type TokenAuthenticator struct {
	store Store
}

func NewTokenAuthenticator(store Store) *TokenAuthenticator {
	return &TokenAuthenticator{store: store}
}

// Authenticate extracts a bearer token from the Authorization header
// and resolves it to a BrokerAccount. staff is true when the account's
// owner matches StaffOwner, the only distinction admin channels need.
func (a *TokenAuthenticator) Authenticate(r *http.Request) (types.BrokerAccount, bool, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return types.BrokerAccount{}, false, false
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" {
		return types.BrokerAccount{}, false, false
	}

	account, ok, err := a.store.GetBrokerAccountByAPIToken(r.Context(), token)
	if err != nil || !ok {
		return types.BrokerAccount{}, false, false
	}
	return account, account.Owner == StaffOwner, true
}
