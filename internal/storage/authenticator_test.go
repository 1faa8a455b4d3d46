package storage

import (
	"context"
	"net/http"
	"testing"

	"github.com/atlas-fx/floor-engine/pkg/types"
)

func TestTokenAuthenticatorResolvesValidBearerToken(t *testing.T) {
	store := NewMemoryStore()
	store.SaveBrokerAccount(context.Background(), types.BrokerAccount{ID: "acct-1", Owner: "user-1", APIToken: []byte("abc123"), IsActive: true})

	auth := NewTokenAuthenticator(store)
	r, _ := http.NewRequest("GET", "/ws/positions/acct-1/", nil)
	r.Header.Set("Authorization", "Bearer abc123")

	account, staff, ok := auth.Authenticate(r)
	if !ok {
		t.Fatalf("expected authentication to succeed")
	}
	if account.ID != "acct-1" {
		t.Fatalf("expected acct-1, got %s", account.ID)
	}
	if staff {
		t.Fatalf("expected non-staff account")
	}
}

func TestTokenAuthenticatorRecognisesStaffOwner(t *testing.T) {
	store := NewMemoryStore()
	store.SaveBrokerAccount(context.Background(), types.BrokerAccount{ID: "acct-2", Owner: StaffOwner, APIToken: []byte("staff-token"), IsActive: true})

	auth := NewTokenAuthenticator(store)
	r, _ := http.NewRequest("GET", "/ws/admin/dashboard/", nil)
	r.Header.Set("Authorization", "Bearer staff-token")

	_, staff, ok := auth.Authenticate(r)
	if !ok || !staff {
		t.Fatalf("expected staff authentication to succeed, got ok=%v staff=%v", ok, staff)
	}
}

func TestTokenAuthenticatorRejectsMissingHeader(t *testing.T) {
	store := NewMemoryStore()
	auth := NewTokenAuthenticator(store)
	r, _ := http.NewRequest("GET", "/ws/positions/acct-1/", nil)

	_, _, ok := auth.Authenticate(r)
	if ok {
		t.Fatalf("expected missing Authorization header to fail authentication")
	}
}

func TestTokenAuthenticatorRejectsUnknownToken(t *testing.T) {
	store := NewMemoryStore()
	auth := NewTokenAuthenticator(store)
	r, _ := http.NewRequest("GET", "/ws/positions/acct-1/", nil)
	r.Header.Set("Authorization", "Bearer unknown")

	_, _, ok := auth.Authenticate(r)
	if ok {
		t.Fatalf("expected unknown token to fail authentication")
	}
}
