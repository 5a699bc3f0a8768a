package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/tutadeploy/smpp-server/internal/config"
	"github.com/tutadeploy/smpp-server/internal/database"
	"github.com/tutadeploy/smpp-server/internal/smpp"
	"github.com/tutadeploy/smpp-server/pkg/codes"
)

func testProviders() []database.Provider {
	return []database.Provider{
		{ProviderID: "alpha", Priority: 2},
		{ProviderID: "bravo", Priority: 1},
		{ProviderID: "charlie", Priority: 3},
	}
}

func TestPickActive(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		want       string
	}{
		{name: "configured id wins", configured: "charlie", want: "charlie"},
		{name: "unknown configured id falls back to priority", configured: "ghost", want: "bravo"},
		{name: "empty configured id uses lowest priority", configured: "", want: "bravo"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pickActive(testProviders(), tt.configured); got.ProviderID != tt.want {
				t.Errorf("pickActive = %s, want %s", got.ProviderID, tt.want)
			}
		})
	}
}

func TestConnectOrder(t *testing.T) {
	ordered := connectOrder(testProviders(), "charlie")
	var got []string
	for _, p := range ordered {
		got = append(got, p.ProviderID)
	}
	want := []string{"charlie", "bravo", "alpha"}
	if len(got) != len(want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func newRegistryWithSessions(ids ...string) *Registry {
	r := NewRegistry(nil, config.SMPPConfig{}, nil)
	for _, id := range ids {
		r.sessions.Set(id, smpp.NewSession(smpp.Config{ProviderID: id}))
	}
	return r
}

func TestSwitchActiveKeepsPreviousSession(t *testing.T) {
	r := newRegistryWithSessions("alpha", "bravo")
	r.activeID.Store("alpha")

	before, err := r.Session("alpha")
	if err != nil {
		t.Fatalf("Session(alpha): %v", err)
	}
	statusBefore := before.Status()

	if err := r.SwitchActive(context.Background(), "bravo"); err != nil {
		t.Fatalf("SwitchActive: %v", err)
	}
	if got := r.ActiveProviderID(); got != "bravo" {
		t.Errorf("active provider = %s, want bravo", got)
	}

	after, err := r.Session("alpha")
	if err != nil {
		t.Fatalf("Session(alpha) after switch: %v", err)
	}
	if after != before || after.Status() != statusBefore {
		t.Error("previously active session was disturbed by switch")
	}
}

func TestSwitchActiveUnknownProvider(t *testing.T) {
	r := newRegistryWithSessions("alpha")
	if err := r.SwitchActive(context.Background(), "ghost"); !errors.Is(err, ErrProviderUnknown) {
		t.Errorf("SwitchActive(ghost) = %v, want ErrProviderUnknown", err)
	}
}

func TestActiveProviderBeforeStart(t *testing.T) {
	r := NewRegistry(nil, config.SMPPConfig{}, nil)
	if _, err := r.ActiveProvider(); !errors.Is(err, ErrNoProviders) {
		t.Errorf("ActiveProvider = %v, want ErrNoProviders", err)
	}
}

func TestTestConnections(t *testing.T) {
	r := newRegistryWithSessions("alpha", "bravo")
	r.activeID.Store("bravo")

	states := r.TestConnections()
	if len(states) != 2 {
		t.Fatalf("states = %d, want 2", len(states))
	}
	for _, st := range states {
		if st.Status != codes.StatusDisconnected || st.Bound {
			t.Errorf("provider %s: status %s bound %v, want disconnected/unbound", st.ProviderID, st.Status, st.Bound)
		}
		if wantActive := st.ProviderID == "bravo"; st.Active != wantActive {
			t.Errorf("provider %s: active = %v, want %v", st.ProviderID, st.Active, wantActive)
		}
	}
}
