package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/tutadeploy/smpp-server/internal/config"
	"github.com/tutadeploy/smpp-server/internal/database"
	"github.com/tutadeploy/smpp-server/internal/logging"
	"github.com/tutadeploy/smpp-server/internal/smpp"
)

var (
	ErrNoProviders     = errors.New("no enabled providers configured")
	ErrProviderUnknown = errors.New("provider not registered")
)

// ConnectionState is one probe result from TestConnections.
type ConnectionState struct {
	ProviderID string
	Status     string
	Bound      bool
	Active     bool
}

// Registry owns the provider set and their sessions. Exactly one provider
// is the active default routing target; the others may stay bound for fast
// failover, so switching never tears a session down.
type Registry struct {
	q      database.Querier
	timing config.SMPPConfig

	sessions cmap.ConcurrentMap[string, *smpp.Session]
	activeID atomic.Value // provider id string

	handler smpp.DeliverHandler
}

func NewRegistry(q database.Querier, timing config.SMPPConfig, handler smpp.DeliverHandler) *Registry {
	r := &Registry{
		q:        q,
		timing:   timing,
		sessions: cmap.New[*smpp.Session](),
		handler:  handler,
	}
	r.activeID.Store("")
	return r
}

// Start loads the enabled providers and connects them: the active provider
// first, then the rest in ascending priority order. A non-active provider
// failing to connect is logged and left to its own reconnect cycle; the
// active provider failing is a startup error.
func (r *Registry) Start(ctx context.Context, activeProviderID string) error {
	providers, err := r.q.ListEnabledProviders(ctx)
	if err != nil {
		return fmt.Errorf("failed to load providers: %w", err)
	}
	if len(providers) == 0 {
		return ErrNoProviders
	}

	active := pickActive(providers, activeProviderID)
	ordered := connectOrder(providers, active.ProviderID)

	for _, p := range ordered {
		logCtx := logging.ContextWithProviderID(ctx, p.ProviderID)
		sess := smpp.NewSession(smpp.Config{
			ProviderID: p.ProviderID,
			Host:       p.Host,
			Port:       int(p.Port),
			SystemID:   p.SystemID,
			Password:   p.Password,
			SystemType: p.SystemType,
			Timing:     r.timing,
		})
		if r.handler != nil {
			sess.RegisterDeliverHandler(r.handler)
		}
		r.sessions.Set(p.ProviderID, sess)

		if err := sess.Start(logCtx); err != nil {
			if p.ProviderID == active.ProviderID {
				return fmt.Errorf("active provider %s failed to connect: %w", p.ProviderID, err)
			}
			slog.WarnContext(logCtx, "Non-active provider failed to connect, will keep retrying",
				slog.Any("error", err))
			continue
		}
	}

	r.activeID.Store(active.ProviderID)
	slog.InfoContext(ctx, "Provider registry started",
		slog.String("active_provider", active.ProviderID),
		slog.Int("providers", len(ordered)))
	return nil
}

// Stop closes every session.
func (r *Registry) Stop(ctx context.Context) {
	for item := range r.sessions.IterBuffered() {
		item.Val.Stop(ctx)
	}
}

// pickActive resolves the startup routing target: the configured id when
// it names an enabled provider, otherwise the lowest priority value.
func pickActive(providers []database.Provider, configuredID string) database.Provider {
	if configuredID != "" {
		for _, p := range providers {
			if p.ProviderID == configuredID {
				return p
			}
		}
	}
	best := providers[0]
	for _, p := range providers[1:] {
		if p.Priority < best.Priority {
			best = p
		}
	}
	return best
}

// connectOrder puts the active provider first and the remainder in
// ascending priority order.
func connectOrder(providers []database.Provider, activeID string) []database.Provider {
	rest := make([]database.Provider, 0, len(providers))
	var ordered []database.Provider
	for _, p := range providers {
		if p.ProviderID == activeID {
			ordered = append(ordered, p)
			continue
		}
		rest = append(rest, p)
	}
	sort.SliceStable(rest, func(i, j int) bool { return rest[i].Priority < rest[j].Priority })
	return append(ordered, rest...)
}

// ActiveProvider returns the session behind the current default routing
// target.
func (r *Registry) ActiveProvider() (*smpp.Session, error) {
	id := r.activeID.Load().(string)
	if id == "" {
		return nil, ErrNoProviders
	}
	sess, ok := r.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("active provider %s: %w", id, ErrProviderUnknown)
	}
	return sess, nil
}

// ActiveProviderID returns the current default routing target's id.
func (r *Registry) ActiveProviderID() string {
	return r.activeID.Load().(string)
}

// SwitchActive changes the default routing target. The previously active
// session is left untouched.
func (r *Registry) SwitchActive(ctx context.Context, providerID string) error {
	if _, ok := r.sessions.Get(providerID); !ok {
		return fmt.Errorf("provider %s: %w", providerID, ErrProviderUnknown)
	}
	previous := r.activeID.Swap(providerID)
	slog.InfoContext(logging.ContextWithProviderID(ctx, providerID),
		"Active provider switched", slog.Any("previous", previous))
	return nil
}

// Session returns the session for a specific provider.
func (r *Registry) Session(providerID string) (*smpp.Session, error) {
	sess, ok := r.sessions.Get(providerID)
	if !ok {
		return nil, fmt.Errorf("provider %s: %w", providerID, ErrProviderUnknown)
	}
	return sess, nil
}

// TestConnections reports the bind state of every session without sending
// any business traffic.
func (r *Registry) TestConnections() []ConnectionState {
	activeID := r.ActiveProviderID()
	states := make([]ConnectionState, 0, r.sessions.Count())
	for item := range r.sessions.IterBuffered() {
		states = append(states, ConnectionState{
			ProviderID: item.Key,
			Status:     item.Val.Status(),
			Bound:      item.Val.Bound(),
			Active:     item.Key == activeID,
		})
	}
	sort.Slice(states, func(i, j int) bool { return states[i].ProviderID < states[j].ProviderID })
	return states
}
