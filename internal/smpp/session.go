package smpp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linxGnu/gosmpp"
	"github.com/linxGnu/gosmpp/data"
	"github.com/linxGnu/gosmpp/pdu"

	"github.com/tutadeploy/smpp-server/internal/config"
	"github.com/tutadeploy/smpp-server/internal/logging"
	"github.com/tutadeploy/smpp-server/pkg/codes"
)

// Config identifies one provider connection. Timing knobs are shared
// application-level defaults.
type Config struct {
	ProviderID string
	Host       string
	Port       int
	SystemID   string
	Password   string
	SystemType string

	Timing config.SMPPConfig
}

func (c Config) smscAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DeliverHandler receives the text payload and sequence number of every
// inbound deliver_sm. The session acks the PDU no matter what the handler
// does with it, so handlers must not assume failure suppresses redelivery.
type DeliverHandler func(ctx context.Context, providerID, payload string, seq int32)

// SubmitRequest is one message toward one destination.
type SubmitRequest struct {
	PhoneNumber  string
	Content      string
	SenderID     string
	ScheduleTime *time.Time
}

type sessionEvent int

const (
	evConnectionLost sessionEvent = iota
	evServerUnbind
	evHeartbeatStale
)

func (e sessionEvent) String() string {
	switch e {
	case evConnectionLost:
		return "connection_lost"
	case evServerUnbind:
		return "server_unbind"
	case evHeartbeatStale:
		return "heartbeat_stale"
	}
	return "unknown"
}

type pduOutcome struct {
	resp pdu.PDU
	err  error
}

// Session owns one SMPP transceiver bind to one provider. All state
// transitions happen on the run goroutine; Submit and QueryStatus are safe
// to call from any goroutine while the session is bound.
type Session struct {
	cfg Config

	connMu  sync.Mutex
	session *gosmpp.Session

	status       atomic.Value // connection status string
	serverUnbind atomic.Bool
	lastResponse atomic.Int64 // unix nano of the last PDU heard from the provider

	pending sync.Map // int32 sequence number -> chan pduOutcome

	handlerMu  sync.RWMutex
	dlrHandler DeliverHandler

	events chan sessionEvent
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewSession(cfg Config) *Session {
	s := &Session{
		cfg:    cfg,
		events: make(chan sessionEvent, 4),
		stopCh: make(chan struct{}),
	}
	s.status.Store(codes.StatusDisconnected)
	return s
}

func (s *Session) ProviderID() string { return s.cfg.ProviderID }

// Status returns the current connection status string.
func (s *Session) Status() string {
	return s.status.Load().(string)
}

// Bound reports whether the session currently holds a usable bind.
func (s *Session) Bound() bool {
	return s.Status() == codes.StatusBound
}

// LastResponseAt returns when the provider was last heard from.
func (s *Session) LastResponseAt() time.Time {
	return time.Unix(0, s.lastResponse.Load())
}

// RegisterDeliverHandler sets the callback for inbound deliver_sm payloads.
func (s *Session) RegisterDeliverHandler(h DeliverHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.dlrHandler = h
}

// Start connects and binds, then hands the session to its run goroutine.
// A rejected bind is fatal and returned without starting the reconnect
// cycle. Any other connect failure is returned too, but the run goroutine
// still starts and keeps retrying in the background, so a provider that is
// down at startup comes back on its own.
func (s *Session) Start(ctx context.Context) error {
	logCtx := logging.ContextWithProviderID(ctx, s.cfg.ProviderID)

	err := s.connect(logCtx)
	if err != nil {
		if errors.Is(err, ErrBindRejected) {
			return err
		}
		slog.WarnContext(logCtx, "Initial SMPP connect failed, entering reconnect cycle",
			slog.Any("error", err))
		s.notify(evConnectionLost)
	}

	s.wg.Add(1)
	go s.run(logCtx)
	return err
}

// Stop unbinds and waits for the run goroutine to exit.
func (s *Session) Stop(ctx context.Context) {
	close(s.stopCh)
	s.wg.Wait()
	slog.InfoContext(logging.ContextWithProviderID(ctx, s.cfg.ProviderID), "SMPP session stopped")
}

func (s *Session) connect(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	s.status.Store(codes.StatusConnecting)
	slog.InfoContext(ctx, "Connecting SMPP session",
		slog.String("smsc", s.cfg.smscAddr()),
		slog.String("system_id", s.cfg.SystemID))

	auth := gosmpp.Auth{
		SMSC:       s.cfg.smscAddr(),
		SystemID:   s.cfg.SystemID,
		Password:   s.cfg.Password,
		SystemType: s.cfg.SystemType,
	}

	settings := gosmpp.Settings{
		EnquireLink:  s.cfg.Timing.EnquireLinkInterval,
		ReadTimeout:  s.cfg.Timing.RequestTimeout + 5*time.Second,
		WriteTimeout: s.cfg.Timing.RequestTimeout,

		WindowedRequestTracking: &gosmpp.WindowedRequestTracking{
			MaxWindowSize:         uint8(s.cfg.Timing.MaxWindowSize),
			PduExpireTimeOut:      s.cfg.Timing.RequestTimeout,
			ExpireCheckTimer:      5 * time.Second,
			EnableAutoRespond:     false,
			OnReceivedPduRequest:  s.onReceivedPduRequest,
			OnExpectedPduResponse: s.onExpectedPduResponse,
			OnExpiredPduRequest:   s.onExpiredPduRequest,
			OnClosePduRequest:     s.onClosePduRequest,
		},

		OnReceivingError: func(err error) {
			slog.ErrorContext(ctx, "SMPP receive error", slog.Any("error", err))
		},
		OnRebindingError: func(err error) {
			slog.ErrorContext(ctx, "SMPP rebind error", slog.Any("error", err))
		},
		OnClosed: func(state gosmpp.State) {
			s.onClosed(ctx, state)
		},
	}

	s.status.Store(codes.StatusBinding)
	sess, err := gosmpp.NewSession(
		gosmpp.TRXConnector(gosmpp.NonTLSDialer, auth),
		settings,
		s.cfg.Timing.ConnectTimeout,
	)
	if err != nil {
		err = classifyConnectError(err)
		if errors.Is(err, ErrBindRejected) {
			s.status.Store(codes.StatusBindingFailed)
		} else {
			s.status.Store(codes.StatusDisconnected)
		}
		slog.ErrorContext(ctx, "SMPP connect failed", slog.Any("error", err))
		return err
	}

	s.session = sess
	s.serverUnbind.Store(false)
	s.lastResponse.Store(time.Now().UnixNano())
	s.status.Store(codes.StatusBound)
	slog.InfoContext(ctx, "SMPP session bound", slog.String("smsc", s.cfg.smscAddr()))
	return nil
}

func (s *Session) closeSession(ctx context.Context) {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.session == nil {
		s.status.Store(codes.StatusDisconnected)
		return
	}

	s.status.Store(codes.StatusUnbinding)
	if err := s.session.Close(); err != nil {
		slog.WarnContext(ctx, "Error closing SMPP session", slog.Any("error", err))
	}
	s.session = nil
	s.status.Store(codes.StatusDisconnected)
}

// run owns every state transition after the initial bind: heartbeat
// staleness checks, reconnects and shutdown all happen here.
func (s *Session) run(ctx context.Context) {
	defer s.wg.Done()

	checkEvery := s.cfg.Timing.EnquireLinkGrace
	if checkEvery <= 0 {
		checkEvery = 5 * time.Second
	}
	ticker := time.NewTicker(checkEvery)
	defer ticker.Stop()

	staleAfter := s.cfg.Timing.EnquireLinkInterval + s.cfg.Timing.EnquireLinkGrace

	for {
		select {
		case <-s.stopCh:
			s.closeSession(ctx)
			return

		case ev := <-s.events:
			if ev == evConnectionLost && s.serverUnbind.Load() {
				// The unbind event already scheduled this reconnect.
				continue
			}
			slog.WarnContext(ctx, "SMPP session lost", slog.String("reason", ev.String()))
			if !s.reconnect(ctx) {
				return
			}

		case <-ticker.C:
			if !s.Bound() {
				continue
			}
			if time.Since(s.LastResponseAt()) > staleAfter {
				slog.WarnContext(ctx, "SMPP heartbeat stale, forcing reconnect",
					slog.Time("last_response", s.LastResponseAt()))
				if !s.reconnect(ctx) {
					return
				}
			}
		}
	}
}

// reconnect tears down the current bind and retries until it succeeds, the
// attempt budget runs out, the bind is rejected or the session is stopped.
// It returns false when the run goroutine should exit.
func (s *Session) reconnect(ctx context.Context) bool {
	s.closeSession(ctx)
	s.failPending(&ConnectionError{Op: "reconnect", Err: errors.New("session closed")})

	for attempt := 1; ; attempt++ {
		if s.cfg.Timing.MaxReconnectAttempts > 0 && attempt > s.cfg.Timing.MaxReconnectAttempts {
			slog.ErrorContext(ctx, "SMPP reconnect attempts exhausted",
				slog.Int("attempts", s.cfg.Timing.MaxReconnectAttempts))
			s.status.Store(codes.StatusError)
			return false
		}

		delay := reconnectDelay(s.cfg.Timing, attempt)
		slog.InfoContext(ctx, "Scheduling SMPP reconnect",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay))

		select {
		case <-s.stopCh:
			return false
		case <-time.After(delay):
		}

		err := s.connect(ctx)
		if err == nil {
			s.drainEvents()
			return true
		}
		if errors.Is(err, ErrBindRejected) {
			slog.ErrorContext(ctx, "SMPP bind rejected during reconnect, stopping session",
				slog.Any("error", err))
			return false
		}
		slog.WarnContext(ctx, "SMPP reconnect attempt failed",
			slog.Int("attempt", attempt),
			slog.Any("error", err))
	}
}

// drainEvents discards failure events queued while the session was already
// reconnecting, so one outage triggers one cycle.
func (s *Session) drainEvents() {
	for {
		select {
		case <-s.events:
		default:
			return
		}
	}
}

func (s *Session) notify(ev sessionEvent) {
	select {
	case s.events <- ev:
	default:
	}
}

// failPending resolves every in-flight request with err.
func (s *Session) failPending(err error) {
	s.pending.Range(func(key, value interface{}) bool {
		s.pending.Delete(key)
		ch := value.(chan pduOutcome)
		select {
		case ch <- pduOutcome{err: err}:
		default:
		}
		return true
	})
}

// reconnectDelay computes the wait before reconnect attempt n (1-based):
// fixed, or doubling from ReconnectDelay capped at ReconnectMaxDelay.
func reconnectDelay(t config.SMPPConfig, attempt int) time.Duration {
	if !t.ReconnectExponential {
		return t.ReconnectDelay
	}
	delay := t.ReconnectDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= t.ReconnectMaxDelay {
			return t.ReconnectMaxDelay
		}
	}
	if delay > t.ReconnectMaxDelay {
		return t.ReconnectMaxDelay
	}
	return delay
}

// classifyConnectError separates a provider-side bind refusal, which is
// fatal, from transport failures, which reconnect.
func classifyConnectError(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(strings.ToLower(err.Error()), "bind") {
		return fmt.Errorf("%w: %v", ErrBindRejected, err)
	}
	return &ConnectionError{Op: "connect", Err: err}
}

// =============================================================================
// Submission
// =============================================================================

// Submit sends one submit_sm and blocks until the matching response
// arrives, the request times out or ctx is done. On acceptance it returns
// the provider-assigned message id.
func (s *Session) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	logCtx := logging.ContextWithProviderID(ctx, s.cfg.ProviderID)
	logCtx = logging.ContextWithPhoneNumber(logCtx, req.PhoneNumber)

	s.connMu.Lock()
	sess := s.session
	s.connMu.Unlock()
	if sess == nil || !s.Bound() {
		return "", fmt.Errorf("%w (status %s)", ErrNotBound, s.Status())
	}

	p, err := s.buildSubmitSM(req)
	if err != nil {
		return "", err
	}

	seq := p.GetSequenceNumber()
	outcome := make(chan pduOutcome, 1)
	s.pending.Store(seq, outcome)

	if err := sess.Transceiver().Submit(p); err != nil {
		s.pending.Delete(seq)
		if errors.Is(err, gosmpp.ErrWindowsFull) {
			return "", fmt.Errorf("%s: %w", codes.ErrorCodeWindowFull, err)
		}
		return "", &ConnectionError{Op: "submit", Err: err}
	}
	slog.DebugContext(logCtx, "submit_sm sent", slog.Int("seq", int(seq)))

	select {
	case out := <-outcome:
		if out.err != nil {
			return "", out.err
		}
		resp, ok := out.resp.(*pdu.SubmitSMResp)
		if !ok {
			return "", &ConnectionError{Op: "submit", Err: fmt.Errorf("unexpected response %T", out.resp)}
		}
		if resp.CommandStatus != data.ESME_ROK {
			return "", &SubmitError{Status: uint32(resp.CommandStatus)}
		}
		return resp.MessageID, nil

	case <-time.After(s.cfg.Timing.RequestTimeout):
		s.pending.Delete(seq)
		return "", &SubmitError{Timeout: true}

	case <-ctx.Done():
		s.pending.Delete(seq)
		return "", ctx.Err()

	case <-s.stopCh:
		s.pending.Delete(seq)
		return "", &ConnectionError{Op: "submit", Err: errors.New("session stopping")}
	}
}

func (s *Session) buildSubmitSM(req SubmitRequest) (*pdu.SubmitSM, error) {
	p := pdu.NewSubmitSM().(*pdu.SubmitSM)

	src, err := sourceAddress(req.SenderID)
	if err != nil {
		return nil, err
	}
	p.SourceAddr = src

	dst, err := destAddress(req.PhoneNumber)
	if err != nil {
		return nil, err
	}
	p.DestAddr = dst

	// Content goes out as raw bytes; the provider is expected to take the
	// payload untranslated.
	if err := p.Message.SetMessageDataWithEncoding([]byte(req.Content), data.GSM7BIT); err != nil {
		return nil, fmt.Errorf("failed to set message payload: %w", err)
	}

	p.ProtocolID = 0
	p.RegisteredDelivery = 1
	p.ReplaceIfPresentFlag = 0
	p.EsmClass = 0
	if req.ScheduleTime != nil {
		p.ScheduleDeliveryTime = formatScheduleTime(*req.ScheduleTime)
	}
	return p, nil
}

// =============================================================================
// Status query
// =============================================================================

// messageStateToCanonical follows the SMPP v3.4 message_state values
// reported by query_sm_resp.
func messageStateToCanonical(state byte) string {
	switch state {
	case 2:
		return codes.MsgStatusDelivered
	case 3:
		return codes.MsgStatusExpired
	case 8, 9:
		return codes.MsgStatusFailed
	default:
		return codes.MsgStatusPending
	}
}

// QueryStatus asks the provider for the current state of a previously
// submitted message and maps it onto the canonical status set.
func (s *Session) QueryStatus(ctx context.Context, providerMessageID, senderID string) (string, error) {
	logCtx := logging.ContextWithProviderMsgID(ctx, providerMessageID)

	s.connMu.Lock()
	sess := s.session
	s.connMu.Unlock()
	if sess == nil || !s.Bound() {
		return "", fmt.Errorf("%w (status %s)", ErrNotBound, s.Status())
	}

	p := pdu.NewQuerySM().(*pdu.QuerySM)
	p.MessageID = providerMessageID
	src, err := sourceAddress(senderID)
	if err != nil {
		return "", err
	}
	p.SourceAddr = src

	seq := p.GetSequenceNumber()
	outcome := make(chan pduOutcome, 1)
	s.pending.Store(seq, outcome)

	if err := sess.Transceiver().Submit(p); err != nil {
		s.pending.Delete(seq)
		return "", &ConnectionError{Op: "query", Err: err}
	}
	slog.DebugContext(logCtx, "query_sm sent", slog.Int("seq", int(seq)))

	select {
	case out := <-outcome:
		if out.err != nil {
			return "", out.err
		}
		resp, ok := out.resp.(*pdu.QuerySMResp)
		if !ok {
			return "", &ConnectionError{Op: "query", Err: fmt.Errorf("unexpected response %T", out.resp)}
		}
		if resp.CommandStatus != data.ESME_ROK {
			return "", &SubmitError{Status: uint32(resp.CommandStatus)}
		}
		return messageStateToCanonical(resp.MessageState), nil

	case <-time.After(s.cfg.Timing.RequestTimeout):
		s.pending.Delete(seq)
		return "", &SubmitError{Timeout: true}

	case <-ctx.Done():
		s.pending.Delete(seq)
		return "", ctx.Err()
	}
}

// =============================================================================
// gosmpp callbacks
// =============================================================================

func (s *Session) onReceivedPduRequest(p pdu.PDU) (pdu.PDU, bool) {
	ctx := logging.ContextWithProviderID(context.Background(), s.cfg.ProviderID)
	s.lastResponse.Store(time.Now().UnixNano())

	switch pd := p.(type) {
	case *pdu.DeliverSM:
		s.forwardDeliverSM(ctx, pd)
		// Ack unconditionally. A failed or panicking handler upstairs must
		// never cause provider-side redelivery storms.
		return pd.GetResponse(), false

	case *pdu.EnquireLink:
		return pd.GetResponse(), false

	case *pdu.Unbind:
		slog.InfoContext(ctx, "Provider requested unbind")
		s.serverUnbind.Store(true)
		s.notify(evServerUnbind)
		return pd.GetResponse(), false

	case *pdu.AlertNotification:
		return nil, false

	default:
		slog.WarnContext(ctx, "Unexpected PDU from provider",
			slog.String("command", p.GetHeader().CommandID.String()))
		return nil, false
	}
}

func (s *Session) forwardDeliverSM(ctx context.Context, pd *pdu.DeliverSM) {
	s.handlerMu.RLock()
	handler := s.dlrHandler
	s.handlerMu.RUnlock()

	seq := pd.GetSequenceNumber()
	logCtx := logging.ContextWithSeqNumber(ctx, seq)

	if handler == nil {
		slog.WarnContext(logCtx, "deliver_sm received with no handler registered")
		return
	}

	payload, err := pd.Message.GetMessage()
	if err != nil {
		slog.WarnContext(logCtx, "Failed to decode deliver_sm payload", slog.Any("error", err))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(logCtx, "Deliver handler panicked", slog.Any("panic", r))
		}
	}()
	handler(logCtx, s.cfg.ProviderID, payload, seq)
}

func (s *Session) onExpectedPduResponse(response gosmpp.Response) {
	s.lastResponse.Store(time.Now().UnixNano())

	seq := response.OriginalRequest.PDU.GetSequenceNumber()
	if val, ok := s.pending.LoadAndDelete(seq); ok {
		ch := val.(chan pduOutcome)
		select {
		case ch <- pduOutcome{resp: response.PDU}:
		default:
		}
	}
}

func (s *Session) onExpiredPduRequest(p pdu.PDU) bool {
	ctx := logging.ContextWithProviderID(context.Background(), s.cfg.ProviderID)
	seq := p.GetSequenceNumber()

	if val, ok := s.pending.LoadAndDelete(seq); ok {
		ch := val.(chan pduOutcome)
		select {
		case ch <- pduOutcome{err: &SubmitError{Timeout: true}}:
		default:
		}
	}

	if _, isEnquire := p.(*pdu.EnquireLink); isEnquire {
		slog.ErrorContext(ctx, "enquire_link expired, connection stale")
		s.notify(evHeartbeatStale)
		return true
	}
	slog.WarnContext(ctx, "PDU request expired without response",
		slog.String("command", p.GetHeader().CommandID.String()),
		slog.Int("seq", int(seq)))
	return false
}

func (s *Session) onClosePduRequest(p pdu.PDU) {
	seq := p.GetSequenceNumber()
	if val, ok := s.pending.LoadAndDelete(seq); ok {
		ch := val.(chan pduOutcome)
		select {
		case ch <- pduOutcome{err: &ConnectionError{Op: "submit", Err: errors.New("session closed before response")}}:
		default:
		}
	}
}

func (s *Session) onClosed(ctx context.Context, state gosmpp.State) {
	slog.WarnContext(ctx, "SMPP session closed", slog.String("state", state.String()))
	if s.Status() == codes.StatusUnbinding || s.Status() == codes.StatusDisconnected {
		return
	}
	s.status.Store(codes.StatusDisconnected)
	s.notify(evConnectionLost)
}
