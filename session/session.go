package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"deriflow/config"
	"deriflow/logger"
	"deriflow/models"
	"deriflow/orders"
	"deriflow/strategy"
	"deriflow/subscription"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// State is the connection lifecycle state of a session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshaking
	StateSubscribed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateSubscribed:
		return "subscribed"
	default:
		return "unknown"
	}
}

// Session owns one websocket connection to the exchange and runs the
// dispatch loop. It reconnects with bounded exponential backoff, replaying
// the handshake and every handler's subscribe requests after each drop.
type Session struct {
	config   *config.Config
	handlers []subscription.Handler
	tracker  *orders.Tracker
	strategy strategy.Strategy

	ctx        context.Context
	pollCtx    context.Context
	pollCancel context.CancelFunc
	wg         *sync.WaitGroup
	mu         sync.RWMutex
	running    bool
	log        *logger.Log

	connMu  sync.Mutex
	conn    *websocket.Conn
	limiter *rate.Limiter

	state atomic.Int32

	pendingMu sync.Mutex
	pending   map[int64]string

	// channels already subscribed on the current connection
	requested map[string]bool
}

// NewSession wires the session to its handlers and the order tracker. The
// tracker may be nil when no private subscriptions are configured.
func NewSession(cfg *config.Config, handlers []subscription.Handler, tracker *orders.Tracker, strat strategy.Strategy) *Session {
	interval := cfg.Exchange.SendInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Session{
		config:   cfg,
		handlers: handlers,
		tracker:  tracker,
		strategy: strat,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		pending:  make(map[int64]string),
	}
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Start launches the connection loop and, when configured, the position
// validation poller.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("session already running")
	}
	s.running = true
	s.ctx = ctx
	s.pollCtx, s.pollCancel = context.WithCancel(ctx)
	s.mu.Unlock()

	log := s.log.WithComponent("session").WithFields(logger.Fields{"operation": "start"})
	log.WithFields(logger.Fields{
		"url":      s.config.Exchange.WebsocketURL(),
		"handlers": len(s.handlers),
	}).Info("starting exchange session")

	s.wg.Add(1)
	go s.run()

	if s.config.Validation.Interval > 0 && len(s.config.Validation.Currencies) > 0 && s.tracker != nil {
		s.wg.Add(1)
		go s.validatePositions()
	}

	log.Info("exchange session started successfully")
	return nil
}

// Stop cancels the position poller, waits for the connection loop to drain
// and flush, and returns once every goroutine has exited.
func (s *Session) Stop() {
	s.mu.Lock()
	s.running = false
	if s.pollCancel != nil {
		s.pollCancel()
	}
	s.mu.Unlock()

	s.log.WithComponent("session").Info("stopping exchange session")
	s.wg.Wait()
	s.log.WithComponent("session").Info("exchange session stopped")
}

// run is the reconnect loop. Each pass dials, performs the handshake and
// serves the read loop until the transport fails or the context ends.
func (s *Session) run() {
	defer s.wg.Done()
	log := s.log.WithComponent("session").WithFields(logger.Fields{"worker": "connection_loop"})

	rc := s.config.Exchange.Reconnect
	delay := rc.BaseDelay
	for {
		if s.ctx.Err() != nil {
			s.shutdownFlush()
			return
		}

		started := time.Now()
		err := s.connectAndServe()
		s.state.Store(int32(StateDisconnected))
		if s.ctx.Err() != nil {
			s.shutdownFlush()
			return
		}
		if err != nil {
			log.WithError(err).Warn("connection lost")
		}
		logger.IncrementReconnects()

		// a session that held for longer than the backoff ceiling
		// earns a fresh backoff schedule
		if time.Since(started) > rc.MaxDelay {
			delay = rc.BaseDelay
		}
		log.WithFields(logger.Fields{"delay": delay.String()}).Info("reconnecting")
		select {
		case <-s.ctx.Done():
			s.shutdownFlush()
			return
		case <-time.After(delay):
		}
		delay *= time.Duration(rc.Multiplier)
		if delay > rc.MaxDelay {
			delay = rc.MaxDelay
		}
	}
}

func (s *Session) connectAndServe() error {
	log := s.log.WithComponent("session").WithFields(logger.Fields{"operation": "connect"})
	s.state.Store(int32(StateConnecting))

	dialer := websocket.Dialer{HandshakeTimeout: s.config.Exchange.ConnectTimeout}
	conn, _, err := dialer.DialContext(s.ctx, s.config.Exchange.WebsocketURL(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.config.Exchange.WebsocketURL(), err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.requested = make(map[string]bool)
	s.connMu.Unlock()

	defer func() {
		s.connMu.Lock()
		s.conn = nil
		s.connMu.Unlock()
		conn.Close()
	}()

	// close the transport when the session context ends so ReadMessage
	// unblocks
	stop := make(chan struct{})
	go func() {
		select {
		case <-s.ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()
	defer close(stop)

	s.state.Store(int32(StateHandshaking))
	if err := s.handshake(); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	s.state.Store(int32(StateSubscribed))
	log.Info("session subscribed")

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.dispatch(payload)
	}
}

// handshake authenticates when credentials are configured, arms the
// exchange heartbeat and issues every handler's subscribe requests.
func (s *Session) handshake() error {
	auth := s.config.Auth
	if auth.ClientID != "" {
		req := models.AuthRequest(auth.ClientID, auth.ClientSecret)
		s.expectReply(req.ID, "auth")
		if err := s.Send(req); err != nil {
			return err
		}
	}

	if err := s.Send(models.SetHeartbeatRequest(s.config.Exchange.HeartbeatSec)); err != nil {
		return err
	}

	for _, h := range s.handlers {
		if h.Private() && auth.ClientID == "" {
			s.log.WithComponent("session").WithFields(logger.Fields{"handler": h.Name()}).
				Warn("skipping private subscription, no credentials configured")
			continue
		}
		for _, req := range h.SubscribeRequests() {
			req, ok := s.dedupeChannels(req)
			if !ok {
				continue
			}
			if err := s.Send(req); err != nil {
				return err
			}
		}
	}
	return nil
}

// dedupeChannels drops channels already subscribed on this connection, so
// an instrument listed twice in the configuration subscribes once.
func (s *Session) dedupeChannels(req models.Request) (models.Request, bool) {
	channels, _ := req.Params["channels"].([]string)
	fresh := make([]string, 0, len(channels))

	s.connMu.Lock()
	for _, ch := range channels {
		if s.requested[ch] {
			continue
		}
		s.requested[ch] = true
		fresh = append(fresh, ch)
	}
	s.connMu.Unlock()

	if len(fresh) == 0 {
		return req, false
	}
	req.Params["channels"] = fresh
	return req, true
}

// Send writes one request on the current connection, throttled so requests
// stay at least one send interval apart.
func (s *Session) Send(req models.Request) error {
	if err := s.limiter.Wait(s.ctx); err != nil {
		return err
	}

	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("send %s: not connected", req.Method)
	}
	return s.conn.WriteJSON(req)
}

// PlaceOrder allocates a tag, reserves it in the tracker and sends the
// buy or sell request. The tag is returned so callers can correlate the
// eventual order callbacks.
func (s *Session) PlaceOrder(side, instrument string, amount float64, orderType string, price float64) (string, error) {
	if s.tracker == nil {
		return "", fmt.Errorf("place order: no order tracker configured")
	}
	if side != "buy" && side != "sell" {
		return "", fmt.Errorf("place order: unknown side %q", side)
	}

	tag := s.tracker.NextTag(instrument)
	req := models.OrderRequest(side, instrument, amount, orderType, tag, price)
	s.expectReply(req.ID, "order")
	if err := s.Send(req); err != nil {
		s.forgetReply(req.ID)
		return "", err
	}

	s.log.WithComponent("session").WithFields(logger.Fields{
		"side":       side,
		"instrument": instrument,
		"amount":     amount,
		"type":       orderType,
		"tag":        tag,
	}).Info("order placed")
	return tag, nil
}

func (s *Session) expectReply(id int64, kind string) {
	s.pendingMu.Lock()
	s.pending[id] = kind
	s.pendingMu.Unlock()
}

func (s *Session) forgetReply(id int64) {
	s.pendingMu.Lock()
	delete(s.pending, id)
	s.pendingMu.Unlock()
}

func (s *Session) takeReply(id int64) (string, bool) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	kind, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	return kind, ok
}

// shutdownFlush pushes every handler's partial slot out before the session
// reports stopped. The session context is already cancelled here, so the
// flush runs on its own deadline.
func (s *Session) shutdownFlush() {
	log := s.log.WithComponent("session").WithFields(logger.Fields{"operation": "shutdown_flush"})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, h := range s.handlers {
		buf := h.Buffer()
		if buf == nil {
			continue
		}
		if err := buf.Flush(ctx); err != nil {
			log.WithError(err).WithFields(logger.Fields{"handler": h.Name()}).Error("failed to flush partial batch")
			continue
		}
		buf.Close()
	}
	log.Info("partial batches flushed")
}

// dispatch routes one inbound frame. Heartbeats are answered immediately
// and never reach handlers; push notifications go to exactly one handler;
// everything else is a reply to a pending request.
func (s *Session) dispatch(payload []byte) {
	log := s.log.WithComponent("session").WithFields(logger.Fields{"operation": "dispatch"})

	var resp models.Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		logger.IncrementDecodeDrops()
		log.WithError(err).Warn("dropping unparseable frame")
		return
	}

	switch resp.Method {
	case "heartbeat":
		// The exchange expects a liveness echo for every heartbeat
		// frame, regardless of its params.type.
		if err := s.Send(models.TestRequest()); err != nil {
			log.WithError(err).Warn("failed to answer heartbeat")
			return
		}
		logger.IncrementHeartbeatsAnswered()
		return
	case "subscription":
		s.dispatchSubscription(&resp)
		return
	}

	if resp.ID != 0 {
		s.dispatchReply(&resp)
		return
	}
	log.WithFields(logger.Fields{"method": resp.Method}).Warn("dropping unroutable frame")
	logger.IncrementDecodeDrops()
}

func (s *Session) dispatchSubscription(resp *models.Response) {
	log := s.log.WithComponent("session").WithFields(logger.Fields{"operation": "dispatch"})
	if resp.Params == nil || resp.Params.Channel == "" {
		logger.IncrementDecodeDrops()
		log.Warn("subscription frame without channel")
		return
	}

	for _, h := range s.handlers {
		if !h.Matches(resp.Params.Channel) {
			continue
		}
		if err := h.Handle(s.ctx, resp.Params); err != nil {
			logger.IncrementDecodeDrops()
			log.WithError(err).WithFields(logger.Fields{
				"handler": h.Name(),
				"channel": resp.Params.Channel,
			}).Warn("handler rejected frame")
			return
		}
		logger.IncrementFramesDispatched()
		return
	}

	logger.IncrementDecodeDrops()
	log.WithFields(logger.Fields{"channel": resp.Params.Channel}).Warn("no handler for channel")
}

func (s *Session) dispatchReply(resp *models.Response) {
	log := s.log.WithComponent("session").WithFields(logger.Fields{"operation": "dispatch", "request_id": resp.ID})

	kind, ok := s.takeReply(resp.ID)
	if !ok {
		// replies to fire-and-forget requests (heartbeat echo,
		// subscribe acknowledgements)
		if resp.Error != nil {
			log.WithFields(logger.Fields{"code": resp.Error.Code, "message": resp.Error.Message}).Warn("request failed")
		}
		return
	}

	if resp.Error != nil {
		if kind == "order" && s.tracker != nil {
			s.tracker.OnRequestError(*resp.Error)
			return
		}
		log.WithFields(logger.Fields{
			"kind":    kind,
			"code":    resp.Error.Code,
			"message": resp.Error.Message,
		}).Error("request failed")
		return
	}

	switch kind {
	case "auth":
		log.Info("authenticated")
	case "order":
		s.handleOrderReply(resp.Result)
	case "positions":
		s.handlePositionsReply(resp.Result)
	default:
		log.WithFields(logger.Fields{"kind": kind}).Warn("reply of unknown kind")
	}
}

// handleOrderReply feeds the order part of a place-order reply through the
// tracker so the reservation resolves even if the user.orders push races.
func (s *Session) handleOrderReply(result json.RawMessage) {
	log := s.log.WithComponent("session").WithFields(logger.Fields{"operation": "order_reply"})
	var body struct {
		Order models.OrderData `json:"order"`
	}
	if err := json.Unmarshal(result, &body); err != nil {
		log.WithError(err).Warn("failed to decode order reply")
		return
	}
	if s.tracker == nil {
		return
	}
	if err := s.tracker.OnCallback(body.Order); err != nil {
		log.WithError(err).Error("order reply rejected by tracker")
	}
}
