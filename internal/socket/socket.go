package socket

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Socket is a WebSocket connection with heartbeat, backoff, a circuit
// breaker, and a bounded outbound queue.
type Socket struct {
	cfg    Config
	logger *slog.Logger

	frames chan Frame
	events chan Event

	// writeMu serializes writes to the underlying connection.
	writeMu sync.Mutex

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	gen       int // connection generation; stale goroutines check it and exit
	queue     frameQueue
	breaker   breaker
	attempt   int
	manual    bool // caller-issued disconnect; never reconnect
	permanent bool // protocol rejection; never reconnect
	lastPong  time.Time
	reconnect *time.Timer

	now func() time.Time
}

// New creates a Socket. It does not connect.
func New(cfg Config, logger *slog.Logger) *Socket {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Backoff == nil {
		cfg.Backoff = DefaultConfig().Backoff
	}
	if cfg.FrameBuffer < 1 {
		cfg.FrameBuffer = 1
	}
	return &Socket{
		cfg:     cfg,
		logger:  logger,
		frames:  make(chan Frame, cfg.FrameBuffer),
		events:  make(chan Event, 16),
		queue:   frameQueue{limit: cfg.QueueLimit},
		breaker: breaker{cfg: cfg.Breaker},
		now:     time.Now,
	}
}

// Frames returns the channel of inbound frames.
func (s *Socket) Frames() <-chan Frame { return s.frames }

// Events returns the channel of lifecycle events.
func (s *Socket) Events() <-chan Event { return s.events }

// State returns the current connection state.
func (s *Socket) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// QueueLen returns the number of frames waiting for the next open.
func (s *Socket) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.len()
}

// Connect opens the connection. It is a no-op when a manual disconnect or a
// permanent rejection occurred, a connect is already in progress or
// established, or the circuit breaker is open and its cool-down has not
// elapsed.
func (s *Socket) Connect() {
	s.mu.Lock()
	if s.manual || s.permanent || s.state != StateDisconnected {
		s.mu.Unlock()
		return
	}
	if s.breaker.open(s.now()) {
		s.mu.Unlock()
		s.logger.Debug("connect blocked by circuit breaker")
		return
	}
	s.state = StateConnecting
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	go s.dial(gen)
}

// Disconnect closes the connection and disables reconnection. It cancels the
// pending reconnect timer; the heartbeat loop observes the generation bump
// and exits.
func (s *Socket) Disconnect() {
	s.mu.Lock()
	if s.manual {
		s.mu.Unlock()
		return
	}
	s.manual = true
	s.gen++
	s.state = StateDisconnected
	conn := s.conn
	s.conn = nil
	if s.reconnect != nil {
		s.reconnect.Stop()
	}
	s.mu.Unlock()

	if conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		conn.Close()
	}
	s.logger.Debug("socket disconnected by caller")
}

// Send transmits payload immediately when connected, otherwise enqueues it
// for replay on the next open. A write error requeues the frame with an
// incremented retry count.
func (s *Socket) Send(payload []byte) error {
	s.mu.Lock()
	if s.state == StateConnected && s.conn != nil {
		conn := s.conn
		s.mu.Unlock()
		if err := s.write(conn, payload); err != nil {
			s.requeue(queuedFrame{payload: payload, enqueuedAt: s.now(), retries: 1})
			return err
		}
		return nil
	}
	ok := s.queue.push(queuedFrame{payload: payload, enqueuedAt: s.now()})
	s.mu.Unlock()

	if !ok {
		s.logger.Warn("outbound queue full, dropping frame", "limit", s.cfg.QueueLimit)
		return ErrQueueFull
	}
	return nil
}

// dial performs the handshake and, on success, installs the connection and
// replays the outbound queue.
func (s *Socket) dial(gen int) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DialTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, s.cfg.Header)

	s.mu.Lock()
	if gen != s.gen || s.manual {
		s.mu.Unlock()
		if err == nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		s.mu.Unlock()
		s.fail(gen, err, 0)
		return
	}

	s.conn = conn
	s.state = StateConnected
	s.attempt = 0
	s.breaker.success()
	s.lastPong = s.now()
	pending := s.queue.drain()
	s.mu.Unlock()

	conn.SetPongHandler(func(string) error {
		s.markPong()
		return nil
	})

	go s.readLoop(conn, gen)
	go s.heartbeatLoop(conn, gen)

	s.emit(Event{Kind: EventConnected})
	s.logger.Debug("websocket connected", "url", s.cfg.URL, "replaying", len(pending))

	for _, f := range pending {
		if err := s.write(conn, f.payload); err != nil {
			f.retries++
			s.requeue(f)
		}
	}
}

// fail routes a connection failure: close, classify, and either schedule a
// reconnect or stop for good.
func (s *Socket) fail(gen int, err error, code int) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.gen++ // invalidate the read and heartbeat loops of this connection
	conn := s.conn
	s.conn = nil
	s.state = StateDisconnected

	if s.manual {
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}

	now := s.now()
	s.attempt++
	attempt := s.attempt
	s.breaker.failure(now)

	permanent := code != 0 && s.cfg.Permanent != nil && s.cfg.Permanent(code)
	if permanent {
		s.permanent = true
	}
	maxed := s.cfg.MaxAttempts > 0 && attempt > s.cfg.MaxAttempts

	if !permanent && !maxed {
		delay := s.cfg.Backoff(attempt)
		if until := s.breaker.openUntil; until.Sub(now) > delay {
			delay = until.Sub(now)
		}
		s.reconnect = time.AfterFunc(delay, s.reconnectFired)
		s.mu.Unlock()

		if conn != nil {
			conn.Close()
		}
		s.emit(Event{Kind: EventDisconnected, Err: err, Attempt: attempt, Code: code})
		s.logger.Warn("connection failed, reconnecting",
			"error", err,
			"attempt", attempt,
			"delay", delay,
		)
		return
	}
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if permanent {
		s.emit(Event{Kind: EventRejected, Err: err, Attempt: attempt, Code: code})
		s.logger.Warn("connection permanently rejected", "code", code, "error", err)
		return
	}
	s.emit(Event{Kind: EventGaveUp, Err: err, Attempt: attempt, Code: code})
	s.logger.Error("giving up after max reconnect attempts",
		"attempts", attempt,
		"error", err,
	)
}

// reconnectFired runs when the backoff timer elapses. The do-not-reconnect
// flag is re-checked here: a disconnect issued while the timer was pending
// must win over the reconnect.
func (s *Socket) reconnectFired() {
	s.mu.Lock()
	manual := s.manual
	s.mu.Unlock()
	if manual {
		return
	}
	s.Connect()
}

func (s *Socket) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			code := 0
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code = ce.Code
			}
			s.fail(gen, err, code)
			return
		}

		if s.cfg.IsPong != nil && s.cfg.IsPong(data) {
			s.markPong()
			continue
		}

		select {
		case s.frames <- Frame{Data: data, ReceivedAt: receivedAt}:
		default:
			s.logger.Warn("frame buffer full, dropping frame")
		}
	}
}

// heartbeatLoop sends periodic pings and treats a missing pong within twice
// the interval as a stale connection.
func (s *Socket) heartbeatLoop(conn *websocket.Conn, gen int) {
	interval := s.cfg.HeartbeatInterval
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		s.mu.Lock()
		if gen != s.gen {
			s.mu.Unlock()
			return
		}
		last := s.lastPong
		s.mu.Unlock()

		if s.now().Sub(last) > 2*interval {
			s.fail(gen, ErrStaleConnection, 0)
			return
		}

		if s.cfg.Ping != nil {
			if err := s.write(conn, s.cfg.Ping()); err != nil {
				s.fail(gen, err, 0)
				return
			}
		} else {
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				s.logger.Debug("failed to send ping", "error", err)
			}
		}
	}
}

func (s *Socket) markPong() {
	s.mu.Lock()
	s.lastPong = s.now()
	s.mu.Unlock()
}

func (s *Socket) write(conn *websocket.Conn, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// requeue puts a failed frame back unless its retry ceiling is exhausted.
func (s *Socket) requeue(f queuedFrame) {
	if s.cfg.SendRetryLimit > 0 && f.retries > s.cfg.SendRetryLimit {
		s.logger.Warn("dropping frame after retry ceiling", "retries", f.retries)
		return
	}
	s.mu.Lock()
	ok := s.queue.push(f)
	s.mu.Unlock()
	if !ok {
		s.logger.Warn("outbound queue full, dropping requeued frame")
	}
}

func (s *Socket) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("event buffer full, dropping event", "kind", ev.Kind)
	}
}
