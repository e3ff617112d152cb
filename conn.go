// Package pgwire implements a minimal, single-owner PostgreSQL
// frontend/backend protocol client: dial, authenticate, run simple
// queries, and close — with no connection pooling and no pipelining.
// One goroutine owns a Conn at a time.
package pgwire

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/jeelkantaria/pgwire/auth"
	"github.com/jeelkantaria/pgwire/auth/scram"
	"github.com/jeelkantaria/pgwire/internal/metrics"
	"github.com/jeelkantaria/pgwire/wire"
)

// Config holds everything needed to dial and authenticate against a
// PostgreSQL backend.
type Config struct {
	Host     string
	Port     int // defaults to 5432 when zero
	User     string
	Password string
	Database string // empty lets the server default to User

	// Params carries additional StartupMessage run-time parameters, such
	// as application_name, sent in the given order.
	Params []wire.Param

	// ConnectTimeout bounds the TCP dial in addition to ctx.
	ConnectTimeout time.Duration

	// Metrics, when set, receives connection/auth/query instrumentation
	// for every Conn opened from this Config. Nil disables instrumentation.
	Metrics *metrics.Collector

	// MetricsLabel tags every metric recorded for this Config's
	// connections (e.g. a profile name). Defaults to Host when empty.
	MetricsLabel string
}

func (c Config) addr() string {
	port := c.Port
	if port == 0 {
		port = 5432
	}
	return net.JoinHostPort(c.Host, fmt.Sprintf("%d", port))
}

func (c Config) metricsLabel() string {
	if c.MetricsLabel != "" {
		return c.MetricsLabel
	}
	return c.Host
}

// connState is the phase of the startup/query cycle a Conn is in.
type connState int

const (
	stateStartup connState = iota
	stateReady
	stateClosed
)

// Conn is one non-pooled, non-pipelined connection to a PostgreSQL
// backend. It is not safe for concurrent use by multiple goroutines.
type Conn struct {
	// mu guards only the fields read from another goroutine while a
	// blocking call (startup, Query) is in flight: BackendPID,
	// ParameterStatus, and the closed transition in Close. The state
	// transitions inside startup/nextMessage run on the Conn's single
	// owner goroutine and are intentionally left unlocked.
	mu    sync.Mutex
	conn  net.Conn
	state connState

	backendPID uint32
	backendKey uint32
	params     map[string]string

	// readBuf holds bytes already read off conn but not yet consumed as a
	// complete frame by wire.TakeMessage.
	readBuf []byte

	metrics      *metrics.Collector
	metricsLabel string
	authMethod   string
	authStart    time.Time
}

// Open dials cfg.Host:cfg.Port, sends the StartupMessage, runs whatever
// authentication exchange the backend demands (trust, cleartext, MD5, or
// SCRAM-SHA-256), and returns once the backend reports ReadyForQuery.
func Open(ctx context.Context, cfg Config) (*Conn, error) {
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", cfg.addr())
	if err != nil {
		if cfg.Metrics != nil {
			cfg.Metrics.ConnectionFailed(cfg.metricsLabel(), "dial")
		}
		return nil, fmt.Errorf("pgwire: dial: %w", err)
	}
	return newConn(ctx, netConn, cfg)
}

// newConn drives the handshake over an already-established net.Conn. It is
// split out from Open so tests can exercise the handshake over an in-memory
// net.Pipe instead of a real TCP dial.
func newConn(ctx context.Context, netConn net.Conn, cfg Config) (*Conn, error) {
	c := &Conn{
		conn:         netConn,
		state:        stateStartup,
		params:       make(map[string]string),
		metrics:      cfg.Metrics,
		metricsLabel: cfg.metricsLabel(),
	}

	cancelWatch := c.watchContext(ctx)
	defer cancelWatch()

	if err := c.startup(cfg); err != nil {
		netConn.Close()
		if c.metrics != nil {
			c.metrics.ConnectionFailed(c.metricsLabel, "startup")
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	if c.metrics != nil {
		c.metrics.ConnectionOpened(c.metricsLabel)
	}
	return c, nil
}

// watchContext closes the read deadline (unblocking any in-flight Read)
// when ctx is done, so blocking protocol exchanges stay cancelable. The
// returned func must be called to stop the watcher once the caller no
// longer needs ctx honored.
func (c *Conn) watchContext(ctx context.Context) (stop func()) {
	done := make(chan struct{})
	stopCh := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.conn.SetDeadline(time.Now())
		case <-stopCh:
		}
		close(done)
	}()
	return func() {
		close(stopCh)
		<-done
	}
}

// startup drives the StartupMessage/authentication handshake to
// completion. It must be called exactly once, immediately after dial.
func (c *Conn) startup(cfg Config) error {
	c.authStart = time.Now()
	c.authMethod = "trust"

	if _, err := c.conn.Write(wire.EncodeStartup(cfg.User, cfg.Database, cfg.Params)); err != nil {
		return fmt.Errorf("pgwire: sending startup message: %w", err)
	}

	for {
		msg, err := c.nextMessage()
		if err != nil {
			return err
		}

		switch msg.Tag {
		case wire.TagAuth:
			if err := c.handleAuth(cfg, msg.Auth); err != nil {
				return err
			}
		case wire.TagParamStatus:
			c.params[msg.ParamName] = msg.ParamValue
		case wire.TagBackendKeyData:
			c.backendPID = msg.BackendPID
			c.backendKey = msg.BackendKey
		case wire.TagReadyForQuery:
			c.state = stateReady
			return nil
		case wire.TagErrorResponse:
			return &ServerError{Fields: msg.NoticeOrError}
		case wire.TagNoticeResponse:
			// Startup carries no logging sink; a notice here is rare and
			// non-fatal, so it is simply dropped.
		default:
			// Unexpected message during startup; the backend is expected
			// to only send the tags handled above before ReadyForQuery.
		}
	}
}

func (c *Conn) handleAuth(cfg Config, am wire.AuthMessage) error {
	switch am.Tag {
	case wire.AuthOk:
		if c.metrics != nil {
			c.metrics.AuthCompleted(c.metricsLabel, c.authMethod, time.Since(c.authStart))
		}
		return nil
	case wire.AuthCleartext:
		c.authMethod = "cleartext"
		return c.sendPassword(cfg.Password)
	case wire.AuthMD5:
		c.authMethod = "md5"
		return c.sendPassword(auth.MD5Password(cfg.User, cfg.Password, am.Salt))
	case wire.AuthSASL:
		c.authMethod = "scram-sha-256"
		return c.authenticateSCRAM(cfg, am.Data)
	default:
		return fmt.Errorf("%w: unsupported authentication method %d", ErrUnauthenticated, am.Tag)
	}
}

func (c *Conn) sendPassword(hash string) error {
	if _, err := c.conn.Write(wire.EncodePassword(hash)); err != nil {
		return fmt.Errorf("pgwire: sending password message: %w", err)
	}
	return nil
}

// authenticateSCRAM runs the SASL SCRAM-SHA-256 exchange to completion.
// mechanismList is the AuthenticationSASL payload (the server's offered
// mechanism names). On return the server still owes an AuthenticationOk;
// the caller's startup loop picks that up on its next iteration.
func (c *Conn) authenticateSCRAM(cfg Config, mechanismList []byte) error {
	mechs := scram.ParseMechanisms(mechanismList)
	if !scram.SupportsMechanism(mechs) {
		return fmt.Errorf("%w: server does not offer %s (offered %v)", ErrUnauthenticated, scram.Mechanism, mechs)
	}

	client := scram.NewClient(cfg.User, cfg.Password)

	clientFirst, err := client.InitialResponse()
	if err != nil {
		return fmt.Errorf("pgwire: scram: %w", err)
	}
	if _, err := c.conn.Write(wire.EncodeSASLInitialResponse(scram.Mechanism, clientFirst)); err != nil {
		return fmt.Errorf("pgwire: sending SASL initial response: %w", err)
	}

	msg, err := c.nextMessage()
	if err != nil {
		return err
	}
	if msg.Tag == wire.TagErrorResponse {
		return &ServerError{Fields: msg.NoticeOrError}
	}
	if msg.Tag != wire.TagAuth || msg.Auth.Tag != wire.AuthSASLContinue {
		return fmt.Errorf("%w: expected AuthenticationSASLContinue", ErrProtocolViolation)
	}

	clientFinal, err := client.FinalResponse(msg.Auth.Data)
	if err != nil {
		return fmt.Errorf("pgwire: scram: %w", err)
	}
	if _, err := c.conn.Write(wire.EncodeSASLResponse(clientFinal)); err != nil {
		return fmt.Errorf("pgwire: sending SASL response: %w", err)
	}

	msg, err = c.nextMessage()
	if err != nil {
		return err
	}
	if msg.Tag == wire.TagErrorResponse {
		return &ServerError{Fields: msg.NoticeOrError}
	}
	if msg.Tag != wire.TagAuth || msg.Auth.Tag != wire.AuthSASLFinal {
		return fmt.Errorf("%w: expected AuthenticationSASLFinal", ErrProtocolViolation)
	}
	if err := client.VerifyServerFinal(msg.Auth.Data); err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	return nil
}

// nextMessage returns the next fully-framed server message, reading more
// bytes off conn as needed.
func (c *Conn) nextMessage() (wire.ServerMessage, error) {
	for {
		frame, rest, err := wire.TakeMessage(c.readBuf)
		if err == nil {
			c.readBuf = rest
			msg, derr := wire.DecodeServerMessage(frame)
			if derr != nil {
				if errors.Is(derr, wire.ErrInvalidUTF8) {
					return wire.ServerMessage{}, fmt.Errorf("pgwire: %w: %w", ErrInvalidUTF8, derr)
				}
				return wire.ServerMessage{}, fmt.Errorf("pgwire: %w", derr)
			}
			return msg, nil
		}
		if !errors.Is(err, wire.ErrShortFrame) {
			return wire.ServerMessage{}, fmt.Errorf("pgwire: %w", err)
		}

		chunk := make([]byte, 4096)
		n, rerr := c.conn.Read(chunk)
		if n > 0 {
			c.readBuf = append(c.readBuf, chunk[:n]...)
		}
		if rerr != nil {
			return wire.ServerMessage{}, fmt.Errorf("pgwire: reading from backend: %w", rerr)
		}
	}
}

// BackendPID returns the process ID the backend reported in
// BackendKeyData, for use with a separate cancellation connection.
func (c *Conn) BackendPID() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backendPID
}

// ParameterStatus returns the value of a run-time parameter the backend
// reported (e.g. "server_version"), and whether it has been seen.
func (c *Conn) ParameterStatus(name string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.params[name]
	return v, ok
}

// Close sends Terminate and closes the underlying connection. It is safe
// to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateClosed {
		return nil
	}
	c.state = stateClosed
	if c.metrics != nil {
		c.metrics.ConnectionClosed(c.metricsLabel)
	}
	c.conn.Write(wire.EncodeTerminate())
	return c.conn.Close()
}
