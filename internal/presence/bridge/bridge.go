// Package bridge implementa presence.Client contra el bridge local que
// habla el protocolo propietario de la red. El transporte es websocket
// con frames JSON: el bridge traduce hacia el wire real.
package bridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dropDatabas3/idlejohn/internal/domain"
	"github.com/dropDatabas3/idlejohn/internal/domain/repository"
	"github.com/dropDatabas3/idlejohn/internal/observability/logger"
	"github.com/dropDatabas3/idlejohn/internal/presence"
)

// Ops del protocolo bridge (ambas direcciones).
const (
	opConnect     = "connect"
	opCode        = "code"
	opActivity    = "activity"
	opPresence    = "presence"
	opLogout      = "logout"
	opChallenge   = "challenge"
	opLoggedOn    = "logged_on"
	opLoginFailed = "login_failed"
	opToken       = "token"
	opDisconnect  = "disconnected"
)

// Razones de login_failed que clasifica el bridge.
const (
	reasonInvalidCredential = "invalid_credential"
	reasonRateLimited       = "rate_limited"
	reasonTwoFactor         = "two_factor"
	reasonTransient         = "transient"
)

type frame struct {
	Op string `json:"op"`

	LoginName    string `json:"login_name,omitempty"`
	Password     string `json:"password,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Code         string `json:"code,omitempty"`

	ActivityIDs []uint32 `json:"activity_ids,omitempty"`
	Presence    string   `json:"presence,omitempty"`

	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
	Token   string `json:"token,omitempty"`
}

// Config configura el cliente bridge.
type Config struct {
	URL          string
	DialTimeout  time.Duration
	PingInterval time.Duration
}

// Client implementa presence.Client dialing el bridge por conexión.
type Client struct {
	cfg Config
	log *zap.Logger
}

// New crea un cliente bridge.
func New(cfg Config) *Client {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 15 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	return &Client{cfg: cfg, log: logger.Named("bridge")}
}

// Connect abre un websocket contra el bridge y corre el handshake de
// login. Sin timeout propio sobre el login: el deadline del dial cubre el
// transporte y de ahí en más mandan las señales del remoto (o la
// cancelación del ctx, que cierra el socket).
func (c *Client) Connect(ctx context.Context, creds presence.Credentials, answer presence.ChallengeAnswerer) (presence.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.DialTimeout}
	ws, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial bridge: %v: %w", err, repository.ErrTransientConnection)
	}

	// ctx cancelado durante el handshake => cerrar el socket para
	// desbloquear el read.
	handshakeDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = ws.Close()
		case <-handshakeDone:
		}
	}()

	fail := func(err error) (presence.Conn, error) {
		close(handshakeDone)
		_ = ws.Close()
		return nil, err
	}

	if err := ws.WriteJSON(frame{
		Op:           opConnect,
		LoginName:    creds.LoginName,
		Password:     creds.Password,
		RefreshToken: creds.RefreshToken,
	}); err != nil {
		return fail(fmt.Errorf("write connect: %v: %w", err, repository.ErrTransientConnection))
	}

	for {
		var f frame
		if err := ws.ReadJSON(&f); err != nil {
			if ctx.Err() != nil {
				return fail(ctx.Err())
			}
			return fail(fmt.Errorf("bridge cerró durante login: %v: %w", err, repository.ErrTransientConnection))
		}

		switch f.Op {
		case opChallenge:
			if answer == nil {
				return fail(repository.ErrTwoFactorRequired)
			}
			code, err := answer()
			if err != nil {
				return fail(fmt.Errorf("generar código: %v: %w", err, repository.ErrTwoFactorRequired))
			}
			if err := ws.WriteJSON(frame{Op: opCode, Code: code}); err != nil {
				return fail(fmt.Errorf("write code: %v: %w", err, repository.ErrTransientConnection))
			}

		case opLoginFailed:
			return fail(mapLoginFailure(f.Reason, f.Message))

		case opLoggedOn:
			close(handshakeDone)
			conn := newConn(ws, c.cfg.PingInterval, c.log.With(logger.LoginName(creds.LoginName)))
			if f.Token != "" {
				conn.events <- presence.Event{Kind: presence.EventToken, RefreshToken: f.Token}
			}
			return conn, nil

		default:
			// frames tempranos que no nos interesan durante el handshake
			continue
		}
	}
}

func mapLoginFailure(reason, message string) error {
	if message == "" {
		message = "login rechazado"
	}
	switch reason {
	case reasonInvalidCredential:
		return fmt.Errorf("%s: %w", message, repository.ErrInvalidCredential)
	case reasonRateLimited:
		return fmt.Errorf("%s: %w", message, repository.ErrRateLimited)
	case reasonTwoFactor:
		return fmt.Errorf("%s: %w", message, repository.ErrTwoFactorRequired)
	case reasonTransient:
		return fmt.Errorf("%s: %w", message, repository.ErrTransientConnection)
	default:
		return fmt.Errorf("%s (reason=%q): %w", message, reason, repository.ErrTransientConnection)
	}
}

// conn es una conexión viva contra el bridge.
type conn struct {
	ws           *websocket.Conn
	writeMu      sync.Mutex
	events       chan presence.Event
	pingInterval time.Duration
	closed       atomic.Bool
	closeOnce    sync.Once
	done         chan struct{}
	log          *zap.Logger
}

func newConn(ws *websocket.Conn, pingInterval time.Duration, log *zap.Logger) *conn {
	c := &conn{
		ws:           ws,
		events:       make(chan presence.Event, 8),
		pingInterval: pingInterval,
		done:         make(chan struct{}),
		log:          log,
	}
	go c.readPump()
	go c.pingPump()
	return c
}

func (c *conn) SetActivity(ids []uint32) error {
	return c.write(frame{Op: opActivity, ActivityIDs: ids})
}

func (c *conn) SetPresence(p domain.Persona) error {
	return c.write(frame{Op: opPresence, Presence: string(p)})
}

func (c *conn) write(f frame) error {
	if c.closed.Load() {
		return repository.ErrTransientConnection
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.ws.WriteJSON(f); err != nil {
		return fmt.Errorf("write %s: %v: %w", f.Op, err, repository.ErrTransientConnection)
	}
	return nil
}

func (c *conn) Events() <-chan presence.Event {
	return c.events
}

// Close manda logout best-effort y cierra el socket. El read pump cierra
// el canal de eventos sin emitir Disconnected (cierre pedido, no caída).
func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.writeMu.Lock()
		_ = c.ws.SetWriteDeadline(time.Now().Add(2 * time.Second))
		_ = c.ws.WriteJSON(frame{Op: opLogout})
		c.writeMu.Unlock()
		_ = c.ws.Close()
		close(c.done)
	})
	return nil
}

func (c *conn) readPump() {
	defer close(c.events)

	pongWait := 2*c.pingInterval + 10*time.Second
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f frame
		if err := c.ws.ReadJSON(&f); err != nil {
			if !c.closed.Load() {
				c.closed.Store(true)
				c.events <- presence.Event{
					Kind: presence.EventDisconnected,
					Err:  fmt.Errorf("conexión caída: %v: %w", err, repository.ErrTransientConnection),
				}
			}
			return
		}
		// tráfico entrante también prueba vida
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		switch f.Op {
		case opDisconnect:
			if !c.closed.Load() {
				c.closed.Store(true)
				c.events <- presence.Event{
					Kind: presence.EventDisconnected,
					Err:  fmt.Errorf("remoto desconectó: %s: %w", f.Reason, repository.ErrTransientConnection),
				}
			}
			_ = c.ws.Close()
			return
		case opToken:
			if f.Token != "" {
				c.events <- presence.Event{Kind: presence.EventToken, RefreshToken: f.Token}
			}
		default:
			c.log.Debug("frame ignorado", logger.String("op", f.Op))
		}
	}
}

func (c *conn) pingPump() {
	t := time.NewTicker(c.pingInterval)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
