// Package fake provee un presence.Client scripteable para tests: cada
// Connect consume un Outcome de la cola y las conexiones resultantes se
// pueden tirar a demanda para ejercitar reconexión y lockout.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/dropDatabas3/idlejohn/internal/domain"
	"github.com/dropDatabas3/idlejohn/internal/domain/repository"
	"github.com/dropDatabas3/idlejohn/internal/presence"
)

// Outcome define el resultado del próximo Connect.
type Outcome struct {
	// Err clasificado con los sentinels de repository; nil = login ok.
	Err error
	// Challenge fuerza un challenge 2FA antes de resolver.
	Challenge bool
	// Token emitido como EventToken tras un login ok.
	Token string
	// Hold, si no es nil, bloquea el Connect hasta que se cierre
	// (para probar el guard de reconexión en vuelo).
	Hold <-chan struct{}
}

// Client implementa presence.Client con una cola de Outcomes.
type Client struct {
	mu       sync.Mutex
	script   []Outcome
	connects int
	answered []string
	conns    []*Conn
}

func NewClient() *Client {
	return &Client{}
}

// Queue agrega outcomes a consumir en orden. Sin cola, Connect resuelve ok.
func (c *Client) Queue(outcomes ...Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.script = append(c.script, outcomes...)
}

// Connects retorna cuántos Connect se intentaron.
func (c *Client) Connects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

// Answered retorna los códigos 2FA respondidos.
func (c *Client) Answered() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.answered...)
}

// LastConn retorna la última conexión creada (nil si ninguna).
func (c *Client) LastConn() *Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.conns) == 0 {
		return nil
	}
	return c.conns[len(c.conns)-1]
}

// Conns retorna todas las conexiones creadas.
func (c *Client) Conns() []*Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Conn(nil), c.conns...)
}

func (c *Client) next() Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	if len(c.script) == 0 {
		return Outcome{}
	}
	out := c.script[0]
	c.script = c.script[1:]
	return out
}

func (c *Client) Connect(ctx context.Context, creds presence.Credentials, answer presence.ChallengeAnswerer) (presence.Conn, error) {
	out := c.next()

	if out.Hold != nil {
		select {
		case <-out.Hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if out.Challenge {
		if answer == nil {
			return nil, repository.ErrTwoFactorRequired
		}
		code, err := answer()
		if err != nil {
			return nil, fmt.Errorf("generar código: %v: %w", err, repository.ErrTwoFactorRequired)
		}
		c.mu.Lock()
		c.answered = append(c.answered, code)
		c.mu.Unlock()
	}

	if out.Err != nil {
		return nil, out.Err
	}

	conn := newConn(creds.LoginName)
	c.mu.Lock()
	c.conns = append(c.conns, conn)
	c.mu.Unlock()

	if out.Token != "" {
		conn.events <- presence.Event{Kind: presence.EventToken, RefreshToken: out.Token}
	}
	return conn, nil
}

// Conn es una conexión fake con estado inspeccionable.
type Conn struct {
	mu        sync.Mutex
	login     string
	events    chan presence.Event
	closed    bool
	dropped   bool
	activity  [][]uint32
	presences []domain.Persona
}

func newConn(login string) *Conn {
	return &Conn{
		login:  login,
		events: make(chan presence.Event, 8),
	}
}

func (f *Conn) SetActivity(ids []uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.dropped {
		return repository.ErrTransientConnection
	}
	cp := append([]uint32(nil), ids...)
	f.activity = append(f.activity, cp)
	return nil
}

func (f *Conn) SetPresence(p domain.Persona) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.dropped {
		return repository.ErrTransientConnection
	}
	f.presences = append(f.presences, p)
	return nil
}

func (f *Conn) Events() <-chan presence.Event {
	return f.events
}

func (f *Conn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	if !f.dropped {
		close(f.events)
	}
	return nil
}

// Drop simula una caída de conexión: emite Disconnected y cierra el canal.
func (f *Conn) Drop(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.dropped {
		return
	}
	f.dropped = true
	if err == nil {
		err = repository.ErrTransientConnection
	}
	f.events <- presence.Event{Kind: presence.EventDisconnected, Err: err}
	close(f.events)
}

// GrantToken emite un EventToken (renovación espontánea del remoto).
func (f *Conn) GrantToken(tok string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.dropped {
		return
	}
	f.events <- presence.Event{Kind: presence.EventToken, RefreshToken: tok}
}

// Closed reporta si la sesión cerró la conexión explícitamente.
func (f *Conn) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// ActivityCalls retorna los sets anunciados vía SetActivity.
func (f *Conn) ActivityCalls() [][]uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]uint32, len(f.activity))
	for i, a := range f.activity {
		out[i] = append([]uint32(nil), a...)
	}
	return out
}

// PresenceCalls retorna las personas aplicadas vía SetPresence.
func (f *Conn) PresenceCalls() []domain.Persona {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Persona(nil), f.presences...)
}
