// Package account keeps the connected account handles of every tenant.
package account

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"fwdbot/internal/forwarder"
	"fwdbot/internal/tenant"
	logx "fwdbot/pkg/logx"
)

var (
	// ErrNoAccount means the tenant has no account that could be connected.
	ErrNoAccount = errors.New("no connected account")
	ErrClosed    = errors.New("account pool closed")
)

// Handle is a connected account. Close releases its session.
type Handle interface {
	forwarder.Account
	Close() error
}

// Dialer turns a stored credential into a connected handle.
type Dialer interface {
	Dial(ctx context.Context, tenantID int64, name, credential string) (Handle, error)
}

type DialerFunc func(ctx context.Context, tenantID int64, name, credential string) (Handle, error)

func (f DialerFunc) Dial(ctx context.Context, tenantID int64, name, credential string) (Handle, error) {
	return f(ctx, tenantID, name, credential)
}

// Pool maps tenant -> account name -> handle. Safe for concurrent use.
type Pool struct {
	dialer Dialer
	log    logx.Logger

	mu     sync.Mutex
	conns  map[int64]map[string]Handle
	closed bool
}

func NewPool(d Dialer, log logx.Logger) *Pool {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pool{
		dialer: d,
		log:    log.With(logx.String("comp", "accounts")),
		conns:  map[int64]map[string]Handle{},
	}
}

// Connect dials credential and stores the handle under name, replacing and
// closing any previous handle with that name.
func (p *Pool) Connect(ctx context.Context, tenantID int64, name, credential string) (Handle, error) {
	h, err := p.dialer.Dial(ctx, tenantID, name, credential)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", name, err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = h.Close()
		return nil, ErrClosed
	}
	byName := p.conns[tenantID]
	if byName == nil {
		byName = map[string]Handle{}
		p.conns[tenantID] = byName
	}
	old := byName[name]
	byName[name] = h
	p.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	p.log.Info("account connected", logx.Tenant(tenantID), logx.String("account", name))
	return h, nil
}

// Disconnect closes and forgets one handle. It reports whether one existed.
func (p *Pool) Disconnect(tenantID int64, name string) bool {
	p.mu.Lock()
	h := p.conns[tenantID][name]
	if h != nil {
		delete(p.conns[tenantID], name)
		if len(p.conns[tenantID]) == 0 {
			delete(p.conns, tenantID)
		}
	}
	p.mu.Unlock()
	if h == nil {
		return false
	}
	if err := h.Close(); err != nil {
		p.log.Warn("account close failed", logx.Tenant(tenantID), logx.String("account", name), logx.Err(err))
	}
	p.log.Info("account disconnected", logx.Tenant(tenantID), logx.String("account", name))
	return true
}

// Connected lists the connected account names of a tenant, sorted.
func (p *Pool) Connected(tenantID int64) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.conns[tenantID]))
	for name := range p.conns[tenantID] {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Pick returns the handle the tenant's loop should use: the first stored
// account by name that is connected, dialing it on demand.
func (p *Pool) Pick(ctx context.Context, t tenant.Tenant) (forwarder.Account, error) {
	names := t.AccountNames()
	p.mu.Lock()
	for _, name := range names {
		if h := p.conns[t.ID][name]; h != nil {
			p.mu.Unlock()
			return h, nil
		}
	}
	p.mu.Unlock()

	var errs []error
	for _, name := range names {
		h, err := p.Connect(ctx, t.ID, name, t.Accounts[name])
		if err == nil {
			return h, nil
		}
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrNoAccount, errors.Join(errs...))
	}
	return nil, ErrNoAccount
}

// LoadAll dials every stored account. Failures are logged and skipped.
func (p *Pool) LoadAll(ctx context.Context, tenants []tenant.Tenant) int {
	n := 0
	for _, t := range tenants {
		if t.Banned {
			continue
		}
		for _, name := range t.AccountNames() {
			if ctx.Err() != nil {
				return n
			}
			if _, err := p.Connect(ctx, t.ID, name, t.Accounts[name]); err != nil {
				p.log.Warn("account load failed", logx.Tenant(t.ID), logx.String("account", name), logx.Err(err))
				continue
			}
			n++
		}
	}
	p.log.Info("accounts loaded", logx.Int("connected", n))
	return n
}

// Close disconnects everything. Connect fails afterwards.
func (p *Pool) Close() error {
	p.mu.Lock()
	conns := p.conns
	p.conns = map[int64]map[string]Handle{}
	p.closed = true
	p.mu.Unlock()

	var errs []error
	for _, byName := range conns {
		for _, h := range byName {
			errs = append(errs, h.Close())
		}
	}
	return errors.Join(errs...)
}
