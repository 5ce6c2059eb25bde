package deriv

import (
	"context"
	"fmt"
	"sync"
	"time"

	"DigitPilot/internal/domain/models"
	"DigitPilot/internal/domain/repository"
	"DigitPilot/pkg/logger"
)

type PoolConfig struct {
	Endpoint          string
	AppID             string
	PingInterval      time.Duration
	ConnectTimeout    time.Duration
	CallTimeout       time.Duration
	KeepaliveInterval time.Duration
	IdleTimeout       time.Duration
	ReapInterval      time.Duration
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 15 * time.Second
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = 60 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 10 * time.Minute
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = time.Minute
	}
	return c
}

// Handle is one authorized venue connection owned by the pool. Callers get
// it from Acquire and never close it themselves.
type Handle struct {
	token    string
	client   *Client
	loginID  string
	currency string
	accounts map[string]bool

	mu       sync.Mutex
	lastUsed time.Time
}

var _ repository.VenueSession = (*Handle)(nil)

func (h *Handle) touch() {
	h.mu.Lock()
	h.lastUsed = time.Now()
	h.mu.Unlock()
}

func (h *Handle) idleSince() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastUsed
}

func (h *Handle) LoginID() string  { return h.loginID }
func (h *Handle) Currency() string { return h.currency }
func (h *Handle) Alive() bool      { return h.client.Alive() }

// Authorized reports whether the handle's token covers the given account.
func (h *Handle) Authorized(loginID string) bool {
	return h.accounts[loginID]
}

func (h *Handle) Balance(ctx context.Context) (float64, error) {
	h.touch()
	return h.client.Balance(ctx)
}

func (h *Handle) Buy(ctx context.Context, order models.Order) (*models.Contract, error) {
	h.touch()
	return h.client.Buy(ctx, order)
}

func (h *Handle) WatchContract(ctx context.Context, contractID int64) (<-chan models.ContractUpdate, func(), error) {
	h.touch()
	return h.client.WatchContract(ctx, contractID)
}

func (h *Handle) Sell(ctx context.Context, contractID int64) (float64, error) {
	h.touch()
	return h.client.Sell(ctx, contractID)
}

// Pool keeps at most one live handle per credential. Creation for the same
// credential is serialized so concurrent acquires cannot race two sockets
// into existence; dead handles are replaced on the next acquire.
type Pool struct {
	cfg PoolConfig
	log *logger.Logger

	mu      sync.Mutex
	handles map[string]*Handle
	locks   map[string]*sync.Mutex

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

var _ repository.Venue = (*Pool)(nil)

func NewPool(cfg PoolConfig, log *logger.Logger) *Pool {
	return &Pool{
		cfg:     cfg.withDefaults(),
		log:     log,
		handles: make(map[string]*Handle),
		locks:   make(map[string]*sync.Mutex),
		stop:    make(chan struct{}),
	}
}

// Run starts the keepalive and idle-reaper loops.
func (p *Pool) Run(ctx context.Context) {
	p.wg.Add(2)
	go p.keepaliveLoop(ctx)
	go p.reapLoop(ctx)
}

func (p *Pool) lockFor(token string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lk, ok := p.locks[token]
	if !ok {
		lk = &sync.Mutex{}
		p.locks[token] = lk
	}
	return lk
}

// Acquire returns the live handle for token, dialing and authorizing a new
// connection when none exists or the old one is dead. Authorization is
// synchronous: when Acquire returns, the handle is ready to trade.
func (p *Pool) Acquire(ctx context.Context, token string) (repository.VenueSession, error) {
	lk := p.lockFor(token)
	lk.Lock()
	defer lk.Unlock()

	p.mu.Lock()
	h := p.handles[token]
	p.mu.Unlock()

	if h != nil {
		if h.Alive() {
			h.touch()
			return h, nil
		}
		p.drop(token, h, "dead connection")
	}

	h, err := p.create(ctx, token)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.handles[token] = h
	p.mu.Unlock()
	return h, nil
}

func (p *Pool) create(ctx context.Context, token string) (*Handle, error) {
	dctx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	defer cancel()

	cl, err := Dial(dctx, p.cfg.Endpoint, p.cfg.AppID, p.cfg.PingInterval, p.cfg.CallTimeout, p.log)
	if err != nil {
		return nil, err
	}

	auth, err := cl.Authorize(ctx, token)
	if err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("authorize: %w", err)
	}

	accounts := make(map[string]bool, len(auth.Authorize.AccountList)+1)
	accounts[auth.Authorize.LoginID] = true
	for _, a := range auth.Authorize.AccountList {
		accounts[a.LoginID] = true
	}

	h := &Handle{
		token:    token,
		client:   cl,
		loginID:  auth.Authorize.LoginID,
		currency: auth.Authorize.Currency,
		accounts: accounts,
		lastUsed: time.Now(),
	}
	p.log.Info("venue connection authorized", logger.String("account", h.loginID))
	return h, nil
}

func (p *Pool) drop(token string, h *Handle, reason string) {
	_ = h.client.Close()
	p.mu.Lock()
	if p.handles[token] == h {
		delete(p.handles, token)
	}
	p.mu.Unlock()
	p.log.Info("venue connection dropped",
		logger.String("account", h.loginID),
		logger.String("reason", reason))
}

func (p *Pool) snapshot() map[string]*Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]*Handle, len(p.handles))
	for tok, h := range p.handles {
		out[tok] = h
	}
	return out
}

func (p *Pool) keepaliveLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			for tok, h := range p.snapshot() {
				pctx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
				err := h.client.Ping(pctx)
				cancel()
				if err != nil {
					p.drop(tok, h, "keepalive failed")
				}
			}
		}
	}
}

func (p *Pool) reapLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-p.cfg.IdleTimeout)
			for tok, h := range p.snapshot() {
				if h.idleSince().Before(cutoff) {
					p.drop(tok, h, "idle")
				}
			}
		}
	}
}

func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}

// CloseAll tears every connection down. Used on shutdown.
func (p *Pool) CloseAll() {
	p.stopOnce.Do(func() { close(p.stop) })

	p.mu.Lock()
	handles := p.handles
	p.handles = make(map[string]*Handle)
	p.mu.Unlock()

	for _, h := range handles {
		_ = h.client.Close()
	}
	p.wg.Wait()
}
