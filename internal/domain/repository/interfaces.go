package repository

import (
	"context"
	"errors"
	"time"

	"DigitPilot/internal/domain/models"
)

// ErrNotFound is returned by stores when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// TickSource is the market-data side of the venue connection: one shared
// stream feeding per-market digit windows.
type TickSource interface {
	Start(ctx context.Context) error
	Watch(ctx context.Context, market string) error
	Window(market string) (models.DigitWindow, error)
	Markets() []string
	Healthy() bool
	Close() error
}

// Venue is the authenticated trading side of the venue API. Acquire returns
// an open session for the credential, dialing and authorizing when needed.
type Venue interface {
	Acquire(ctx context.Context, token string) (VenueSession, error)
	Size() int
	CloseAll()
}

// VenueSession is one authenticated venue connection.
type VenueSession interface {
	LoginID() string
	Currency() string
	Balance(ctx context.Context) (float64, error)
	Buy(ctx context.Context, order models.Order) (*models.Contract, error)
	WatchContract(ctx context.Context, contractID int64) (<-chan models.ContractUpdate, func(), error)
	Sell(ctx context.Context, contractID int64) (float64, error)
	Alive() bool
}

// SessionStore persists trading sessions.
type SessionStore interface {
	Create(ctx context.Context, s *models.Session) error
	Update(ctx context.Context, s *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	List(ctx context.Context, states ...models.SessionState) ([]*models.Session, error)
}

// ContractStore persists placed contracts and their outcomes.
type ContractStore interface {
	SaveContract(ctx context.Context, c *models.Contract) error
	UpdateContract(ctx context.Context, c *models.Contract) error
	ListContracts(ctx context.Context, sessionID string, limit int) ([]*models.Contract, error)
	OpenContracts(ctx context.Context, sessionID string) ([]*models.Contract, error)
}

// MemoryStore persists per-market learning records.
type MemoryStore interface {
	Load(ctx context.Context, market string) (*models.MemoryRecord, error)
	Save(ctx context.Context, rec *models.MemoryRecord) error
}

// TickArchive is the long-term tick log backing the backtester.
type TickArchive interface {
	Init(ctx context.Context) error // ensure tables, health checks
	StoreBatch(ctx context.Context, ticks []*models.Tick) error
	Query(ctx context.Context, market string, from, to time.Time, limit int) ([]*models.Tick, error)
	Health(ctx context.Context) error
	Close() error
}

// EventPublisher fans engine events out to the event topic and live ticks
// out to the ticks topic.
type EventPublisher interface {
	Publish(ctx context.Context, ev *models.EngineEvent) error
	PublishTicks(ctx context.Context, ticks []*models.Tick) error
	Close() error
}

// SignalLocker serializes execution of one logical signal across workers.
type SignalLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Metrics is the engine-side metrics recorder.
type Metrics interface {
	RecordTick(market string)
	RecordSignal(market, side string)
	RecordVeto(stage, reason string)
	RecordTrade(market, result string)
	RecordProfit(sessionID string, amount float64)
	SetBreakerState(state string)
	SetOpenPositions(n int)
	RecordStreamReconnect()
}
