package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"DigitPilot/internal/domain/models"
	"DigitPilot/internal/domain/repository"
	"DigitPilot/pkg/cache"
	applogger "DigitPilot/pkg/logger"
	"DigitPilot/pkg/postgres"
)

const sessionCacheTTL = 5 * time.Minute

// SessionRecord is one trading session row. Filterable fields get their own
// columns; nested collections are stored as JSON blobs.
type SessionRecord struct {
	ID   string `gorm:"primaryKey;type:varchar(64)"`
	Name string `gorm:"type:varchar(128);not null"`

	Markets  string `gorm:"type:jsonb;not null"`
	Accounts string `gorm:"type:jsonb;not null"`

	StakeMode     string  `gorm:"type:varchar(16);not null"`
	Stake         float64 `gorm:"type:numeric;not null"`
	StakePercent  float64 `gorm:"type:numeric"`
	Factor        float64 `gorm:"type:numeric"`
	MinBalance    float64 `gorm:"type:numeric"`
	DefaultTP     float64 `gorm:"type:numeric"`
	DefaultSL     float64 `gorm:"type:numeric"`
	DurationTicks int     `gorm:"not null"`

	Limits   string `gorm:"type:jsonb"`
	Recovery string `gorm:"type:jsonb"`

	State       string `gorm:"type:varchar(16);not null;index:idx_sessions_state"`
	PauseReason string `gorm:"type:varchar(256)"`

	ConsecutiveLosses int
	APIErrors         int
	RealizedPnL       float64 `gorm:"type:numeric"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName overrides the default table name for GORM.
func (SessionRecord) TableName() string { return "sessions" }

// ToSessionRecord flattens a session into its row shape.
func ToSessionRecord(s *models.Session) (*SessionRecord, error) {
	markets, err := json.Marshal(s.Markets)
	if err != nil {
		return nil, fmt.Errorf("marshal markets: %w", err)
	}
	accounts, err := json.Marshal(s.Accounts)
	if err != nil {
		return nil, fmt.Errorf("marshal accounts: %w", err)
	}
	limits, err := json.Marshal(s.Limits)
	if err != nil {
		return nil, fmt.Errorf("marshal limits: %w", err)
	}
	recovery, err := json.Marshal(s.Recovery)
	if err != nil {
		return nil, fmt.Errorf("marshal recovery: %w", err)
	}

	return &SessionRecord{
		ID:                s.ID,
		Name:              s.Name,
		Markets:           string(markets),
		Accounts:          string(accounts),
		StakeMode:         string(s.StakeMode),
		Stake:             s.Stake,
		StakePercent:      s.StakePercent,
		Factor:            s.Factor,
		MinBalance:        s.MinBalance,
		DefaultTP:         s.DefaultTP,
		DefaultSL:         s.DefaultSL,
		DurationTicks:     s.DurationTicks,
		Limits:            string(limits),
		Recovery:          string(recovery),
		State:             string(s.State),
		PauseReason:       s.PauseReason,
		ConsecutiveLosses: s.ConsecutiveLosses,
		APIErrors:         s.APIErrors,
		RealizedPnL:       s.RealizedPnL,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}, nil
}

// ToModel rebuilds the session from its row shape.
func (r *SessionRecord) ToModel() (*models.Session, error) {
	s := &models.Session{
		ID:                r.ID,
		Name:              r.Name,
		StakeMode:         models.StakeMode(r.StakeMode),
		Stake:             r.Stake,
		StakePercent:      r.StakePercent,
		Factor:            r.Factor,
		MinBalance:        r.MinBalance,
		DefaultTP:         r.DefaultTP,
		DefaultSL:         r.DefaultSL,
		DurationTicks:     r.DurationTicks,
		State:             models.SessionState(r.State),
		PauseReason:       r.PauseReason,
		ConsecutiveLosses: r.ConsecutiveLosses,
		APIErrors:         r.APIErrors,
		RealizedPnL:       r.RealizedPnL,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(r.Markets), &s.Markets); err != nil {
		return nil, fmt.Errorf("unmarshal markets: %w", err)
	}
	if err := json.Unmarshal([]byte(r.Accounts), &s.Accounts); err != nil {
		return nil, fmt.Errorf("unmarshal accounts: %w", err)
	}
	if r.Limits != "" {
		if err := json.Unmarshal([]byte(r.Limits), &s.Limits); err != nil {
			return nil, fmt.Errorf("unmarshal limits: %w", err)
		}
	}
	if r.Recovery != "" {
		if err := json.Unmarshal([]byte(r.Recovery), &s.Recovery); err != nil {
			return nil, fmt.Errorf("unmarshal recovery: %w", err)
		}
	}
	return s, nil
}

// SessionRepository persists sessions in Postgres with a cache in front of
// point reads. Writes go through to the database and refresh the cache.
type SessionRepository struct {
	db    *gorm.DB
	cache cache.Service
	log   *applogger.Logger
}

var _ repository.SessionStore = (*SessionRepository)(nil)

// NewSessionRepository creates the Postgres-backed session store.
func NewSessionRepository(pg *postgres.Client, c cache.Service, log *applogger.Logger) *SessionRepository {
	return &SessionRepository{db: pg.DB(), cache: c, log: log}
}

func (r *SessionRepository) Create(ctx context.Context, s *models.Session) error {
	rec, err := ToSessionRecord(s)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("create session %s: %w", s.ID, err)
	}
	r.prime(ctx, s)
	return nil
}

func (r *SessionRepository) Update(ctx context.Context, s *models.Session) error {
	s.UpdatedAt = time.Now().UTC()
	rec, err := ToSessionRecord(s)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Save(rec).Error; err != nil {
		return fmt.Errorf("update session %s: %w", s.ID, err)
	}
	r.prime(ctx, s)
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*models.Session, error) {
	key := cache.GenerateKey("session", id)
	var cached models.Session
	if err := r.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		r.log.Debug("session cache read failed", applogger.String("id", id), applogger.Error(err))
	}

	var rec SessionRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("session %s: %w", id, repository.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}

	s, err := rec.ToModel()
	if err != nil {
		return nil, err
	}
	r.prime(ctx, s)
	return s, nil
}

func (r *SessionRepository) List(ctx context.Context, states ...models.SessionState) ([]*models.Session, error) {
	q := r.db.WithContext(ctx).Model(&SessionRecord{})
	if len(states) > 0 {
		vals := make([]string, 0, len(states))
		for _, st := range states {
			vals = append(vals, string(st))
		}
		q = q.Where("state IN ?", vals)
	}

	var recs []SessionRecord
	if err := q.Order("created_at DESC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	out := make([]*models.Session, 0, len(recs))
	for i := range recs {
		s, err := recs[i].ToModel()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// prime refreshes the read cache. Cache failures never fail the write path.
func (r *SessionRepository) prime(ctx context.Context, s *models.Session) {
	key := cache.GenerateKey("session", s.ID)
	if err := r.cache.Set(ctx, key, s, sessionCacheTTL); err != nil {
		r.log.Debug("session cache write failed", applogger.String("id", s.ID), applogger.Error(err))
	}
}
