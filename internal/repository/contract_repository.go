package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"DigitPilot/internal/domain/models"
	"DigitPilot/internal/domain/repository"
	"DigitPilot/pkg/postgres"
)

// ContractRecord is one placed contract row, keyed by the venue contract id.
type ContractRecord struct {
	ID int64 `gorm:"primaryKey;autoIncrement:false"`

	SignalID  string `gorm:"type:varchar(64)"`
	SessionID string `gorm:"type:varchar(64);not null;index:idx_contracts_session"`
	Account   string `gorm:"type:varchar(64);not null"`
	Market    string `gorm:"type:varchar(32);not null"`
	Side      string `gorm:"type:varchar(8);not null"`
	Digit     int    `gorm:"not null"`

	Stake      float64 `gorm:"type:numeric;not null"`
	BuyPrice   float64 `gorm:"type:numeric"`
	Payout     float64 `gorm:"type:numeric"`
	Profit     float64 `gorm:"type:numeric"`
	TakeProfit float64 `gorm:"type:numeric"`
	StopLoss   float64 `gorm:"type:numeric"`
	EntrySpot  float64 `gorm:"type:numeric"`
	ExitSpot   float64 `gorm:"type:numeric"`

	Status           string `gorm:"type:varchar(16);not null;index:idx_contracts_status"`
	ExitReason       string `gorm:"type:varchar(16)"`
	RecoveryEligible bool

	OpenedAt time.Time  `gorm:"not null;index:idx_contracts_opened"`
	ClosedAt *time.Time `gorm:"index:idx_contracts_closed"`
}

// TableName overrides the default table name for GORM.
func (ContractRecord) TableName() string { return "contracts" }

// ToContractRecord flattens a contract into its row shape.
func ToContractRecord(c *models.Contract) *ContractRecord {
	rec := &ContractRecord{
		ID:               c.ID,
		SignalID:         c.SignalID,
		SessionID:        c.SessionID,
		Account:          c.Account,
		Market:           c.Market,
		Side:             string(c.Side),
		Digit:            c.Digit,
		Stake:            c.Stake,
		BuyPrice:         c.BuyPrice,
		Payout:           c.Payout,
		Profit:           c.Profit,
		TakeProfit:       c.TakeProfit,
		StopLoss:         c.StopLoss,
		EntrySpot:        c.EntrySpot,
		ExitSpot:         c.ExitSpot,
		Status:           string(c.Status),
		ExitReason:       c.ExitReason,
		RecoveryEligible: c.RecoveryEligible,
		OpenedAt:         c.OpenedAt,
	}
	if !c.ClosedAt.IsZero() {
		t := c.ClosedAt
		rec.ClosedAt = &t
	}
	return rec
}

// ToModel rebuilds the contract from its row shape.
func (r *ContractRecord) ToModel() *models.Contract {
	c := &models.Contract{
		ID:               r.ID,
		SignalID:         r.SignalID,
		SessionID:        r.SessionID,
		Account:          r.Account,
		Market:           r.Market,
		Side:             models.Side(r.Side),
		Digit:            r.Digit,
		Stake:            r.Stake,
		BuyPrice:         r.BuyPrice,
		Payout:           r.Payout,
		Profit:           r.Profit,
		TakeProfit:       r.TakeProfit,
		StopLoss:         r.StopLoss,
		EntrySpot:        r.EntrySpot,
		ExitSpot:         r.ExitSpot,
		Status:           models.ContractStatus(r.Status),
		ExitReason:       r.ExitReason,
		RecoveryEligible: r.RecoveryEligible,
		OpenedAt:         r.OpenedAt,
	}
	if r.ClosedAt != nil {
		c.ClosedAt = *r.ClosedAt
	}
	return c
}

// ContractRepository persists placed contracts and their outcomes.
type ContractRepository struct {
	db *gorm.DB
}

var _ repository.ContractStore = (*ContractRepository)(nil)

// NewContractRepository creates the Postgres-backed contract store.
func NewContractRepository(pg *postgres.Client) *ContractRepository {
	return &ContractRepository{db: pg.DB()}
}

// SaveContract upserts on the venue contract id so a replayed placement
// after a crash never fails the monitor.
func (r *ContractRepository) SaveContract(ctx context.Context, c *models.Contract) error {
	rec := ToContractRecord(c)
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("save contract %d: %w", c.ID, err)
	}
	return nil
}

func (r *ContractRepository) UpdateContract(ctx context.Context, c *models.Contract) error {
	rec := ToContractRecord(c)
	if err := r.db.WithContext(ctx).Save(rec).Error; err != nil {
		return fmt.Errorf("update contract %d: %w", c.ID, err)
	}
	return nil
}

func (r *ContractRepository) ListContracts(ctx context.Context, sessionID string, limit int) ([]*models.Contract, error) {
	if limit <= 0 {
		limit = 100
	}
	var recs []ContractRecord
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("opened_at DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list contracts for %s: %w", sessionID, err)
	}
	return toContracts(recs), nil
}

func (r *ContractRepository) OpenContracts(ctx context.Context, sessionID string) ([]*models.Contract, error) {
	var recs []ContractRecord
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND status = ?", sessionID, string(models.ContractOpen)).
		Order("opened_at ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("open contracts for %s: %w", sessionID, err)
	}
	return toContracts(recs), nil
}

func toContracts(recs []ContractRecord) []*models.Contract {
	out := make([]*models.Contract, 0, len(recs))
	for i := range recs {
		out = append(out, recs[i].ToModel())
	}
	return out
}
