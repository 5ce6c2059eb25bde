package repository

import (
	"reflect"
	"testing"
	"time"

	"DigitPilot/internal/domain/models"
)

func sampleSession() *models.Session {
	return &models.Session{
		ID:      "sess-1",
		Name:    "evening run",
		Markets: []string{"R_10", "R_25"},
		Accounts: []models.Account{
			{Name: "main", Token: "tok-a", Currency: "USD", TakeProfit: 1.5, Status: models.AccountActive},
			{Name: "backup", Token: "tok-b", Currency: "USD", Status: models.AccountInvalid, InvalidReason: "balance below floor"},
		},
		StakeMode:         models.StakeMartingale,
		Stake:             2,
		Factor:            2.5,
		MinBalance:        10,
		DefaultTP:         1.2,
		DefaultSL:         3,
		DurationTicks:     1,
		Limits:            models.Limits{TradesPerMinute: 5, MaxDailyLoss: 50},
		State:             models.SessionRunning,
		Recovery:          models.Recovery{Multiplier: 2.5, ToRecover: 7.5, Recovered: 1.5, Target: 20},
		ConsecutiveLosses: 2,
		RealizedPnL:       -3.25,
		CreatedAt:         time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		UpdatedAt:         time.Date(2025, 6, 1, 10, 5, 0, 0, time.UTC),
	}
}

func TestSessionRecordRoundTrip(t *testing.T) {
	want := sampleSession()

	rec, err := ToSessionRecord(want)
	if err != nil {
		t.Fatalf("ToSessionRecord: %v", err)
	}
	if rec.State != "running" {
		t.Fatalf("state column = %q, want running", rec.State)
	}
	if rec.StakeMode != "martingale" {
		t.Fatalf("stake_mode column = %q, want martingale", rec.StakeMode)
	}

	got, err := rec.ToModel()
	if err != nil {
		t.Fatalf("ToModel: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestSessionRecordEmptyBlobsStayZero(t *testing.T) {
	rec := &SessionRecord{
		ID:       "sess-2",
		Name:     "bare",
		Markets:  `["R_50"]`,
		Accounts: `[]`,
		State:    "pending",
	}

	s, err := rec.ToModel()
	if err != nil {
		t.Fatalf("ToModel: %v", err)
	}
	if s.Limits != (models.Limits{}) {
		t.Fatalf("limits = %+v, want zero", s.Limits)
	}
	if s.Recovery != (models.Recovery{}) {
		t.Fatalf("recovery = %+v, want zero", s.Recovery)
	}
	if len(s.Accounts) != 0 {
		t.Fatalf("accounts = %d, want 0", len(s.Accounts))
	}
}
