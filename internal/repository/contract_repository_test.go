package repository

import (
	"reflect"
	"testing"
	"time"

	"DigitPilot/internal/domain/models"
)

func TestContractRecordRoundTrip(t *testing.T) {
	want := &models.Contract{
		ID:               7001,
		SignalID:         "sig-1",
		SessionID:        "sess-1",
		Account:          "main",
		Market:           "R_10",
		Side:             models.SideOver,
		Digit:            4,
		Stake:            2.5,
		BuyPrice:         2.5,
		Payout:           4.88,
		Profit:           2.38,
		TakeProfit:       1.5,
		StopLoss:         2,
		EntrySpot:        101.231,
		ExitSpot:         101.247,
		Status:           models.ContractWin,
		ExitReason:       models.ExitNaturalClose,
		RecoveryEligible: false,
		OpenedAt:         time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		ClosedAt:         time.Date(2025, 6, 1, 10, 0, 2, 0, time.UTC),
	}

	rec := ToContractRecord(want)
	if rec.ClosedAt == nil {
		t.Fatal("closed contract must persist closed_at")
	}
	got := rec.ToModel()
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestContractRecordOpenHasNullClose(t *testing.T) {
	open := &models.Contract{
		ID:        7002,
		SessionID: "sess-1",
		Account:   "main",
		Market:    "R_10",
		Side:      models.SideUnder,
		Digit:     6,
		Stake:     1,
		Status:    models.ContractOpen,
		OpenedAt:  time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
	}

	rec := ToContractRecord(open)
	if rec.ClosedAt != nil {
		t.Fatalf("open contract persisted closed_at %v", *rec.ClosedAt)
	}
	got := rec.ToModel()
	if !got.ClosedAt.IsZero() {
		t.Fatalf("restored open contract has closed_at %v", got.ClosedAt)
	}
	if got.Status != models.ContractOpen {
		t.Fatalf("status = %s, want open", got.Status)
	}
}
