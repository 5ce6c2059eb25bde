package deriv

import (
	"context"
	"errors"
	"testing"
	"time"

	"DigitPilot/internal/domain/models"
)

func dialTest(t *testing.T, s *venueServer) *Client {
	t.Helper()
	cl, err := Dial(context.Background(), s.url, "1089", 0, 5*time.Second, testLogger(t))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = cl.Close() })
	return cl
}

func TestClientAuthorize(t *testing.T) {
	s := newVenueServer(t)
	cl := dialTest(t, s)

	auth, err := cl.Authorize(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if auth.Authorize.LoginID != "CR90001" || auth.Authorize.Currency != "USD" {
		t.Fatalf("authorize = %+v", auth.Authorize)
	}
}

func TestClientAuthorizeErrorFrame(t *testing.T) {
	s := newVenueServer(t)
	s.authFail = true
	cl := dialTest(t, s)

	_, err := cl.Authorize(context.Background(), "bad-token")
	if err == nil {
		t.Fatalf("authorize succeeded with invalid token")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "InvalidToken" {
		t.Fatalf("err = %v, want APIError InvalidToken", err)
	}
	if !IsAuthError(err) {
		t.Fatalf("IsAuthError = false for %v", err)
	}
}

func TestClientHistoryDigits(t *testing.T) {
	s := newVenueServer(t)
	cl := dialTest(t, s)

	ticks, subID, err := cl.History(context.Background(), "R_10", 100, true)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if subID != "ticks-R_10" {
		t.Fatalf("subID = %q", subID)
	}
	// 101.231, 101.242, 101.253 at pip size 3.
	want := []int{1, 2, 3}
	if len(ticks) != len(want) {
		t.Fatalf("got %d ticks, want %d", len(ticks), len(want))
	}
	for i, tk := range ticks {
		if tk.Digit != want[i] {
			t.Fatalf("tick %d digit = %d, want %d", i, tk.Digit, want[i])
		}
	}
}

func TestClientBuyMapsContract(t *testing.T) {
	s := newVenueServer(t)
	cl := dialTest(t, s)

	order := models.Order{
		Market:        "R_10",
		Side:          models.SideOver,
		Digit:         4,
		Stake:         10,
		Currency:      "USD",
		DurationTicks: 1,
	}
	c, err := cl.Buy(context.Background(), order)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if c.ID != 7001 || c.Status != models.ContractOpen {
		t.Fatalf("contract = %+v", c)
	}
	if c.Side != models.SideOver || c.Digit != 4 || c.Payout != 19.5 {
		t.Fatalf("contract fields = %+v", c)
	}
}

func TestClientWatchContractStreamsUpdates(t *testing.T) {
	s := newVenueServer(t)
	cl := dialTest(t, s)

	updates, cancel, err := cl.WatchContract(context.Background(), 7001)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer cancel()

	first := <-updates
	if first.ContractID != 7001 || first.Status != "open" {
		t.Fatalf("first update = %+v", first)
	}

	s.pushContract(7001, 9.5, "won", true)
	select {
	case u := <-updates:
		if u.Profit != 9.5 || !u.IsSold || u.Status != "won" {
			t.Fatalf("update = %+v", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no streamed contract update")
	}
}

func TestClientWatchCancelForgetsSubscription(t *testing.T) {
	s := newVenueServer(t)
	cl := dialTest(t, s)

	_, cancel, err := cl.WatchContract(context.Background(), 7001)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	cancel()

	waitFor(t, 2*time.Second, func() bool {
		for _, id := range s.forgotten() {
			if id == "poc-1" {
				return true
			}
		}
		return false
	}, "targeted forget")
}

func TestClientCallAfterCloseFails(t *testing.T) {
	s := newVenueServer(t)
	cl := dialTest(t, s)

	_ = cl.Close()
	if cl.Alive() {
		t.Fatalf("closed client reports alive")
	}
	_, err := cl.Balance(context.Background())
	if err == nil {
		t.Fatalf("call on closed client succeeded")
	}
}

func TestClientMalformedFrameDoesNotKillConnection(t *testing.T) {
	s := newVenueServer(t)
	cl := dialTest(t, s)

	// A frame that is not JSON at all must be dropped, not fault the client.
	s.pushRaw([]byte("{not json"))

	if err := cl.Ping(context.Background()); err != nil {
		t.Fatalf("ping after malformed frame: %v", err)
	}
	if !cl.Alive() {
		t.Fatalf("client died on malformed frame")
	}
}
