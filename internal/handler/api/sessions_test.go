package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"DigitPilot/internal/domain/models"
	"DigitPilot/internal/domain/repository"
	"DigitPilot/internal/usecase"
	xhttp "DigitPilot/pkg/http"
)

func TestSessionViewOmitsTokens(t *testing.T) {
	sess := &models.Session{
		ID:      "sess-1",
		Markets: []string{"R_10"},
		Accounts: []models.Account{
			{Name: "acct-1", Token: "secret-venue-token", Currency: "USD", Status: models.AccountActive},
			{Name: "acct-2", Token: "another-secret", Status: models.AccountInvalid, InvalidReason: "authorization failed"},
		},
		State: models.SessionRunning,
	}

	body, err := json.Marshal(toSessionView(sess))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if bytes.Contains(body, []byte("secret-venue-token")) || bytes.Contains(body, []byte("another-secret")) {
		t.Fatalf("response leaks a venue token: %s", body)
	}
	if bytes.Contains(body, []byte(`"token"`)) {
		t.Fatalf("response carries a token field: %s", body)
	}
	if !bytes.Contains(body, []byte(`"acct-1"`)) || !bytes.Contains(body, []byte(`"invalid_reason"`)) {
		t.Fatalf("account view lost its visible fields: %s", body)
	}
}

func recordSessionError(t *testing.T, cause error) (*httptest.ResponseRecorder, xhttp.APIResponse) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/sessions/nope", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := sessionError(c, cause); err != nil {
		t.Fatalf("sessionError: %v", err)
	}
	var resp xhttp.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return rec, resp
}

func TestSessionErrorMapping(t *testing.T) {
	cases := []struct {
		name     string
		cause    error
		want     int
		wantCode string
	}{
		{"not found", repository.ErrNotFound, http.StatusNotFound, "ERR_NOT_FOUND"},
		{"wrapped transition", fmt.Errorf("%w: session is paused", usecase.ErrInvalidTransition), http.StatusConflict, "ERR_CONFLICT"},
		{"invalid input", fmt.Errorf("%w: no markets", usecase.ErrInvalidInput), http.StatusBadRequest, "ERR_BAD_REQUEST"},
		{"anything else", errors.New("postgres down"), http.StatusInternalServerError, "ERR_INTERNAL"},
	}
	for _, tc := range cases {
		rec, resp := recordSessionError(t, tc.cause)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: transport status = %d, want 200 envelope", tc.name, rec.Code)
		}
		if resp.Status != tc.want {
			t.Fatalf("%s: app status = %d, want %d", tc.name, resp.Status, tc.want)
		}
		raw, _ := json.Marshal(resp.Data)
		if !bytes.Contains(raw, []byte(tc.wantCode)) {
			t.Fatalf("%s: payload %s missing code %s", tc.name, raw, tc.wantCode)
		}
	}
}

func bindCreateRequest(t *testing.T, body string) (*createSessionRequest, interface{}) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/sessions", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	out := &createSessionRequest{}
	return out, xhttp.ReadAndValidateRequest(c, out)
}

func TestCreateSessionRequestDefaults(t *testing.T) {
	req, verr := bindCreateRequest(t, `{
		"markets": ["R_10", "1HZ10V"],
		"accounts": [{"name": "acct-1", "token": "tok"}],
		"stake": 1,
		"take_profit": 2,
		"stop_loss": 5
	}`)
	if verr != nil {
		t.Fatalf("valid request rejected: %+v", verr)
	}
	if req.StakeMode != "fixed" {
		t.Fatalf("stake mode = %q, want default fixed", req.StakeMode)
	}
	if req.DurationTicks != 1 {
		t.Fatalf("duration ticks = %d, want default 1", req.DurationTicks)
	}
}

func TestCreateSessionRequestRejectsBadMarket(t *testing.T) {
	_, verr := bindCreateRequest(t, `{
		"markets": ["r_10"],
		"accounts": [{"name": "acct-1", "token": "tok"}],
		"stake": 1,
		"take_profit": 2,
		"stop_loss": 5
	}`)
	if verr == nil {
		t.Fatalf("lowercase market symbol accepted")
	}
	errs, ok := verr.([]xhttp.ValidationError)
	if !ok {
		t.Fatalf("validation payload = %T", verr)
	}
	found := false
	for _, e := range errs {
		if e.Code == "ERR_MARKET" {
			found = true
		}
	}
	if !found {
		t.Fatalf("errors = %+v, want ERR_MARKET", errs)
	}
}

func TestCreateSessionRequestRequiresAccountToken(t *testing.T) {
	_, verr := bindCreateRequest(t, `{
		"markets": ["R_10"],
		"accounts": [{"name": "acct-1"}],
		"stake": 1,
		"take_profit": 2,
		"stop_loss": 5
	}`)
	if verr == nil {
		t.Fatalf("account without token accepted")
	}
}
