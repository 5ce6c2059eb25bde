package deriv

import (
	"encoding/json"
	"errors"
	"fmt"

	"DigitPilot/internal/domain/models"
)

// APIError is a structured error frame from the venue.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("venue error %s: %s", e.Code, e.Message)
}

// IsAuthError reports whether err is a credential failure. Those are fatal
// for the account and must never be retried.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Code {
	case "InvalidToken", "AuthorizationRequired", "DisabledAccount", "AccountDisabled", "InvalidAppID":
		return true
	}
	return false
}

// frame is the minimal envelope read off the socket. Payloads the read loop
// routes itself are decoded inline; call responses keep the raw bytes for the
// waiting caller to decode into its own shape.
type frame struct {
	MsgType      string          `json:"msg_type"`
	ReqID        int64           `json:"req_id"`
	Error        *APIError       `json:"error"`
	Subscription *subscriptionID `json:"subscription"`
	Tick         *tickPayload    `json:"tick"`
	POC          *pocPayload     `json:"proposal_open_contract"`

	raw []byte
}

type subscriptionID struct {
	ID string `json:"id"`
}

type tickPayload struct {
	ID      string  `json:"id"`
	Symbol  string  `json:"symbol"`
	Quote   float64 `json:"quote"`
	Epoch   int64   `json:"epoch"`
	PipSize int     `json:"pip_size"`
}

func (t *tickPayload) toModel() *models.Tick {
	return &models.Tick{
		Market:  t.Symbol,
		Quote:   t.Quote,
		Epoch:   t.Epoch,
		PipSize: t.PipSize,
		Digit:   models.LastDigit(t.Quote, t.PipSize),
	}
}

type pocPayload struct {
	ContractID  int64   `json:"contract_id"`
	Profit      float64 `json:"profit"`
	Payout      float64 `json:"payout"`
	EntrySpot   float64 `json:"entry_spot"`
	CurrentSpot float64 `json:"current_spot"`
	ExitTick    float64 `json:"exit_tick"`
	IsSold      int     `json:"is_sold"`
	IsExpired   int     `json:"is_expired"`
	Status      string  `json:"status"` // open, won, lost, sold
}

func (p *pocPayload) toUpdate() models.ContractUpdate {
	return models.ContractUpdate{
		ContractID:  p.ContractID,
		Profit:      p.Profit,
		Payout:      p.Payout,
		EntrySpot:   p.EntrySpot,
		CurrentSpot: p.CurrentSpot,
		IsSold:      p.IsSold == 1,
		IsExpired:   p.IsExpired == 1,
		Status:      p.Status,
	}
}

// --- Requests ---

type authorizeRequest struct {
	Authorize string `json:"authorize"`
	ReqID     int64  `json:"req_id"`
}

type authorizeResponse struct {
	Authorize struct {
		LoginID     string  `json:"loginid"`
		Currency    string  `json:"currency"`
		Balance     float64 `json:"balance"`
		AccountList []struct {
			LoginID string `json:"loginid"`
		} `json:"account_list"`
	} `json:"authorize"`
}

type historyRequest struct {
	TicksHistory string `json:"ticks_history"`
	Count        int    `json:"count"`
	End          string `json:"end"`
	Style        string `json:"style"`
	Subscribe    int    `json:"subscribe,omitempty"`
	ReqID        int64  `json:"req_id"`
}

type historyResponse struct {
	History struct {
		Prices []float64 `json:"prices"`
		Times  []int64   `json:"times"`
	} `json:"history"`
	PipSize int `json:"pip_size"`
}

type buyParameters struct {
	Amount       float64 `json:"amount"`
	Basis        string  `json:"basis"`
	ContractType string  `json:"contract_type"`
	Currency     string  `json:"currency"`
	Duration     int     `json:"duration"`
	DurationUnit string  `json:"duration_unit"`
	Symbol       string  `json:"symbol"`
	Barrier      string  `json:"barrier"`
}

type buyRequest struct {
	Buy        int           `json:"buy"`
	Price      float64       `json:"price"`
	Parameters buyParameters `json:"parameters"`
	ReqID      int64         `json:"req_id"`
}

type buyResponse struct {
	Buy struct {
		ContractID    int64   `json:"contract_id"`
		BuyPrice      float64 `json:"buy_price"`
		Payout        float64 `json:"payout"`
		LongCode      string  `json:"longcode"`
		PurchaseTime  int64   `json:"purchase_time"`
		TransactionID int64   `json:"transaction_id"`
	} `json:"buy"`
}

type pocRequest struct {
	POC        int   `json:"proposal_open_contract"`
	ContractID int64 `json:"contract_id"`
	Subscribe  int   `json:"subscribe"`
	ReqID      int64 `json:"req_id"`
}

type sellRequest struct {
	Sell  int64   `json:"sell"`
	Price float64 `json:"price"`
	ReqID int64   `json:"req_id"`
}

type sellResponse struct {
	Sell struct {
		SoldFor       float64 `json:"sold_for"`
		TransactionID int64   `json:"transaction_id"`
	} `json:"sell"`
}

type balanceRequest struct {
	Balance int   `json:"balance"`
	ReqID   int64 `json:"req_id"`
}

type balanceResponse struct {
	Balance struct {
		Balance  float64 `json:"balance"`
		Currency string  `json:"currency"`
		LoginID  string  `json:"loginid"`
	} `json:"balance"`
}

type forgetRequest struct {
	Forget string `json:"forget"`
	ReqID  int64  `json:"req_id"`
}

type pingRequest struct {
	Ping  int   `json:"ping"`
	ReqID int64 `json:"req_id"`
}

// contractType maps a signal side onto the venue's digit contract names.
func contractType(side models.Side) string {
	if side == models.SideOver {
		return "DIGITOVER"
	}
	return "DIGITUNDER"
}

func decodeFrame(data []byte) (*frame, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	f.raw = data
	return &f, nil
}
