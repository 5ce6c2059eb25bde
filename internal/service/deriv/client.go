package deriv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"DigitPilot/internal/domain/models"
	"DigitPilot/pkg/logger"

	"github.com/gorilla/websocket"
)

var (
	ErrClosed      = errors.New("deriv: connection closed")
	ErrCallTimeout = errors.New("deriv: call timed out")
)

// Client is one WebSocket connection to the venue. A single read loop owns
// the socket and routes frames: call responses by req_id, tick frames to the
// tick sink, contract updates to their watchers. Malformed frames are
// dropped and logged; they never take the connection down.
type Client struct {
	endpoint     string
	pingInterval time.Duration
	callTimeout  time.Duration
	log          *logger.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[int64]chan *frame
	watchers map[int64]chan models.ContractUpdate
	onTick   func(*models.Tick)

	reqID     atomic.Int64
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Dial connects and starts the read and keepalive loops.
func Dial(ctx context.Context, endpoint, appID string, pingInterval, callTimeout time.Duration, log *logger.Logger) (*Client, error) {
	u := fmt.Sprintf("%s?app_id=%s", endpoint, appID)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("deriv connect: %w", err)
	}

	if callTimeout <= 0 {
		callTimeout = 15 * time.Second
	}
	c := &Client{
		endpoint:     endpoint,
		pingInterval: pingInterval,
		callTimeout:  callTimeout,
		log:          log,
		conn:         conn,
		pending:      make(map[int64]chan *frame),
		watchers:     make(map[int64]chan models.ContractUpdate),
		done:         make(chan struct{}),
	}

	go c.readLoop()
	if pingInterval > 0 {
		go c.pingLoop()
	}
	return c, nil
}

// SetTickSink installs the callback for streamed ticks. Must be set before
// the first subscription.
func (c *Client) SetTickSink(fn func(*models.Tick)) {
	c.mu.Lock()
	c.onTick = fn
	c.mu.Unlock()
}

func (c *Client) nextID() int64 { return c.reqID.Add(1) }

func (c *Client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// call sends a request and waits for the frame echoing its req_id. The
// request value must already carry id in its req_id field.
func (c *Client) call(ctx context.Context, id int64, req any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	ch := make(chan *frame, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.writeJSON(req); err != nil {
		return fmt.Errorf("deriv write: %w", err)
	}

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrCallTimeout
		}
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	case f := <-ch:
		if f.Error != nil {
			return f.Error
		}
		if out != nil {
			return decodeInto(f.raw, out)
		}
		return nil
	}
}

func decodeInto(raw []byte, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("deriv decode response: %w", err)
	}
	return nil
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(fmt.Errorf("deriv read: %w", err))
			return
		}
		f, err := decodeFrame(data)
		if err != nil {
			c.log.Warn("dropping malformed frame", logger.Error(err))
			continue
		}
		c.dispatch(f)
	}
}

func (c *Client) dispatch(f *frame) {
	// The first frame of a subscription both answers the call and opens the
	// stream, so pending delivery and payload routing are not exclusive.
	if f.ReqID != 0 {
		c.mu.Lock()
		ch, ok := c.pending[f.ReqID]
		if ok {
			delete(c.pending, f.ReqID)
		}
		c.mu.Unlock()
		if ok {
			ch <- f
		}
	}

	switch f.MsgType {
	case "tick":
		if f.Tick == nil || f.Tick.Symbol == "" || f.Tick.PipSize <= 0 || f.Tick.Quote <= 0 {
			if f.Error == nil {
				c.log.Warn("dropping malformed tick frame")
			}
			return
		}
		c.mu.Lock()
		sink := c.onTick
		c.mu.Unlock()
		if sink != nil {
			sink(f.Tick.toModel())
		}
	case "proposal_open_contract":
		if f.POC == nil || f.POC.ContractID == 0 {
			return
		}
		c.mu.Lock()
		ch, ok := c.watchers[f.POC.ContractID]
		c.mu.Unlock()
		if !ok {
			return
		}
		select {
		case ch <- f.POC.toUpdate():
		default:
			// Monitor is behind; the next update supersedes this one anyway.
		}
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.writeJSON(pingRequest{Ping: 1, ReqID: c.nextID()}); err != nil {
				c.fail(fmt.Errorf("deriv ping: %w", err))
				return
			}
		}
	}
}

func (c *Client) fail(err error) {
	c.closeOnce.Do(func() {
		c.closeErr = err
		close(c.done)
		_ = c.conn.Close()

		c.mu.Lock()
		for id, ch := range c.watchers {
			close(ch)
			delete(c.watchers, id)
		}
		c.mu.Unlock()
	})
}

// Close shuts the connection down and wakes every waiter.
func (c *Client) Close() error {
	c.fail(ErrClosed)
	return nil
}

// Alive reports whether the socket is still usable.
func (c *Client) Alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Done closes when the connection dies; Err carries the terminal error.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.closeErr
	default:
		return nil
	}
}

// --- Protocol calls ---

// Authorize authenticates the connection with an API token.
func (c *Client) Authorize(ctx context.Context, token string) (*authorizeResponse, error) {
	id := c.nextID()
	var resp authorizeResponse
	if err := c.call(ctx, id, authorizeRequest{Authorize: token, ReqID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// History fetches the latest count ticks for market. With subscribe true the
// same call also opens the live tick stream, so the window warmup and the
// stream start cannot race; the returned subscription id is used later for a
// targeted forget.
func (c *Client) History(ctx context.Context, market string, count int, subscribe bool) ([]*models.Tick, string, error) {
	id := c.nextID()
	req := historyRequest{TicksHistory: market, Count: count, End: "latest", Style: "ticks", ReqID: id}
	if subscribe {
		req.Subscribe = 1
	}
	var resp struct {
		historyResponse
		Subscription subscriptionID `json:"subscription"`
	}
	if err := c.call(ctx, id, req, &resp); err != nil {
		return nil, "", err
	}

	ticks := make([]*models.Tick, 0, len(resp.History.Prices))
	for i, price := range resp.History.Prices {
		if i >= len(resp.History.Times) {
			break
		}
		ticks = append(ticks, &models.Tick{
			Market:  market,
			Quote:   price,
			Epoch:   resp.History.Times[i],
			PipSize: resp.PipSize,
			Digit:   models.LastDigit(price, resp.PipSize),
		})
	}
	return ticks, resp.Subscription.ID, nil
}

// Buy places a digit contract and returns it in open state.
func (c *Client) Buy(ctx context.Context, order models.Order) (*models.Contract, error) {
	id := c.nextID()
	req := buyRequest{
		Buy:   1,
		Price: order.Stake,
		Parameters: buyParameters{
			Amount:       order.Stake,
			Basis:        "stake",
			ContractType: contractType(order.Side),
			Currency:     order.Currency,
			Duration:     order.DurationTicks,
			DurationUnit: "t",
			Symbol:       order.Market,
			Barrier:      fmt.Sprintf("%d", order.Digit),
		},
		ReqID: id,
	}
	var resp buyResponse
	if err := c.call(ctx, id, req, &resp); err != nil {
		return nil, err
	}

	return &models.Contract{
		ID:       resp.Buy.ContractID,
		Market:   order.Market,
		Side:     order.Side,
		Digit:    order.Digit,
		Stake:    order.Stake,
		BuyPrice: resp.Buy.BuyPrice,
		Payout:   resp.Buy.Payout,
		Status:   models.ContractOpen,
		OpenedAt: time.Unix(resp.Buy.PurchaseTime, 0).UTC(),
	}, nil
}

// WatchContract subscribes to updates for one open contract. The returned
// cancel forgets the subscription and unregisters the watcher; the channel
// closes when the connection dies.
func (c *Client) WatchContract(ctx context.Context, contractID int64) (<-chan models.ContractUpdate, func(), error) {
	ch := make(chan models.ContractUpdate, 16)
	c.mu.Lock()
	c.watchers[contractID] = ch
	c.mu.Unlock()

	id := c.nextID()
	var resp struct {
		Subscription subscriptionID `json:"subscription"`
		POC          pocPayload     `json:"proposal_open_contract"`
	}
	req := pocRequest{POC: 1, ContractID: contractID, Subscribe: 1, ReqID: id}
	if err := c.call(ctx, id, req, &resp); err != nil {
		c.mu.Lock()
		delete(c.watchers, contractID)
		c.mu.Unlock()
		return nil, nil, err
	}

	// The call response is itself the first update.
	if resp.POC.ContractID != 0 {
		ch <- resp.POC.toUpdate()
	}

	subID := resp.Subscription.ID
	cancel := func() {
		c.mu.Lock()
		delete(c.watchers, contractID)
		c.mu.Unlock()
		if subID != "" && c.Alive() {
			fctx, fcancel := context.WithTimeout(context.Background(), c.callTimeout)
			defer fcancel()
			_ = c.Forget(fctx, subID)
		}
	}
	return ch, cancel, nil
}

// Sell closes an open contract at market and returns the sold-for amount.
func (c *Client) Sell(ctx context.Context, contractID int64) (float64, error) {
	id := c.nextID()
	var resp sellResponse
	if err := c.call(ctx, id, sellRequest{Sell: contractID, Price: 0, ReqID: id}, &resp); err != nil {
		return 0, err
	}
	return resp.Sell.SoldFor, nil
}

// Balance fetches the account balance on an authorized connection.
func (c *Client) Balance(ctx context.Context) (float64, error) {
	id := c.nextID()
	var resp balanceResponse
	if err := c.call(ctx, id, balanceRequest{Balance: 1, ReqID: id}, &resp); err != nil {
		return 0, err
	}
	return resp.Balance.Balance, nil
}

// Forget drops a single subscription by id. Other streams on the connection
// are untouched.
func (c *Client) Forget(ctx context.Context, subscriptionID string) error {
	id := c.nextID()
	return c.call(ctx, id, forgetRequest{Forget: subscriptionID, ReqID: id}, nil)
}

// Ping sends one keepalive round trip.
func (c *Client) Ping(ctx context.Context) error {
	id := c.nextID()
	return c.call(ctx, id, pingRequest{Ping: 1, ReqID: id}, nil)
}
