package usecase

import (
	"context"
	"sync"
	"time"

	"DigitPilot/internal/domain/models"
	"DigitPilot/internal/domain/repository"
	"DigitPilot/pkg/logger"
)

type MonitorConfig struct {
	// CallTimeout bounds each venue call made during watch and close.
	CallTimeout time.Duration
	// RewatchAttempts bounds re-subscription after the venue connection
	// drops mid-watch. Past the budget the contract stays open in the
	// store and the boot restore path picks it up.
	RewatchAttempts int
	RewatchBackoff  time.Duration
}

func (c MonitorConfig) withDefaults() MonitorConfig {
	if c.CallTimeout <= 0 {
		c.CallTimeout = 15 * time.Second
	}
	if c.RewatchAttempts <= 0 {
		c.RewatchAttempts = 3
	}
	if c.RewatchBackoff <= 0 {
		c.RewatchBackoff = 2 * time.Second
	}
	return c
}

// CloseFunc receives the finalized contract exactly once. The signal is the
// intent that placed it, nil for contracts reattached after a restart.
type CloseFunc func(ctx context.Context, c *models.Contract, sig *models.Signal)

// RewatchFunc re-acquires a venue session for the contract's account after
// the original connection died.
type RewatchFunc func(ctx context.Context) (repository.VenueSession, error)

// Monitor owns one goroutine per open contract. It watches the venue's
// contract stream, decides the exit exactly once and runs the close
// sequence: forget the subscription, sell if still open, then hand the
// final contract to the close callback.
type Monitor struct {
	cfg MonitorConfig
	log *logger.Logger

	mu     sync.Mutex
	active map[int64]string // contract id -> market

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewMonitor(cfg MonitorConfig, log *logger.Logger) *Monitor {
	return &Monitor{
		cfg:    cfg.withDefaults(),
		log:    log,
		active: make(map[int64]string),
		stop:   make(chan struct{}),
	}
}

// Active reports how many contracts are currently being watched.
func (m *Monitor) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Track starts watching a contract. Duplicate tracks of the same contract
// are ignored, which makes boot-time reattach idempotent against a race
// with a just-placed trade.
func (m *Monitor) Track(handle repository.VenueSession, c *models.Contract, sig *models.Signal, rewatch RewatchFunc, done CloseFunc) {
	m.mu.Lock()
	if _, dup := m.active[c.ID]; dup {
		m.mu.Unlock()
		return
	}
	m.active[c.ID] = c.Market
	m.mu.Unlock()

	m.wg.Add(1)
	go m.watch(handle, c, sig, rewatch, done)
}

// Close stops all watchers. Contracts stay open in the store; the next boot
// reattaches them.
func (m *Monitor) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()
}

func (m *Monitor) watch(handle repository.VenueSession, c *models.Contract, sig *models.Signal, rewatch RewatchFunc, done CloseFunc) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		delete(m.active, c.ID)
		m.mu.Unlock()
	}()

	updates, stopWatch, err := m.subscribe(handle, c.ID)
	if err != nil {
		m.log.Error("contract watch failed, contract left open",
			logger.Int64("contract_id", c.ID),
			logger.String("session_id", c.SessionID),
			logger.Error(err))
		return
	}

	rewatches := 0
	for {
		select {
		case <-m.stop:
			stopWatch()
			return
		case u, ok := <-updates:
			if !ok {
				// Connection died under the subscription.
				rewatches++
				if rewatch == nil || rewatches > m.cfg.RewatchAttempts {
					m.log.Warn("contract watch lost, contract left open",
						logger.Int64("contract_id", c.ID),
						logger.Int("rewatches", rewatches-1))
					return
				}
				updates, stopWatch, err = m.resubscribe(c.ID, rewatch)
				if err != nil {
					m.log.Warn("contract rewatch failed, contract left open",
						logger.Int64("contract_id", c.ID),
						logger.Error(err))
					return
				}
				continue
			}

			if u.EntrySpot != 0 {
				c.EntrySpot = u.EntrySpot
			}
			if u.Payout != 0 {
				c.Payout = u.Payout
			}
			c.Profit = u.Profit
			c.ExitSpot = u.CurrentSpot

			status, reason, terminal := classify(c, u)
			if !terminal {
				continue
			}
			m.finalize(handle, c, sig, u, status, reason, stopWatch, done)
			return
		}
	}
}

func (m *Monitor) subscribe(handle repository.VenueSession, contractID int64) (<-chan models.ContractUpdate, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CallTimeout)
	defer cancel()
	return handle.WatchContract(ctx, contractID)
}

func (m *Monitor) resubscribe(contractID int64, rewatch RewatchFunc) (<-chan models.ContractUpdate, func(), error) {
	select {
	case <-m.stop:
		return nil, nil, context.Canceled
	case <-time.After(m.cfg.RewatchBackoff):
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CallTimeout)
	defer cancel()

	handle, err := rewatch(ctx)
	if err != nil {
		return nil, nil, err
	}
	return handle.WatchContract(ctx, contractID)
}

// classify decides the terminal state for one update frame. Natural
// settlement wins over a threshold seen in the same frame; between TP and
// SL whichever the frame satisfies fires, and a frame cannot satisfy both.
func classify(c *models.Contract, u models.ContractUpdate) (models.ContractStatus, string, bool) {
	settled := u.IsSold || u.IsExpired || u.Status == "won" || u.Status == "lost" || u.Status == "sold"
	if settled {
		if u.Profit > 0 {
			return models.ContractWin, models.ExitNaturalClose, true
		}
		return models.ContractLoss, models.ExitNaturalClose, true
	}
	if c.TakeProfit > 0 && u.Profit >= c.TakeProfit {
		return models.ContractTakeProfit, models.ExitTakeProfit, true
	}
	if c.StopLoss > 0 && u.Profit <= -c.StopLoss {
		return models.ContractStopLoss, models.ExitStopLoss, true
	}
	return models.ContractOpen, "", false
}

// finalize runs the close sequence once: forget the venue subscription,
// sell when the contract is still open, stamp the terminal state and hand
// off to the callback. It runs on its own context so an engine shutdown
// cannot abandon a half-closed trade.
func (m *Monitor) finalize(handle repository.VenueSession, c *models.Contract, sig *models.Signal, u models.ContractUpdate, status models.ContractStatus, reason string, stopWatch func(), done CloseFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CallTimeout)
	defer cancel()

	stopWatch()

	// Threshold exits leave the contract open at the venue; sell it at
	// market before the next tick moves the price.
	if status == models.ContractTakeProfit || status == models.ContractStopLoss {
		soldFor, err := handle.Sell(ctx, c.ID)
		if err != nil {
			// The venue settles it naturally; keep the last observed
			// profit rather than guessing the sell price.
			m.log.Warn("sell failed, keeping last observed profit",
				logger.Int64("contract_id", c.ID),
				logger.Error(err))
		} else {
			c.Profit = soldFor - c.BuyPrice
		}
	}

	c.Status = status
	c.ExitReason = reason
	c.ClosedAt = time.Now().UTC()
	c.RecoveryEligible = c.Profit < 0

	m.log.Info("contract closed",
		logger.Int64("contract_id", c.ID),
		logger.String("session_id", c.SessionID),
		logger.String("market", c.Market),
		logger.String("status", string(status)),
		logger.String("exit_reason", reason),
		logger.Float64("profit", c.Profit))

	done(ctx, c, sig)
}
