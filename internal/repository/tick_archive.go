package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"DigitPilot/internal/domain/models"
	"DigitPilot/internal/domain/repository"
	pkgch "DigitPilot/pkg/clickhouse"
	applogger "DigitPilot/pkg/logger"
)

const (
	ticksTable = "ticks"

	// ClickHouse handles wide inserts well; chunking bounds the statement
	// size when a backlog flushes at once.
	insertChunkSize = 2000
)

var tickSchema = []string{
	`CREATE TABLE IF NOT EXISTS ticks (
		ts       DateTime('UTC'),
		market   LowCardinality(String),
		quote    Float64,
		pip_size UInt8,
		digit    UInt8
	) ENGINE = MergeTree()
	PARTITION BY toYYYYMM(ts)
	ORDER BY (market, ts)
	TTL ts + INTERVAL 90 DAY`,
}

// TickArchive is the ClickHouse-backed tick log feeding the backtester.
type TickArchive struct {
	ch  *pkgch.Client
	db  *sql.DB
	log *applogger.Logger
}

var _ repository.TickArchive = (*TickArchive)(nil)

// NewTickArchive creates the archive on an established ClickHouse client.
func NewTickArchive(ch *pkgch.Client, log *applogger.Logger) *TickArchive {
	return &TickArchive{ch: ch, db: ch.DB(), log: log}
}

// Init ensures the tick table exists.
func (a *TickArchive) Init(ctx context.Context) error {
	if err := a.ch.InitSchema(ctx, tickSchema); err != nil {
		return fmt.Errorf("init tick schema: %w", err)
	}
	return nil
}

// StoreBatch writes ticks in chunked multi-row inserts. Rows missing a
// market or epoch are skipped, not failed, so one bad frame cannot poison a
// whole batch.
func (a *TickArchive) StoreBatch(ctx context.Context, ticks []*models.Tick) error {
	if len(ticks) == 0 {
		return nil
	}

	for start := 0; start < len(ticks); start += insertChunkSize {
		end := start + insertChunkSize
		if end > len(ticks) {
			end = len(ticks)
		}
		if err := a.storeChunk(ctx, ticks[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (a *TickArchive) storeChunk(ctx context.Context, ticks []*models.Tick) error {
	placeholders := make([]string, 0, len(ticks))
	args := make([]interface{}, 0, len(ticks)*5)
	skipped := 0

	for _, t := range ticks {
		if t == nil || t.Market == "" || t.Epoch <= 0 {
			skipped++
			continue
		}
		placeholders = append(placeholders, "(?, ?, ?, ?, ?)")
		args = append(args,
			time.Unix(t.Epoch, 0).UTC(),
			t.Market,
			t.Quote,
			uint8(t.PipSize),
			uint8(t.Digit),
		)
	}
	if skipped > 0 {
		a.log.Warn("tick archive skipped invalid rows", applogger.Int("skipped", skipped))
	}
	if len(placeholders) == 0 {
		return nil
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (ts, market, quote, pip_size, digit) VALUES %s",
		ticksTable, strings.Join(placeholders, ","),
	)
	if _, err := a.db.ExecContext(ctx, query, args...); err != nil {
		a.log.Error("tick archive insert failed",
			applogger.Int("rows", len(placeholders)),
			applogger.Error(err))
		return fmt.Errorf("insert ticks: %w", err)
	}
	return nil
}

// Query returns archived ticks for a market in ascending time order, the
// order replay wants them.
func (a *TickArchive) Query(ctx context.Context, market string, from, to time.Time, limit int) ([]*models.Tick, error) {
	if limit <= 0 {
		limit = 100_000
	}

	query := fmt.Sprintf(`SELECT ts, market, quote, pip_size, digit
		FROM %s
		WHERE market = ? AND ts >= ? AND ts < ?
		ORDER BY ts ASC
		LIMIT ?`, ticksTable)

	rows, err := a.db.QueryContext(ctx, query, market, from.UTC(), to.UTC(), limit)
	if err != nil {
		a.log.Error("tick archive query failed",
			applogger.String("market", market),
			applogger.Error(err))
		return nil, fmt.Errorf("query ticks: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Tick, 0, 1024)
	for rows.Next() {
		var (
			ts      time.Time
			mkt     string
			quote   float64
			pipSize uint8
			digit   uint8
		)
		if err := rows.Scan(&ts, &mkt, &quote, &pipSize, &digit); err != nil {
			a.log.Error("tick archive scan failed", applogger.Error(err))
			return nil, fmt.Errorf("scan tick: %w", err)
		}
		out = append(out, &models.Tick{
			Market:  mkt,
			Quote:   quote,
			Epoch:   ts.Unix(),
			PipSize: int(pipSize),
			Digit:   int(digit),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ticks: %w", err)
	}
	return out, nil
}

func (a *TickArchive) Health(ctx context.Context) error {
	return a.ch.Health(ctx)
}

func (a *TickArchive) Close() error {
	return a.ch.Close()
}
