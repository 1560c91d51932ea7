package history

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"trailbot/pkg/db"
)

// Trade — one executed order as the journal records it.
type Trade struct {
	ID        int64
	ProductID string
	Side      string
	Price     float64
	Size      float64
	Reason    string
	At        time.Time
}

// Journal persists the trade log. Writes must not block trading: the
// runner logs and moves on when a record fails.
type Journal interface {
	Record(ctx context.Context, t Trade) error
	Recent(ctx context.Context, limit int) ([]Trade, error)
}

// New returns the postgres journal, or the in-memory one when the bot
// runs without a database.
func New(tx *db.PgTxManager) Journal {
	if tx == nil {
		return NewMemory()
	}
	j := &pgJournal{tx: tx}
	j.ddl = func(ctx context.Context) error {
		_, err := tx.Conn().Exec(ctx, schema)
		return err
	}
	return j
}

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id         BIGSERIAL PRIMARY KEY,
	product_id TEXT             NOT NULL,
	side       TEXT             NOT NULL,
	price      DOUBLE PRECISION NOT NULL,
	size       DOUBLE PRECISION NOT NULL,
	reason     TEXT             NOT NULL DEFAULT '',
	at         TIMESTAMPTZ      NOT NULL
)`

type pgJournal struct {
	tx    *db.PgTxManager
	ddl   func(ctx context.Context) error
	mu    sync.Mutex
	ready bool
}

// ensure creates the trades table once; a failed attempt is retried on
// the next call rather than cached.
func (j *pgJournal) ensure(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.ready {
		return nil
	}
	if err := j.ddl(ctx); err != nil {
		return errors.Wrap(err, "ensure trades table")
	}
	j.ready = true
	return nil
}

func (j *pgJournal) Record(ctx context.Context, t Trade) error {
	if err := j.ensure(ctx); err != nil {
		return err
	}
	err := j.tx.RunMaster(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO trades (product_id, side, price, size, reason, at) VALUES ($1, $2, $3, $4, $5, $6)`,
			t.ProductID, t.Side, t.Price, t.Size, t.Reason, t.At,
		)
		return err
	})
	return errors.Wrap(err, "record trade")
}

func (j *pgJournal) Recent(ctx context.Context, limit int) ([]Trade, error) {
	if err := j.ensure(ctx); err != nil {
		return nil, err
	}
	rows, err := j.tx.Conn().Query(ctx,
		`SELECT id, product_id, side, price, size, reason, at FROM trades ORDER BY at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "recent trades")
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		var t Trade
		if err := rows.Scan(&t.ID, &t.ProductID, &t.Side, &t.Price, &t.Size, &t.Reason, &t.At); err != nil {
			return nil, errors.Wrap(err, "scan trade")
		}
		out = append(out, t)
	}
	return out, errors.Wrap(rows.Err(), "recent trades rows")
}

// Memory keeps the most recent trades in a ring, newest first on read.
type Memory struct {
	mu     sync.Mutex
	trades []Trade
	nextID int64
}

const memoryCap = 500

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Record(_ context.Context, t Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	t.ID = m.nextID
	m.trades = append(m.trades, t)
	if len(m.trades) > memoryCap {
		m.trades = m.trades[len(m.trades)-memoryCap:]
	}
	return nil
}

func (m *Memory) Recent(_ context.Context, limit int) ([]Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > len(m.trades) {
		limit = len(m.trades)
	}
	out := make([]Trade, 0, limit)
	for i := len(m.trades) - 1; i >= len(m.trades)-limit; i-- {
		out = append(out, m.trades[i])
	}
	return out, nil
}
