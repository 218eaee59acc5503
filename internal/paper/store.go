package paper

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"SpikeTrader/internal/model"
)

// Store persists the simulated account in a SQLite database.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

type ledger struct {
	Cash   decimal.Decimal
	Config model.AccountConfigurations
}

type holding struct {
	Symbol    string
	Qty       float64
	AvgCost   decimal.Decimal
	LastPrice float64
}

func (h holding) position() model.Position {
	last := decimal.NewFromFloat(h.LastPrice)
	qty := decimal.NewFromFloat(h.Qty)
	return model.Position{
		Symbol:       h.Symbol,
		Qty:          h.Qty,
		MarketValue:  last.Mul(qty).InexactFloat64(),
		UnrealizedPL: last.Sub(h.AvgCost).Mul(qty).InexactFloat64(),
	}
}

// order carries the high-water mark trailing stops ratchet against.
type order struct {
	model.Order
	HighWater float64
}

func (o order) stopPrice() float64 {
	if o.TrailPrice > 0 {
		return o.HighWater - o.TrailPrice
	}
	return o.HighWater * (1 - o.TrailPercent/100)
}

// OpenStore opens (or creates) the database at path and runs migrations.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS account (
			id                  INTEGER PRIMARY KEY CHECK (id = 1),
			cash                TEXT NOT NULL,
			no_shorting         INTEGER NOT NULL DEFAULT 0,
			dtbp_check          TEXT NOT NULL DEFAULT 'entry',
			trade_confirm_email TEXT NOT NULL DEFAULT 'all',
			suspend_trade       INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS positions (
			symbol     TEXT PRIMARY KEY,
			qty        REAL NOT NULL,
			avg_cost   TEXT NOT NULL,
			last_price REAL NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS orders (
			id              TEXT PRIMARY KEY,
			client_order_id TEXT NOT NULL,
			symbol          TEXT NOT NULL,
			qty             REAL NOT NULL,
			side            TEXT NOT NULL,
			type            TEXT NOT NULL,
			time_in_force   TEXT NOT NULL,
			status          TEXT NOT NULL,
			trail_percent   REAL,
			trail_price     REAL,
			high_water      REAL,
			filled_qty      REAL,
			filled_avg      REAL,
			created_at      INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_created ON orders(created_at)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// init seeds the account row once; an existing account keeps its balance.
func (s *Store) init(cash decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT OR IGNORE INTO account (id, cash) VALUES (1, ?)`, cash.String())
	return err
}

func (s *Store) account() (ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var l ledger
	err := s.db.QueryRow(`SELECT cash, no_shorting, dtbp_check, trade_confirm_email, suspend_trade
		FROM account WHERE id = 1`).
		Scan(&l.Cash, &l.Config.NoShorting, &l.Config.DTBPCheck, &l.Config.TradeConfirmEmail, &l.Config.SuspendTrade)
	if err != nil {
		return ledger{}, fmt.Errorf("read account: %w", err)
	}
	return l, nil
}

func (s *Store) saveConfigurations(cfg model.AccountConfigurations) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE account SET no_shorting = ?, dtbp_check = ?, trade_confirm_email = ?, suspend_trade = ?
		WHERE id = 1`, cfg.NoShorting, cfg.DTBPCheck, cfg.TradeConfirmEmail, cfg.SuspendTrade)
	return err
}

func (s *Store) positions() ([]holding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT symbol, qty, avg_cost, last_price FROM positions ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var out []holding
	for rows.Next() {
		var h holding
		if err := rows.Scan(&h.Symbol, &h.Qty, &h.AvgCost, &h.LastPrice); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Store) position(symbol string) (holding, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := holding{Symbol: symbol}
	err := s.db.QueryRow(`SELECT qty, avg_cost, last_price FROM positions WHERE symbol = ?`, symbol).
		Scan(&h.Qty, &h.AvgCost, &h.LastPrice)
	if errors.Is(err, sql.ErrNoRows) {
		return holding{}, false, nil
	}
	if err != nil {
		return holding{}, false, fmt.Errorf("read position %s: %w", symbol, err)
	}
	return h, true, nil
}

func (s *Store) markPrice(symbol string, price float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE positions SET last_price = ? WHERE symbol = ?`, price, symbol)
	return err
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func saveOrder(db execer, o order) error {
	_, err := db.Exec(`INSERT INTO orders
		(id, client_order_id, symbol, qty, side, type, time_in_force, status,
		 trail_percent, trail_price, high_water, filled_qty, filled_avg, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			qty = excluded.qty,
			status = excluded.status,
			high_water = excluded.high_water,
			filled_qty = excluded.filled_qty,
			filled_avg = excluded.filled_avg`,
		o.ID, o.ClientOrderID, o.Symbol, o.Qty, string(o.Side), string(o.Type), string(o.TimeInForce),
		string(o.Status), o.TrailPercent, o.TrailPrice, o.HighWater, o.FilledQty, o.FilledAvg,
		o.CreatedAt.UnixNano(),
	)
	return err
}

func (s *Store) saveOrder(o order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveOrder(s.db, o)
}

const orderColumns = `id, client_order_id, symbol, qty, side, type, time_in_force, status,
	trail_percent, trail_price, high_water, filled_qty, filled_avg, created_at`

func scanOrder(sc interface{ Scan(...any) error }) (order, error) {
	var (
		o                  order
		side, typ, tif, st string
		created            int64
	)
	err := sc.Scan(&o.ID, &o.ClientOrderID, &o.Symbol, &o.Qty, &side, &typ, &tif, &st,
		&o.TrailPercent, &o.TrailPrice, &o.HighWater, &o.FilledQty, &o.FilledAvg, &created)
	if err != nil {
		return order{}, err
	}
	o.Side = model.Side(side)
	o.Type = model.OrderType(typ)
	o.TimeInForce = model.TimeInForce(tif)
	o.Status = model.OrderStatus(st)
	o.CreatedAt = time.Unix(0, created).UTC()
	return o, nil
}

func (s *Store) order(id string) (order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, err := scanOrder(s.db.QueryRow(`SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return order{}, false, nil
	}
	if err != nil {
		return order{}, false, fmt.Errorf("read order %s: %w", id, err)
	}
	return o, true, nil
}

// orders lists orders oldest first. StatusOpen selects unfilled working
// orders and StatusClosed selects filled or canceled ones.
func (s *Store) orders(status model.OrderStatus) ([]order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT ` + orderColumns + ` FROM orders`
	var args []any
	switch status {
	case model.StatusAll, "":
	case model.StatusOpen:
		query += ` WHERE status = ?`
		args = append(args, string(model.StatusNew))
	case model.StatusClosed:
		query += ` WHERE status IN (?, ?)`
		args = append(args, string(model.StatusFilled), string(model.StatusCanceled))
	default:
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var out []order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// fill executes o in full at price, moving cash and the position together
// with the order record.
func (s *Store) fill(o order, price float64) (order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return order{}, err
	}
	defer tx.Rollback()

	var cash decimal.Decimal
	if err := tx.QueryRow(`SELECT cash FROM account WHERE id = 1`).Scan(&cash); err != nil {
		return order{}, fmt.Errorf("read cash: %w", err)
	}

	var (
		qty     float64
		avgCost decimal.Decimal
	)
	held := true
	err = tx.QueryRow(`SELECT qty, avg_cost FROM positions WHERE symbol = ?`, o.Symbol).Scan(&qty, &avgCost)
	if errors.Is(err, sql.ErrNoRows) {
		held = false
	} else if err != nil {
		return order{}, fmt.Errorf("read position: %w", err)
	}

	px := decimal.NewFromFloat(price)
	amount := px.Mul(decimal.NewFromFloat(o.Qty))
	switch o.Side {
	case model.Buy:
		cash = cash.Sub(amount)
		if held {
			total := avgCost.Mul(decimal.NewFromFloat(qty)).Add(amount)
			qty += o.Qty
			avgCost = total.Div(decimal.NewFromFloat(qty))
		} else {
			qty, avgCost = o.Qty, px
		}
	case model.Sell:
		cash = cash.Add(amount)
		qty -= o.Qty
	default:
		return order{}, fmt.Errorf("unknown side %q", o.Side)
	}

	if _, err := tx.Exec(`UPDATE account SET cash = ? WHERE id = 1`, cash.String()); err != nil {
		return order{}, fmt.Errorf("update cash: %w", err)
	}
	if qty > 0 {
		_, err = tx.Exec(`INSERT INTO positions (symbol, qty, avg_cost, last_price) VALUES (?,?,?,?)
			ON CONFLICT(symbol) DO UPDATE SET qty = excluded.qty, avg_cost = excluded.avg_cost, last_price = excluded.last_price`,
			o.Symbol, qty, avgCost.String(), price)
	} else {
		_, err = tx.Exec(`DELETE FROM positions WHERE symbol = ?`, o.Symbol)
	}
	if err != nil {
		return order{}, fmt.Errorf("update position: %w", err)
	}

	o.Status = model.StatusFilled
	o.FilledQty = o.Qty
	o.FilledAvg = price
	if err := saveOrder(tx, o); err != nil {
		return order{}, fmt.Errorf("save order: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return order{}, err
	}
	return o, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
