package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"SpikeTrader/internal/model"
)

// Alpaca talks to the Alpaca trading and market data REST APIs.
type Alpaca struct {
	BaseURL   string
	DataURL   string
	KeyID     string
	SecretKey string
	// Feed selects the market data feed ("iex" works on free plans).
	Feed   string
	Client *http.Client
	Now    func() time.Time
}

// NewAlpaca creates a client with optional proxy support.
func NewAlpaca(baseURL, dataURL, keyID, secretKey, proxyURL string) *Alpaca {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &Alpaca{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		DataURL:   strings.TrimRight(dataURL, "/"),
		KeyID:     keyID,
		SecretKey: secretKey,
		Feed:      "iex",
		Client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		Now: time.Now,
	}
}

func (a *Alpaca) do(ctx context.Context, method, base, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s %s: %w", method, path, err)
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, base+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("APCA-API-KEY-ID", a.KeyID)
	req.Header.Set("APCA-API-SECRET-KEY", a.SecretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s read body: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp.StatusCode, raw)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s %s decode: %w", method, path, err)
	}
	return nil
}

func decodeAPIError(status int, raw []byte) error {
	e := &APIError{Status: status}
	if gjson.ValidBytes(raw) {
		res := gjson.ParseBytes(raw)
		e.Code = int(res.Get("code").Int())
		e.Message = res.Get("message").String()
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(string(raw))
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

type alpacaAccount struct {
	Cash           decimal.Decimal `json:"cash"`
	BuyingPower    decimal.Decimal `json:"buying_power"`
	TradingBlocked bool            `json:"trading_blocked"`
}

// GetAccount reads cash, buying power and the trading-blocked flag.
func (a *Alpaca) GetAccount(ctx context.Context) (model.AccountSnapshot, error) {
	var acct alpacaAccount
	if err := a.do(ctx, http.MethodGet, a.BaseURL, "/v2/account", nil, &acct); err != nil {
		return model.AccountSnapshot{}, err
	}
	return model.AccountSnapshot{
		Cash:           acct.Cash.InexactFloat64(),
		BuyingPower:    acct.BuyingPower.InexactFloat64(),
		TradingBlocked: acct.TradingBlocked,
	}, nil
}

type alpacaClock struct {
	Timestamp time.Time `json:"timestamp"`
	IsOpen    bool      `json:"is_open"`
	NextOpen  time.Time `json:"next_open"`
	NextClose time.Time `json:"next_close"`
}

// GetClock reads the market clock.
func (a *Alpaca) GetClock(ctx context.Context) (model.Clock, error) {
	var c alpacaClock
	if err := a.do(ctx, http.MethodGet, a.BaseURL, "/v2/clock", nil, &c); err != nil {
		return model.Clock{}, err
	}
	return model.Clock(c), nil
}

// barsLookback is how far back a bar request reaches so that count bars
// exist even across a weekend.
func barsLookback(g model.Granularity, count int) time.Duration {
	switch g {
	case model.Day:
		return time.Duration(count*2+10) * 24 * time.Hour
	default:
		return 7 * 24 * time.Hour
	}
}

// GetHistoricalCloses returns up to count closes, oldest first.
func (a *Alpaca) GetHistoricalCloses(ctx context.Context, symbol string, g model.Granularity, count int) (model.PriceSeries, error) {
	q := url.Values{}
	q.Set("timeframe", string(g))
	q.Set("limit", strconv.Itoa(count))
	q.Set("sort", "desc")
	q.Set("start", a.Now().Add(-barsLookback(g, count)).UTC().Format(time.RFC3339))
	if a.Feed != "" {
		q.Set("feed", a.Feed)
	}
	path := fmt.Sprintf("/v2/stocks/%s/bars?%s", url.PathEscape(symbol), q.Encode())

	var raw json.RawMessage
	if err := a.do(ctx, http.MethodGet, a.DataURL, path, nil, &raw); err != nil {
		return nil, err
	}
	bars := gjson.GetBytes(raw, "bars").Array()
	out := make(model.PriceSeries, len(bars))
	for i, b := range bars {
		// newest first on the wire
		out[len(bars)-1-i] = b.Get("c").Float()
	}
	return out, nil
}

type alpacaPosition struct {
	Symbol       string          `json:"symbol"`
	Qty          decimal.Decimal `json:"qty"`
	MarketValue  decimal.Decimal `json:"market_value"`
	UnrealizedPL decimal.Decimal `json:"unrealized_pl"`
}

// ListPositions lists every open position.
func (a *Alpaca) ListPositions(ctx context.Context) ([]model.Position, error) {
	var rows []alpacaPosition
	if err := a.do(ctx, http.MethodGet, a.BaseURL, "/v2/positions", nil, &rows); err != nil {
		return nil, err
	}
	out := make([]model.Position, 0, len(rows))
	for _, p := range rows {
		out = append(out, model.Position{
			Symbol:       p.Symbol,
			Qty:          p.Qty.InexactFloat64(),
			MarketValue:  p.MarketValue.InexactFloat64(),
			UnrealizedPL: p.UnrealizedPL.InexactFloat64(),
		})
	}
	return out, nil
}

type alpacaOrder struct {
	ID             string              `json:"id"`
	ClientOrderID  string              `json:"client_order_id"`
	Symbol         string              `json:"symbol"`
	Qty            decimal.NullDecimal `json:"qty"`
	Side           string              `json:"side"`
	Type           string              `json:"type"`
	TimeInForce    string              `json:"time_in_force"`
	Status         string              `json:"status"`
	TrailPercent   decimal.NullDecimal `json:"trail_percent"`
	TrailPrice     decimal.NullDecimal `json:"trail_price"`
	FilledQty      decimal.NullDecimal `json:"filled_qty"`
	FilledAvgPrice decimal.NullDecimal `json:"filled_avg_price"`
	CreatedAt      time.Time           `json:"created_at"`
}

func nullFloat(d decimal.NullDecimal) float64 {
	if !d.Valid {
		return 0
	}
	return d.Decimal.InexactFloat64()
}

func (o alpacaOrder) model() model.Order {
	return model.Order{
		ID:            o.ID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Qty:           nullFloat(o.Qty),
		Side:          model.Side(o.Side),
		Type:          model.OrderType(o.Type),
		TimeInForce:   model.TimeInForce(o.TimeInForce),
		Status:        model.OrderStatus(o.Status),
		TrailPercent:  nullFloat(o.TrailPercent),
		TrailPrice:    nullFloat(o.TrailPrice),
		FilledQty:     nullFloat(o.FilledQty),
		FilledAvg:     nullFloat(o.FilledAvgPrice),
		CreatedAt:     o.CreatedAt,
	}
}

// ListOrders lists orders with the given status.
func (a *Alpaca) ListOrders(ctx context.Context, status model.OrderStatus) ([]model.Order, error) {
	if status == "" {
		status = model.StatusOpen
	}
	path := "/v2/orders?status=" + url.QueryEscape(string(status)) + "&limit=500"
	var rows []alpacaOrder
	if err := a.do(ctx, http.MethodGet, a.BaseURL, path, nil, &rows); err != nil {
		return nil, err
	}
	out := make([]model.Order, 0, len(rows))
	for _, o := range rows {
		out = append(out, o.model())
	}
	return out, nil
}

type alpacaOrderRequest struct {
	Symbol        string           `json:"symbol"`
	Qty           decimal.Decimal  `json:"qty"`
	Side          string           `json:"side"`
	Type          string           `json:"type"`
	TimeInForce   string           `json:"time_in_force"`
	TrailPrice    *decimal.Decimal `json:"trail_price,omitempty"`
	TrailPercent  *decimal.Decimal `json:"trail_percent,omitempty"`
	ClientOrderID string           `json:"client_order_id,omitempty"`
}

// NewClientOrderID returns a unique client order id.
func NewClientOrderID() string {
	return "spk-" + uuid.NewString()
}

// SubmitOrder places req, generating a client order id when it has none.
func (a *Alpaca) SubmitOrder(ctx context.Context, req model.OrderRequest) (model.Order, error) {
	body := alpacaOrderRequest{
		Symbol:        req.Symbol,
		Qty:           decimal.NewFromFloat(req.Qty),
		Side:          string(req.Side),
		Type:          string(req.Type),
		TimeInForce:   string(req.TimeInForce),
		ClientOrderID: req.ClientOrderID,
	}
	if body.ClientOrderID == "" {
		body.ClientOrderID = NewClientOrderID()
	}
	if req.Type == model.TrailingStop {
		switch {
		case req.TrailPrice > 0:
			d := decimal.NewFromFloat(req.TrailPrice)
			body.TrailPrice = &d
		case req.TrailPercent > 0:
			d := decimal.NewFromFloat(req.TrailPercent)
			body.TrailPercent = &d
		default:
			return model.Order{}, fmt.Errorf("trailing stop for %s needs trail_price or trail_percent", req.Symbol)
		}
	}

	var o alpacaOrder
	if err := a.do(ctx, http.MethodPost, a.BaseURL, "/v2/orders", body, &o); err != nil {
		return model.Order{}, fmt.Errorf("submit %s %s %s: %w", req.Side, req.Type, req.Symbol, err)
	}
	return o.model(), nil
}

// CancelOrder cancels the order with id.
func (a *Alpaca) CancelOrder(ctx context.Context, id string) error {
	return a.do(ctx, http.MethodDelete, a.BaseURL, "/v2/orders/"+url.PathEscape(id), nil, nil)
}

// ClosePosition liquidates the position in symbol.
func (a *Alpaca) ClosePosition(ctx context.Context, symbol string) error {
	return a.do(ctx, http.MethodDelete, a.BaseURL, "/v2/positions/"+url.PathEscape(symbol), nil, nil)
}

// GetAccountConfigurations reads the account switches.
func (a *Alpaca) GetAccountConfigurations(ctx context.Context) (model.AccountConfigurations, error) {
	var c model.AccountConfigurations
	err := a.do(ctx, http.MethodGet, a.BaseURL, "/v2/account/configurations", nil, &c)
	return c, err
}

// UpdateAccountConfigurations patches the account switches.
func (a *Alpaca) UpdateAccountConfigurations(ctx context.Context, cfg model.AccountConfigurations) (model.AccountConfigurations, error) {
	var c model.AccountConfigurations
	err := a.do(ctx, http.MethodPatch, a.BaseURL, "/v2/account/configurations", cfg, &c)
	return c, err
}
