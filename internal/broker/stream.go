package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"SpikeTrader/internal/model"
)

// TradeUpdate is one event from the trade_updates stream.
type TradeUpdate struct {
	Event string
	Order model.Order
	Price float64
	Qty   float64
	At    time.Time
}

// TradeStream follows order lifecycle events over the Alpaca websocket.
// It is informational only; trading decisions never depend on it.
type TradeStream struct {
	URL       string
	KeyID     string
	SecretKey string
	log       zerolog.Logger
}

// NewTradeStream derives the stream endpoint from the trading base URL
// unless streamURL is given.
func NewTradeStream(baseURL, streamURL, keyID, secretKey string, log zerolog.Logger) *TradeStream {
	if streamURL == "" {
		streamURL = strings.TrimRight(baseURL, "/") + "/stream"
		streamURL = strings.Replace(streamURL, "https://", "wss://", 1)
		streamURL = strings.Replace(streamURL, "http://", "ws://", 1)
	}
	return &TradeStream{
		URL:       streamURL,
		KeyID:     keyID,
		SecretKey: secretKey,
		log:       log.With().Str("component", "trade_stream").Logger(),
	}
}

type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type streamUpdate struct {
	Event     string              `json:"event"`
	Price     decimal.NullDecimal `json:"price"`
	Qty       decimal.NullDecimal `json:"qty"`
	Timestamp time.Time           `json:"timestamp"`
	Order     alpacaOrder         `json:"order"`
}

// Run connects and delivers updates to handle until ctx is cancelled,
// reconnecting with capped backoff.
func (s *TradeStream) Run(ctx context.Context, handle func(TradeUpdate)) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := s.consume(ctx, handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Warn().Err(err).Dur("backoff", backoff).Msg("trade stream disconnected, retrying")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
	}
}

func (s *TradeStream) consume(ctx context.Context, handle func(TradeUpdate)) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// unblock ReadMessage on shutdown
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := s.subscribe(conn); err != nil {
		return err
	}
	s.log.Info().Str("url", s.URL).Msg("connected trade update stream")

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(20 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					s.log.Warn().Err(err).Msg("trade stream ping failed")
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		u, ok, err := decodeTradeUpdate(message)
		if err != nil {
			s.log.Warn().Err(err).Msg("failed to decode trade stream message")
			continue
		}
		if ok {
			handle(u)
		}
	}
}

func (s *TradeStream) subscribe(conn *websocket.Conn) error {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	auth := map[string]string{"action": "auth", "key": s.KeyID, "secret": s.SecretKey}
	if err := conn.WriteJSON(auth); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read auth reply: %w", err)
	}
	var env streamEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return fmt.Errorf("decode auth reply: %w", err)
	}
	var status struct {
		Status string `json:"status"`
	}
	_ = json.Unmarshal(env.Data, &status)
	if env.Stream != "authorization" || status.Status != "authorized" {
		return fmt.Errorf("trade stream not authorized: %s", string(msg))
	}

	listen := map[string]any{
		"action": "listen",
		"data":   map[string][]string{"streams": {"trade_updates"}},
	}
	if err := conn.WriteJSON(listen); err != nil {
		return fmt.Errorf("send listen: %w", err)
	}
	return nil
}

// decodeTradeUpdate reports ok=false for control messages such as the
// listening acknowledgement.
func decodeTradeUpdate(message []byte) (TradeUpdate, bool, error) {
	var env streamEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		return TradeUpdate{}, false, err
	}
	if env.Stream != "trade_updates" {
		return TradeUpdate{}, false, nil
	}
	var su streamUpdate
	if err := json.Unmarshal(env.Data, &su); err != nil {
		return TradeUpdate{}, false, err
	}
	return TradeUpdate{
		Event: su.Event,
		Order: su.Order.model(),
		Price: nullFloat(su.Price),
		Qty:   nullFloat(su.Qty),
		At:    su.Timestamp,
	}, true, nil
}
