package model

// Signals is the pair of booleans one evaluation produces for a symbol.
type Signals struct {
	Stationary bool
	Crossing   bool
}

// SignalState carries each symbol's signals for the current and the
// immediately previous cycle. Older results are never consulted.
type SignalState struct {
	current  map[string]Signals
	previous map[string]Signals
}

// NewSignalState returns an empty state.
func NewSignalState() *SignalState {
	return &SignalState{
		current:  make(map[string]Signals),
		previous: make(map[string]Signals),
	}
}

// Set records this cycle's result for symbol.
func (s *SignalState) Set(symbol string, sig Signals) {
	s.current[symbol] = sig
}

// Current returns this cycle's result for symbol.
func (s *SignalState) Current(symbol string) Signals { return s.current[symbol] }

// Previous returns last cycle's result for symbol.
func (s *SignalState) Previous(symbol string) Signals { return s.previous[symbol] }

// Fire reports whether either signal landed this cycle or last cycle
// for both the stationarity and the crossing test.
func (s *SignalState) Fire(symbol string) bool {
	cur, prev := s.current[symbol], s.previous[symbol]
	return (cur.Stationary || prev.Stationary) && (cur.Crossing || prev.Crossing)
}

// Roll ends the cycle: current becomes previous and current is cleared.
func (s *SignalState) Roll() {
	s.previous = s.current
	s.current = make(map[string]Signals, len(s.previous))
}

// OrderIntent is a sized entry with its protective exit, consumed immediately.
type OrderIntent struct {
	Symbol       string
	Qty          float64
	Price        float64
	Cost         float64
	EntryType    OrderType
	EntryTIF     TimeInForce
	ExitType     OrderType
	ExitTIF      TimeInForce
	TrailPercent float64
}

// Entry builds the market buy request.
func (o OrderIntent) Entry() OrderRequest {
	return OrderRequest{
		Symbol:      o.Symbol,
		Qty:         o.Qty,
		Side:        Buy,
		Type:        o.EntryType,
		TimeInForce: o.EntryTIF,
	}
}

// Exit builds the trailing-stop sell request protecting the entry.
func (o OrderIntent) Exit() OrderRequest {
	return OrderRequest{
		Symbol:       o.Symbol,
		Qty:          o.Qty,
		Side:         Sell,
		Type:         o.ExitType,
		TimeInForce:  o.ExitTIF,
		TrailPercent: o.TrailPercent,
	}
}
