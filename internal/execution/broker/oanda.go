package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	pkgerrors "github.com/atlas-fx/floor-engine/pkg/errors"
	"github.com/atlas-fx/floor-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// OANDAConfig configures the v20 REST+streaming client.
//
// Grounded on adapters/binance.go's BinanceConfig/BinanceAdapter shape
// (base URL, HTTP client, rate limiter fields), swapping out the
// HMAC-signed query-string auth for OANDA's bearer token and collapsing
// the multi-market websocket feed down to the one account transaction
// stream OANDA exposes.
type OANDAConfig struct {
	RESTURL    string // e.g. https://api-fxpractice.oanda.com
	StreamURL  string // e.g. https://stream-fxpractice.oanda.com
	RateLimit  rate.Limit
	RateBurst  int
	HTTPClient *http.Client
}

func DefaultOANDAConfig() OANDAConfig {
	return OANDAConfig{
		RESTURL:   "https://api-fxpractice.oanda.com",
		StreamURL: "https://stream-fxpractice.oanda.com",
		RateLimit: rate.Every(200 * time.Millisecond), // OANDA's documented ~100 req/s cap, held well under
		RateBurst: 10,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// OANDAClient implements Client against OANDA's v20 REST and streaming
// API. One instance is shared across every account the process trades
// against; the account is an argument to each call, not a field, since
// a single task executor may hold accounts for several owners.
type OANDAClient struct {
	logger  *zap.Logger
	config  OANDAConfig
	limiter *rate.Limiter
}

func NewOANDAClient(logger *zap.Logger, config OANDAConfig) *OANDAClient {
	return &OANDAClient{
		logger:  logger,
		config:  config,
		limiter: rate.NewLimiter(config.RateLimit, config.RateBurst),
	}
}

// v20 wire shapes. Only the fields the executor and stream consume are
// modelled; OANDA's actual responses carry many more.
type v20OrderRequest struct {
	Order v20OrderBody `json:"order"`
}

type v20OrderBody struct {
	Type            string              `json:"type"`
	Instrument      string              `json:"instrument"`
	Units           string              `json:"units"` // signed: positive long, negative short
	Price           string              `json:"price,omitempty"`
	TimeInForce     string              `json:"timeInForce"`
	TakeProfitOnFill *v20PriceDetail    `json:"takeProfitOnFill,omitempty"`
	StopLossOnFill   *v20PriceDetail    `json:"stopLossOnFill,omitempty"`
	ClientExtensions *v20ClientExt      `json:"clientExtensions,omitempty"`
}

type v20PriceDetail struct {
	Price string `json:"price"`
}

type v20ClientExt struct {
	ID string `json:"id,omitempty"`
}

type v20OrderResponse struct {
	OrderFillTransaction   *v20Transaction `json:"orderFillTransaction,omitempty"`
	OrderRejectTransaction *v20Transaction `json:"orderRejectTransaction,omitempty"`
	OrderCancelTransaction *v20Transaction `json:"orderCancelTransaction,omitempty"`
	OrderCreateTransaction *v20Transaction `json:"orderCreateTransaction,omitempty"`
}

type v20Transaction struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	OrderID    string `json:"orderID"`
	TradeID    string `json:"tradeID"`
	Instrument string `json:"instrument"`
	Units      string `json:"units"`
	Price      string `json:"price"`
	PL         string `json:"pl"`
	Reason     string `json:"reason"`
	RejectReason string `json:"rejectReason"`
	Time       string `json:"time"`
}

// SubmitOrder builds the v20 order body for each of the four order
// shapes and posts it to /v3/accounts/{id}/orders. Market orders use
// FOK (fill-or-kill: the whole quantity now, or nothing); limit and
// stop orders use GTC so they rest on the book. OCO is submitted as two
// independent legs, limit first then stop, matching
// order_executor.py's submit_oco_order — OANDA has no single "OCO"
// order type, so the bracket is two orders the caller is responsible
// for cancelling the sibling of once one side fills.
func (c *OANDAClient) SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if req.Type == types.OrderTypeOCO {
		return c.submitOCO(ctx, req)
	}

	body := c.buildOrderBody(req)
	resp, err := c.postOrder(ctx, req.Account, body)
	if err != nil {
		return OrderResult{}, err
	}
	return c.interpretResponse(resp), nil
}

func (c *OANDAClient) submitOCO(ctx context.Context, req OrderRequest) (OrderResult, error) {
	limitReq := req
	limitReq.Type = types.OrderTypeLimit
	limitResult, err := c.SubmitOrder(ctx, limitReq)
	if err != nil {
		return OrderResult{}, fmt.Errorf("oco limit leg: %w", err)
	}

	stopReq := req
	stopReq.Type = types.OrderTypeStop
	stopResult, err := c.SubmitOrder(ctx, stopReq)
	if err != nil {
		return OrderResult{}, fmt.Errorf("oco stop leg: %w", err)
	}

	// Report the leg that actually has broker state to track. The two
	// legs are not linked: a fill on one does not cancel the other.
	if limitResult.Status == types.OrderStatusFilled {
		return limitResult, nil
	}
	return stopResult, nil
}

func (c *OANDAClient) buildOrderBody(req OrderRequest) v20OrderBody {
	units := req.Units
	if req.Direction == types.DirectionShort {
		units = units.Neg()
	}

	body := v20OrderBody{
		Instrument: req.Instrument,
		Units:      units.String(),
	}
	switch req.Type {
	case types.OrderTypeMarket:
		body.Type = "MARKET"
		body.TimeInForce = "FOK"
	case types.OrderTypeLimit:
		body.Type = "LIMIT"
		body.TimeInForce = "GTC"
		if req.Price != nil {
			body.Price = req.Price.String()
		}
	case types.OrderTypeStop:
		body.Type = "STOP"
		body.TimeInForce = "GTC"
		if req.Price != nil {
			body.Price = req.Price.String()
		}
	}
	if req.TakeProfit != nil {
		body.TakeProfitOnFill = &v20PriceDetail{Price: req.TakeProfit.String()}
	}
	if req.StopLoss != nil {
		body.StopLossOnFill = &v20PriceDetail{Price: req.StopLoss.String()}
	}
	if req.ClientOrder != "" {
		body.ClientExtensions = &v20ClientExt{ID: req.ClientOrder}
	}
	return body
}

func (c *OANDAClient) postOrder(ctx context.Context, account types.BrokerAccount, body v20OrderBody) (v20OrderResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return v20OrderResponse{}, pkgerrors.Transport("rate limiter wait", err)
	}

	payload, err := json.Marshal(v20OrderRequest{Order: body})
	if err != nil {
		return v20OrderResponse{}, fmt.Errorf("marshal order: %w", err)
	}

	url := fmt.Sprintf("%s/v3/accounts/%s/orders", c.config.RESTURL, account.BrokerID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return v20OrderResponse{}, fmt.Errorf("build request: %w", err)
	}
	c.applyAuth(httpReq, account)

	httpResp, err := c.config.HTTPClient.Do(httpReq)
	if err != nil {
		return v20OrderResponse{}, pkgerrors.Transport("oanda order submit", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return v20OrderResponse{}, pkgerrors.Transport("read oanda response", err)
	}

	if httpResp.StatusCode >= 500 {
		return v20OrderResponse{}, pkgerrors.Transport(
			fmt.Sprintf("oanda returned %d", httpResp.StatusCode), fmt.Errorf("%s", raw))
	}

	var parsed v20OrderResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return v20OrderResponse{}, pkgerrors.Transport("decode oanda response", err)
	}
	return parsed, nil
}

func (c *OANDAClient) applyAuth(req *http.Request, account types.BrokerAccount) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+string(account.APIToken))
}

// interpretResponse mirrors order_executor.py's submit_market_order
// response handling: an orderFillTransaction means the order filled
// synchronously, an orderRejectTransaction or orderCancelTransaction
// means it didn't, and anything else (limit/stop orders that rest)
// reports PENDING against the orderCreateTransaction's ID.
func (c *OANDAClient) interpretResponse(resp v20OrderResponse) OrderResult {
	if resp.OrderFillTransaction != nil {
		price, _ := decimal.NewFromString(resp.OrderFillTransaction.Price)
		filledAt := parseOANDATime(resp.OrderFillTransaction.Time)
		return OrderResult{
			BrokerOrderID: resp.OrderFillTransaction.OrderID,
			Status:        types.OrderStatusFilled,
			FilledPrice:   &price,
			FilledAt:      &filledAt,
		}
	}
	if resp.OrderRejectTransaction != nil {
		return OrderResult{
			Status:       types.OrderStatusRejected,
			RejectReason: resp.OrderRejectTransaction.RejectReason,
		}
	}
	if resp.OrderCancelTransaction != nil {
		return OrderResult{
			Status:       types.OrderStatusRejected,
			RejectReason: resp.OrderCancelTransaction.Reason,
		}
	}
	if resp.OrderCreateTransaction != nil {
		return OrderResult{
			BrokerOrderID: resp.OrderCreateTransaction.ID,
			Status:        types.OrderStatusPending,
		}
	}
	return OrderResult{Status: types.OrderStatusRejected, RejectReason: "no transaction in broker response"}
}

// CancelOrder cancels a resting order. Grounded on order_executor.py's
// cancel_order, which calls the v20 order.cancel endpoint and treats
// any non-error response as success.
func (c *OANDAClient) CancelOrder(ctx context.Context, account types.BrokerAccount, brokerOrderID string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return pkgerrors.Transport("rate limiter wait", err)
	}

	url := fmt.Sprintf("%s/v3/accounts/%s/orders/%s/cancel", c.config.RESTURL, account.BrokerID, brokerOrderID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, url, nil)
	if err != nil {
		return fmt.Errorf("build cancel request: %w", err)
	}
	c.applyAuth(httpReq, account)

	httpResp, err := c.config.HTTPClient.Do(httpReq)
	if err != nil {
		return pkgerrors.Transport("oanda order cancel", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 500 {
		return pkgerrors.Transport(fmt.Sprintf("oanda returned %d", httpResp.StatusCode), nil)
	}
	if httpResp.StatusCode >= 400 {
		return pkgerrors.BrokerReject(fmt.Sprintf("oanda cancel rejected with %d", httpResp.StatusCode))
	}
	return nil
}

type v20PositionsResponse struct {
	Positions []v20Position `json:"positions"`
}

type v20Position struct {
	Instrument string        `json:"instrument"`
	Long       v20PositionSide `json:"long"`
	Short      v20PositionSide `json:"short"`
}

type v20PositionSide struct {
	Units             string `json:"units"`
	AveragePrice      string `json:"averagePrice"`
	UnrealizedPL      string `json:"unrealizedPL"`
	PL                string `json:"pl"`
}

// OpenPositions lists the account's current book, used by the
// reconciler to compare broker-side truth against local state.
func (c *OANDAClient) OpenPositions(ctx context.Context, account types.BrokerAccount) ([]types.Position, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, pkgerrors.Transport("rate limiter wait", err)
	}

	url := fmt.Sprintf("%s/v3/accounts/%s/openPositions", c.config.RESTURL, account.BrokerID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build positions request: %w", err)
	}
	c.applyAuth(httpReq, account)

	httpResp, err := c.config.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Transport("oanda open positions", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, pkgerrors.Transport("read oanda response", err)
	}
	var parsed v20PositionsResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, pkgerrors.Transport("decode oanda response", err)
	}

	var positions []types.Position
	for _, p := range parsed.Positions {
		if side, ok := nonZeroSide(p.Long); ok {
			positions = append(positions, toPosition(account, p.Instrument, types.DirectionLong, side))
		}
		if side, ok := nonZeroSide(p.Short); ok {
			positions = append(positions, toPosition(account, p.Instrument, types.DirectionShort, side))
		}
	}
	return positions, nil
}

func nonZeroSide(side v20PositionSide) (v20PositionSide, bool) {
	units, err := decimal.NewFromString(side.Units)
	if err != nil || units.IsZero() {
		return side, false
	}
	return side, true
}

func toPosition(account types.BrokerAccount, instrument string, dir types.Direction, side v20PositionSide) types.Position {
	units, _ := decimal.NewFromString(side.Units)
	entry, _ := decimal.NewFromString(side.AveragePrice)
	unrealized, _ := decimal.NewFromString(side.UnrealizedPL)
	return types.Position{
		Account:       account.ID,
		Instrument:    instrument,
		Direction:     dir,
		Units:         units.Abs(),
		EntryPrice:    entry,
		UnrealizedPnL: unrealized,
	}
}

// PendingOrders lists resting (not yet filled) orders on the account.
func (c *OANDAClient) PendingOrders(ctx context.Context, account types.BrokerAccount) ([]types.Order, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, pkgerrors.Transport("rate limiter wait", err)
	}

	url := fmt.Sprintf("%s/v3/accounts/%s/pendingOrders", c.config.RESTURL, account.BrokerID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build pending orders request: %w", err)
	}
	c.applyAuth(httpReq, account)

	httpResp, err := c.config.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Transport("oanda pending orders", err)
	}
	defer httpResp.Body.Close()

	var parsed struct {
		Orders []struct {
			ID         string `json:"id"`
			Instrument string `json:"instrument"`
			Type       string `json:"type"`
			Units      string `json:"units"`
			Price      string `json:"price"`
		} `json:"orders"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&parsed); err != nil {
		return nil, pkgerrors.Transport("decode oanda response", err)
	}

	orders := make([]types.Order, 0, len(parsed.Orders))
	for _, o := range parsed.Orders {
		units, _ := decimal.NewFromString(o.Units)
		dir := types.DirectionLong
		if units.IsNegative() {
			dir = types.DirectionShort
		}
		var price *decimal.Decimal
		if o.Price != "" {
			p, _ := decimal.NewFromString(o.Price)
			price = &p
		}
		orders = append(orders, types.Order{
			Account:       account.ID,
			BrokerOrderID: o.ID,
			Instrument:    o.Instrument,
			Type:          types.OrderType(o.Type),
			Direction:     dir,
			Units:         units.Abs(),
			Price:         price,
			Status:        types.OrderStatusPending,
		})
	}
	return orders, nil
}

// StreamTransactions opens OANDA's account transaction stream, a
// long-lived chunked HTTP response of newline-delimited JSON events.
// Grounded on transaction_streamer.py's stream-and-reconnect loop. The
// reconnect policy itself lives one layer up, in internal/stream, which
// calls this method again following utils.StreamReconnectIntervals when
// the returned channel closes — kept in one place rather than
// duplicated per broker implementation.
func (c *OANDAClient) StreamTransactions(ctx context.Context, account types.BrokerAccount) (<-chan Transaction, error) {
	url := fmt.Sprintf("%s/v3/accounts/%s/transactions/stream", c.config.StreamURL, account.BrokerID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	c.applyAuth(httpReq, account)

	httpResp, err := c.config.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Transport("oanda transaction stream connect", err)
	}
	if httpResp.StatusCode >= 400 {
		httpResp.Body.Close()
		return nil, pkgerrors.Transport(fmt.Sprintf("oanda stream returned %d", httpResp.StatusCode), nil)
	}

	out := make(chan Transaction, 32)
	go c.pumpTransactions(ctx, httpResp.Body, out)
	return out, nil
}

func (c *OANDAClient) pumpTransactions(ctx context.Context, body io.ReadCloser, out chan<- Transaction) {
	defer close(out)
	defer body.Close()

	decoder := json.NewDecoder(body)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var raw v20Transaction
		if err := decoder.Decode(&raw); err != nil {
			if err != io.EOF {
				c.logger.Warn("transaction stream decode error", zap.Error(err))
			}
			return
		}

		tx := fromWireTransaction(raw)
		select {
		case out <- tx:
		case <-ctx.Done():
			return
		}
	}
}

func fromWireTransaction(raw v20Transaction) Transaction {
	units, _ := decimal.NewFromString(raw.Units)
	price, _ := decimal.NewFromString(raw.Price)
	pnl, _ := decimal.NewFromString(raw.PL)

	txType := TransactionHeartbeat
	switch raw.Type {
	case "ORDER_FILL":
		txType = TransactionOrderFill
	case "ORDER_CANCEL":
		txType = TransactionOrderCancel
	case "ORDER_REJECT", "MARKET_ORDER_REJECT":
		txType = TransactionOrderReject
	case "TRADE_CLOSE":
		txType = TransactionTradeClose
	case "TRADE_REDUCE":
		txType = TransactionTradeReduce
	}

	return Transaction{
		ID:            raw.ID,
		Type:          txType,
		Instrument:    raw.Instrument,
		BrokerOrderID: raw.OrderID,
		TradeID:       raw.TradeID,
		Units:         units.Abs(),
		Price:         price,
		PnL:           pnl,
		Reason:        raw.Reason,
		Timestamp:     parseOANDATime(raw.Time),
	}
}

// v20 pricing stream wire shape: one JSON object per line, either a PRICE
// tick or a HEARTBEAT, distinguished by "type".
type v20PriceTick struct {
	Type       string `json:"type"`
	Instrument string `json:"instrument"`
	Time       string `json:"time"`
	Bids       []struct {
		Price string `json:"price"`
	} `json:"bids"`
	Asks []struct {
		Price string `json:"price"`
	} `json:"asks"`
}

// StreamPrices opens OANDA's account pricing stream for one instrument,
// the same long-lived chunked-JSON shape as StreamTransactions applied
// to /v3/accounts/{id}/pricing/stream. internal/ticksource.Live calls
// this again, under the same utils.StreamReconnectIntervals policy
// StreamTransactions's caller uses, whenever the returned channel
// closes.
func (c *OANDAClient) StreamPrices(ctx context.Context, account types.BrokerAccount, instrument string) (<-chan types.Tick, error) {
	url := fmt.Sprintf("%s/v3/accounts/%s/pricing/stream?instruments=%s", c.config.StreamURL, account.BrokerID, instrument)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build price stream request: %w", err)
	}
	c.applyAuth(httpReq, account)

	httpResp, err := c.config.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Transport("oanda price stream connect", err)
	}
	if httpResp.StatusCode >= 400 {
		httpResp.Body.Close()
		return nil, pkgerrors.Transport(fmt.Sprintf("oanda price stream returned %d", httpResp.StatusCode), nil)
	}

	out := make(chan types.Tick, 64)
	go c.pumpPrices(ctx, httpResp.Body, out)
	return out, nil
}

func (c *OANDAClient) pumpPrices(ctx context.Context, body io.ReadCloser, out chan<- types.Tick) {
	defer close(out)
	defer body.Close()

	decoder := json.NewDecoder(body)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var raw v20PriceTick
		if err := decoder.Decode(&raw); err != nil {
			if err != io.EOF {
				c.logger.Warn("price stream decode error", zap.Error(err))
			}
			return
		}
		if raw.Type != "PRICE" || len(raw.Bids) == 0 || len(raw.Asks) == 0 {
			continue
		}

		bid, errBid := decimal.NewFromString(raw.Bids[0].Price)
		ask, errAsk := decimal.NewFromString(raw.Asks[0].Price)
		if errBid != nil || errAsk != nil {
			continue
		}

		tick, err := types.NewTick(raw.Instrument, parseOANDATime(raw.Time), bid, ask, nil)
		if err != nil {
			c.logger.Warn("price stream produced invalid tick", zap.Error(err))
			continue
		}
		select {
		case out <- tick:
		case <-ctx.Done():
			return
		}
	}
}

func parseOANDATime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
