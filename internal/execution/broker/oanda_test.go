package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/atlas-fx/floor-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func testClient(t *testing.T, handler http.HandlerFunc) (*OANDAClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := OANDAConfig{
		RESTURL:    server.URL,
		StreamURL:  server.URL,
		RateLimit:  rate.Inf,
		RateBurst:  1,
		HTTPClient: server.Client(),
	}
	return NewOANDAClient(zap.NewNop(), cfg), server
}

func testAccount() types.BrokerAccount {
	return types.BrokerAccount{ID: "acct-1", BrokerID: "101-001-123456-001", APIToken: []byte("secret-token")}
}

func TestSubmitOrderMarketFillReportsFilled(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret-token" {
			t.Errorf("expected bearer auth header, got %q", got)
		}
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		resp := v20OrderResponse{
			OrderFillTransaction: &v20Transaction{
				OrderID: "ord-1",
				Price:   "1.10050",
				Time:    "2026-01-15T10:00:00.000000000Z",
			},
		}
		json.NewEncoder(w).Encode(resp)
	})

	result, err := client.SubmitOrder(context.Background(), OrderRequest{
		Account:    testAccount(),
		Instrument: "EUR_USD",
		Type:       types.OrderTypeMarket,
		Direction:  types.DirectionLong,
		Units:      decimal.NewFromInt(1000),
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if result.Status != types.OrderStatusFilled {
		t.Fatalf("expected Filled, got %s", result.Status)
	}
	if result.BrokerOrderID != "ord-1" {
		t.Fatalf("expected ord-1, got %s", result.BrokerOrderID)
	}
	if result.FilledPrice == nil || !result.FilledPrice.Equal(decimal.NewFromFloat(1.10050)) {
		t.Fatalf("expected filled price 1.1005, got %v", result.FilledPrice)
	}
}

func TestSubmitOrderRejectReportsRejectedWithReason(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		resp := v20OrderResponse{
			OrderRejectTransaction: &v20Transaction{RejectReason: "INSUFFICIENT_MARGIN"},
		}
		json.NewEncoder(w).Encode(resp)
	})

	result, err := client.SubmitOrder(context.Background(), OrderRequest{
		Account:    testAccount(),
		Instrument: "EUR_USD",
		Type:       types.OrderTypeMarket,
		Direction:  types.DirectionLong,
		Units:      decimal.NewFromInt(1000),
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if result.Status != types.OrderStatusRejected {
		t.Fatalf("expected Rejected, got %s", result.Status)
	}
	if result.RejectReason != "INSUFFICIENT_MARGIN" {
		t.Fatalf("expected INSUFFICIENT_MARGIN, got %s", result.RejectReason)
	}
}

func TestSubmitOrderLimitRestsAsPending(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req v20OrderRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Order.Type != "LIMIT" || req.Order.TimeInForce != "GTC" {
			t.Errorf("expected a GTC LIMIT order body, got %+v", req.Order)
		}
		resp := v20OrderResponse{OrderCreateTransaction: &v20Transaction{ID: "ord-2"}}
		json.NewEncoder(w).Encode(resp)
	})

	price := decimal.NewFromFloat(1.0950)
	result, err := client.SubmitOrder(context.Background(), OrderRequest{
		Account:    testAccount(),
		Instrument: "EUR_USD",
		Type:       types.OrderTypeLimit,
		Direction:  types.DirectionShort,
		Units:      decimal.NewFromInt(1000),
		Price:      &price,
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if result.Status != types.OrderStatusPending {
		t.Fatalf("expected Pending, got %s", result.Status)
	}
}

func TestSubmitOrderShortDirectionNegatesUnits(t *testing.T) {
	var gotUnits string
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req v20OrderRequest
		json.NewDecoder(r.Body).Decode(&req)
		gotUnits = req.Order.Units
		json.NewEncoder(w).Encode(v20OrderResponse{})
	})

	_, _ = client.SubmitOrder(context.Background(), OrderRequest{
		Account:    testAccount(),
		Instrument: "EUR_USD",
		Type:       types.OrderTypeMarket,
		Direction:  types.DirectionShort,
		Units:      decimal.NewFromInt(1000),
	})

	if gotUnits != "-1000" {
		t.Fatalf("expected negated units for a short order, got %s", gotUnits)
	}
}

func TestSubmitOrderServerErrorReturnsTransportError(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	})

	_, err := client.SubmitOrder(context.Background(), OrderRequest{
		Account:    testAccount(),
		Instrument: "EUR_USD",
		Type:       types.OrderTypeMarket,
		Direction:  types.DirectionLong,
		Units:      decimal.NewFromInt(1000),
	})
	if err == nil {
		t.Fatal("expected an error for a 500 response")
	}
}

func TestSubmitOrderOCOSubmitsLimitThenStopLeg(t *testing.T) {
	var seenTypes []string
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req v20OrderRequest
		json.NewDecoder(r.Body).Decode(&req)
		seenTypes = append(seenTypes, req.Order.Type)
		if req.Order.Type == "LIMIT" {
			json.NewEncoder(w).Encode(v20OrderResponse{OrderCreateTransaction: &v20Transaction{ID: "limit-1"}})
		} else {
			json.NewEncoder(w).Encode(v20OrderResponse{OrderCreateTransaction: &v20Transaction{ID: "stop-1"}})
		}
	})

	price := decimal.NewFromFloat(1.10)
	result, err := client.SubmitOrder(context.Background(), OrderRequest{
		Account:    testAccount(),
		Instrument: "EUR_USD",
		Type:       types.OrderTypeOCO,
		Direction:  types.DirectionLong,
		Units:      decimal.NewFromInt(1000),
		Price:      &price,
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if len(seenTypes) != 2 || seenTypes[0] != "LIMIT" || seenTypes[1] != "STOP" {
		t.Fatalf("expected LIMIT then STOP legs, got %v", seenTypes)
	}
	// neither leg filled synchronously, so the stop leg's pending result is reported
	if result.BrokerOrderID != "stop-1" {
		t.Fatalf("expected the stop leg to be reported when neither fills, got %s", result.BrokerOrderID)
	}
}

func TestCancelOrderRejectedStatusReturnsBrokerReject(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		w.WriteHeader(http.StatusBadRequest)
	})

	err := client.CancelOrder(context.Background(), testAccount(), "ord-1")
	if err == nil {
		t.Fatal("expected an error for a 400 response")
	}
}

func TestCancelOrderSuccessReturnsNil(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	if err := client.CancelOrder(context.Background(), testAccount(), "ord-1"); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestOpenPositionsParsesLongAndShortSidesAndSkipsZero(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		resp := v20PositionsResponse{
			Positions: []v20Position{
				{
					Instrument: "EUR_USD",
					Long:       v20PositionSide{Units: "1000", AveragePrice: "1.1000", UnrealizedPL: "5.00"},
					Short:      v20PositionSide{Units: "0", AveragePrice: "0", UnrealizedPL: "0"},
				},
				{
					Instrument: "GBP_USD",
					Long:       v20PositionSide{Units: "0"},
					Short:      v20PositionSide{Units: "-500", AveragePrice: "1.2500", UnrealizedPL: "-2.50"},
				},
			},
		}
		json.NewEncoder(w).Encode(resp)
	})

	positions, err := client.OpenPositions(context.Background(), testAccount())
	if err != nil {
		t.Fatalf("OpenPositions: %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("expected 2 open positions (zero sides skipped), got %d", len(positions))
	}

	if positions[0].Instrument != "EUR_USD" || positions[0].Direction != types.DirectionLong {
		t.Fatalf("expected the first position to be a EUR_USD long, got %+v", positions[0])
	}
	if !positions[0].Units.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected 1000 units, got %s", positions[0].Units)
	}

	if positions[1].Instrument != "GBP_USD" || positions[1].Direction != types.DirectionShort {
		t.Fatalf("expected the second position to be a GBP_USD short, got %+v", positions[1])
	}
	if !positions[1].Units.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("expected the short side's units to be reported as a positive magnitude, got %s", positions[1].Units)
	}
}

func TestPendingOrdersParsesDirectionFromSignedUnits(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"orders":[
			{"id":"ord-1","instrument":"EUR_USD","type":"LIMIT","units":"1000","price":"1.0950"},
			{"id":"ord-2","instrument":"EUR_USD","type":"STOP","units":"-500","price":"1.1100"}
		]}`))
	})

	orders, err := client.PendingOrders(context.Background(), testAccount())
	if err != nil {
		t.Fatalf("PendingOrders: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("expected 2 pending orders, got %d", len(orders))
	}
	if orders[0].Direction != types.DirectionLong {
		t.Fatalf("expected positive units to mean long, got %s", orders[0].Direction)
	}
	if orders[1].Direction != types.DirectionShort {
		t.Fatalf("expected negative units to mean short, got %s", orders[1].Direction)
	}
}

func TestDefaultOANDAConfigTargetsPracticeEnvironment(t *testing.T) {
	cfg := DefaultOANDAConfig()
	if cfg.RESTURL == "" || cfg.StreamURL == "" {
		t.Fatal("expected non-empty REST and stream URLs")
	}
	if cfg.HTTPClient.Timeout != 10*time.Second {
		t.Fatalf("expected a 10s HTTP timeout, got %s", cfg.HTTPClient.Timeout)
	}
}
