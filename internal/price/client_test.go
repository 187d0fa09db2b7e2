package price

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	xerrors "SendPilot/internal/errors"
)

func newTestServer(t *testing.T, payload string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/simple/price" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(payload))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestGetTokenPrice(t *testing.T) {
	server := newTestServer(t, `{"ethereum":{"usd":2500.5}}`)
	client := NewClient(WithBaseURL(server.URL))

	got, err := client.GetTokenPrice(context.Background(), "eth", "usd")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(decimal.RequireFromString("2500.5")) {
		t.Fatalf("unexpected price: %s", got)
	}
}

func TestGetTokenPriceUnknownSymbol(t *testing.T) {
	client := NewClient()
	_, err := client.GetTokenPrice(context.Background(), "DOGE", "usd")
	if !xerrors.HasCode(err, xerrors.CodeUnknownToken) {
		t.Fatalf("expected unknown token error, got %v", err)
	}
}

func TestGetTokenPriceUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(server.Close)
	client := NewClient(WithBaseURL(server.URL))

	_, err := client.GetTokenPrice(context.Background(), "ETH", "usd")
	if !xerrors.HasCode(err, xerrors.CodeBackendConnection) {
		t.Fatalf("expected backend connection error, got %v", err)
	}
}

func TestEstimateSwapOutputEthToStable(t *testing.T) {
	server := newTestServer(t, `{"ethereum":{"usd":2500}}`)
	client := NewClient(WithBaseURL(server.URL))

	quote, err := client.EstimateSwapOutput(context.Background(), "ETH", "USDC", decimal.RequireFromString("2"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !quote.Success {
		t.Fatalf("expected success: %+v", quote)
	}
	if !quote.EstimatedOutput.Equal(decimal.RequireFromString("5000")) {
		t.Fatalf("unexpected output: %s", quote.EstimatedOutput)
	}
	if quote.Source != "coingecko" {
		t.Fatalf("unexpected source: %s", quote.Source)
	}
}

func TestEstimateSwapOutputStableToEth(t *testing.T) {
	server := newTestServer(t, `{"ethereum":{"usd":2500}}`)
	client := NewClient(WithBaseURL(server.URL))

	quote, err := client.EstimateSwapOutput(context.Background(), "USDC", "ETH", decimal.RequireFromString("5000"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !quote.EstimatedOutput.Equal(decimal.RequireFromString("2")) {
		t.Fatalf("unexpected output: %s", quote.EstimatedOutput)
	}
}
