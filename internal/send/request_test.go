package send

import (
	"testing"

	"github.com/shopspring/decimal"

	xerrors "SendPilot/internal/errors"
)

const (
	senderLower    = "0x8ba1f109551bd432803012645ac136ddd64dba72"
	senderChecksum = "0x8ba1f109551bD432803012645Ac136ddd64DBA72"
	recipientHex   = "0x2222222222222222222222222222222222222222"
)

func TestParseArgsComplete(t *testing.T) {
	req, err := ParseArgs(map[string]any{
		"sender_address":    senderLower,
		"recipient_address": recipientHex,
		"amount":            "1.5",
		"token_symbol":      "usdc",
		"network":           "base-sepolia",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.SenderAddress != senderChecksum {
		t.Fatalf("sender not checksummed: %s", req.SenderAddress)
	}
	if req.TokenSymbol != "USDC" {
		t.Fatalf("symbol not uppercased: %s", req.TokenSymbol)
	}
	if !req.Amount.Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("unexpected amount: %s", req.Amount)
	}
	if req.Network != "base-sepolia" {
		t.Fatalf("unexpected network: %s", req.Network)
	}
}

func TestParseArgsDefaultsSymbol(t *testing.T) {
	req, err := ParseArgs(map[string]any{
		"sender_address":    senderLower,
		"recipient_address": recipientHex,
		"amount":            0.5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.TokenSymbol != "ETH" {
		t.Fatalf("expected default symbol ETH, got %s", req.TokenSymbol)
	}
}

func TestParseArgsRejectsUnknownKey(t *testing.T) {
	_, err := ParseArgs(map[string]any{
		"sender_address":    senderLower,
		"recipient_address": recipientHex,
		"amount":            "1",
		"gas_limit":         "21000",
	})
	if !xerrors.HasCode(err, xerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestParseArgsRejectsMissingRequired(t *testing.T) {
	_, err := ParseArgs(map[string]any{
		"sender_address": senderLower,
		"amount":         "1",
	})
	if !xerrors.HasCode(err, xerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestNewRequestRejectsBadAddress(t *testing.T) {
	_, err := NewRequest("0x1234", recipientHex, decimal.NewFromInt(1), "ETH", "")
	if !xerrors.HasCode(err, xerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestNewRequestRejectsNonPositiveAmount(t *testing.T) {
	for _, amount := range []string{"0", "-1"} {
		_, err := NewRequest(senderLower, recipientHex, decimal.RequireFromString(amount), "ETH", "")
		if !xerrors.HasCode(err, xerrors.CodeValidation) {
			t.Fatalf("amount %s: expected validation error, got %v", amount, err)
		}
	}
}

func TestParseArgsRejectsBadAmountString(t *testing.T) {
	_, err := ParseArgs(map[string]any{
		"sender_address":    senderLower,
		"recipient_address": recipientHex,
		"amount":            "two",
	})
	if !xerrors.HasCode(err, xerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
