package types

import "testing"

func TestNormalizedKey(t *testing.T) {
	t.Parallel()
	tests := []struct {
		venue Venue
		raw   string
		want  string
	}{
		{VenueBinance, "XRPUSDT", "XRPUSD"},
		{VenueBinance, "BTCUSDT", "BTCUSD"},
		{VenueBinance, "ETHBTC", "ETHBTC"},
		{VenueKraken, "XRP/USD", "XRPUSD"},
		{VenueKraken, "XBT/USD", "XBTUSD"},
		{VenueKraken, "SOL/USDT", "SOLUSD"},
		{VenueKraken, "xrp/usd", "XRPUSD"},
	}
	for _, tt := range tests {
		if got := NormalizedKey(tt.venue, tt.raw); got != tt.want {
			t.Errorf("NormalizedKey(%s, %q) = %q, want %q", tt.venue, tt.raw, got, tt.want)
		}
	}
}

func TestNormalizedKeyMergesVenues(t *testing.T) {
	t.Parallel()
	a := NormalizedKey(VenueBinance, "XYZUSDT")
	b := NormalizedKey(VenueKraken, "XYZ/USD")
	if a != b {
		t.Errorf("keys differ: binance=%q kraken=%q", a, b)
	}
}

func TestBaseAsset(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want string
	}{
		{"XRPUSDT", "XRP"},
		{"XRP/USD", "XRP"},
		{"DOGEUSDC", "DOGE"},
		{"ETHBTC", "ETH"},
		{"PEPEUSDT", "PEPE"},
		{"WEIRD", "WEIRD"},
	}
	for _, tt := range tests {
		if got := BaseAsset(tt.raw); got != tt.want {
			t.Errorf("BaseAsset(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}
