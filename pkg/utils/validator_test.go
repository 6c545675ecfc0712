package utils

import "testing"

func TestValidateSymbol(t *testing.T) {
	tests := []struct {
		name    string
		symbol  string
		wantErr bool
	}{
		{"valid BTCUSDT", "BTCUSDT", false},
		{"valid ETHUSDT", "ETHUSDT", false},
		{"valid lowercase", "btcusdt", false},
		{"valid with hyphen", "BTC-USDT", false},
		{"valid with underscore", "BTC_USDT", false},
		{"valid with slash", "BTC/USDT", false},
		{"valid short", "XY", false},
		{"valid with numbers", "1INCH", false},
		{"empty", "", true},
		{"single char", "B", true},
		{"too long", "BTCUSDTBTCUSDTBTCUSDTBTCUSDTXXX", true},
		{"special chars", "BTC@USDT", true},
		{"spaces", "BTC USDT", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSymbol(tt.symbol)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSymbol(%q) error = %v, wantErr %v", tt.symbol, err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeSymbol(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"lowercase", "btcusdt", "BTCUSDT"},
		{"with hyphen", "btc-usdt", "BTCUSDT"},
		{"with underscore", "BTC_USDT", "BTCUSDT"},
		{"with slash", "btc/usdt", "BTCUSDT"},
		{"already normalized", "BTCUSDT", "BTCUSDT"},
		{"mixed case with hyphen", "Btc-Usdt", "BTCUSDT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NormalizeSymbol(tt.input)
			if result != tt.expected {
				t.Errorf("NormalizeSymbol(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestExtractBaseCurrency(t *testing.T) {
	tests := []struct {
		name     string
		symbol   string
		expected string
	}{
		{"BTCUSDT", "BTCUSDT", "BTC"},
		{"ETHUSDT", "ETHUSDT", "ETH"},
		{"SOLUSDT", "SOLUSDT", "SOL"},
		{"with hyphen", "BTC-USDT", "BTC"},
		{"with underscore", "ETH_USDT", "ETH"},
		{"with slash", "SOL/USDT", "SOL"},
		{"USDC pair", "BTCUSDC", "BTC"},
		{"BTC quote", "ETHBTC", "ETH"},
		{"lowercase", "btcusdt", "BTC"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ExtractBaseCurrency(tt.symbol)
			if result != tt.expected {
				t.Errorf("ExtractBaseCurrency(%q) = %q, want %q", tt.symbol, result, tt.expected)
			}
		})
	}
}

func TestExtractQuoteCurrency(t *testing.T) {
	tests := []struct {
		name     string
		symbol   string
		expected string
	}{
		{"BTCUSDT", "BTCUSDT", "USDT"},
		{"ETHUSDC", "ETHUSDC", "USDC"},
		{"with hyphen", "BTC-USDT", "USDT"},
		{"with underscore", "ETH_BTC", "BTC"},
		{"with slash", "SOL/ETH", "ETH"},
		{"BTC quote", "ETHBTC", "BTC"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ExtractQuoteCurrency(tt.symbol)
			if result != tt.expected {
				t.Errorf("ExtractQuoteCurrency(%q) = %q, want %q", tt.symbol, result, tt.expected)
			}
		})
	}
}

func TestValidateSpread(t *testing.T) {
	tests := []struct {
		name    string
		spread  float64
		wantErr bool
	}{
		{"valid small", 0.1, false},
		{"valid normal", 1.0, false},
		{"valid large", 50.0, false},
		{"valid max", 100.0, false},
		{"zero", 0, true},
		{"negative", -1.0, true},
		{"too large", 101.0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSpread(tt.spread)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSpread(%v) error = %v, wantErr %v", tt.spread, err, tt.wantErr)
			}
		})
	}
}

func TestValidateVolume(t *testing.T) {
	tests := []struct {
		name    string
		volume  float64
		wantErr bool
	}{
		{"valid small", 0.001, false},
		{"valid normal", 100.0, false},
		{"valid large", 1000000.0, false},
		{"min volume", 1e-8, false},
		{"zero", 0, true},
		{"negative", -100.0, true},
		{"too large", 1e10, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVolume(tt.volume)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateVolume(%v) error = %v, wantErr %v", tt.volume, err, tt.wantErr)
			}
		})
	}
}

func TestValidatePercentage(t *testing.T) {
	tests := []struct {
		name    string
		pct     float64
		wantErr bool
	}{
		{"valid 0", 0, false},
		{"valid 50", 50.0, false},
		{"valid 100", 100.0, false},
		{"negative", -1.0, true},
		{"too large", 101.0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePercentage(tt.pct)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePercentage(%v) error = %v, wantErr %v", tt.pct, err, tt.wantErr)
			}
		})
	}
}

func TestValidateLeverage(t *testing.T) {
	tests := []struct {
		name     string
		leverage int
		wantErr  bool
	}{
		{"valid 1x", 1, false},
		{"valid 10x", 10, false},
		{"valid 100x", 100, false},
		{"zero", 0, true},
		{"negative", -1, true},
		{"too large", 101, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateLeverage(tt.leverage)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateLeverage(%v) error = %v, wantErr %v", tt.leverage, err, tt.wantErr)
			}
		})
	}
}

func TestValidateAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		apiKey  string
		wantErr bool
	}{
		{"valid 16 chars", "1234567890123456", false},
		{"valid 32 chars", "12345678901234567890123456789012", false},
		{"valid with letters", "AbCdEfGhIjKlMnOp", false},
		{"valid with dashes", "abcd-1234-5678-efgh", false},
		{"valid with underscores", "abcd_1234_5678_efgh", false},
		{"empty", "", true},
		{"too short", "123456789012345", true},
		{"special chars", "abcd!@#$efgh1234", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAPIKey(tt.apiKey)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAPIKey(%q) error = %v, wantErr %v", tt.apiKey, err, tt.wantErr)
			}
		})
	}
}

func TestValidateAPISecret(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		wantErr bool
	}{
		{"valid 16 chars", "1234567890123456", false},
		{"valid 64 chars", "1234567890123456789012345678901234567890123456789012345678901234", false},
		{"valid with special", "abcd1234!@#$%^&*", false},
		{"empty", "", true},
		{"too short", "123456789012345", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAPISecret(tt.secret)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAPISecret(%q) error = %v, wantErr %v", tt.secret, err, tt.wantErr)
			}
		})
	}
}
