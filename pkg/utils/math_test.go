package utils

import "testing"

func TestRoundToLotSize(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		lotSize  float64
		expected float64
	}{
		{"exact match", 0.123, 0.001, 0.123},
		{"round down", 0.123456, 0.001, 0.123},
		{"round down 2", 1.999, 0.01, 1.99},
		{"whole numbers", 100.5, 1.0, 100.0},
		{"zero value", 0, 0.001, 0},
		{"zero lotSize", 0.123, 0, 0.123},
		{"negative lotSize", 0.123, -0.001, 0.123},
		{"BTC lot 0.001", 0.5, 0.001, 0.5},
		{"BTC lot 0.001 round", 0.1234, 0.001, 0.123},
		{"large number", 12345.6789, 0.01, 12345.67},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RoundToLotSize(tt.value, tt.lotSize)
			if diff := result - tt.expected; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("RoundToLotSize(%v, %v) = %v, want %v", tt.value, tt.lotSize, result, tt.expected)
			}
		})
	}
}

func TestRoundToLotSizeUp(t *testing.T) {
	tests := []struct {
		value, lotSize, expected float64
	}{
		{0.1231, 0.001, 0.124},
		{0.123, 0.001, 0.123},
		{100.0, 1.0, 100.0},
	}
	for _, tt := range tests {
		result := RoundToLotSizeUp(tt.value, tt.lotSize)
		if diff := result - tt.expected; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("RoundToLotSizeUp(%v, %v) = %v, want %v", tt.value, tt.lotSize, result, tt.expected)
		}
	}
}

func TestRoundToLotSizeNearest(t *testing.T) {
	tests := []struct {
		value, lotSize, expected float64
	}{
		{0.1236, 0.001, 0.124},
		{0.1234, 0.001, 0.123},
	}
	for _, tt := range tests {
		result := RoundToLotSizeNearest(tt.value, tt.lotSize)
		if diff := result - tt.expected; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("RoundToLotSizeNearest(%v, %v) = %v, want %v", tt.value, tt.lotSize, result, tt.expected)
		}
	}
}

func TestCalculateSpread(t *testing.T) {
	tests := []struct {
		name           string
		low, high, exp float64
	}{
		{"one percent", 100.0, 101.0, 1.0},
		{"zero low", 0, 100, 0},
		{"equal", 50, 50, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateSpread(tt.low, tt.high)
			if diff := got - tt.exp; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("CalculateSpread(%v,%v) = %v, want %v", tt.low, tt.high, got, tt.exp)
			}
		})
	}
}

func TestCalculatePNL(t *testing.T) {
	tests := []struct {
		name           string
		side           string
		entry, current float64
		qty            float64
		wantPct        float64
	}{
		{"long profit", "LONG", 100, 101, 1, 1.0},
		{"short profit", "SHORT", 100, 99, 1, 1.0},
		{"long loss", "LONG", 100, 98, 1, -2.0},
		{"zero entry", "LONG", 0, 100, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pct, _ := CalculatePNL(tt.side, tt.entry, tt.current, tt.qty)
			if diff := pct - tt.wantPct; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("CalculatePNL(%q) pct = %v, want %v", tt.side, pct, tt.wantPct)
			}
		})
	}
}

func TestClamp(t *testing.T) {
	if got := Clamp(5, 0, 10); got != 5 {
		t.Errorf("Clamp in-range changed value: %v", got)
	}
	if got := Clamp(-5, 0, 10); got != 0 {
		t.Errorf("Clamp below lo = %v, want 0", got)
	}
	if got := Clamp(15, 0, 10); got != 10 {
		t.Errorf("Clamp above hi = %v, want 10", got)
	}
}

func TestIsStopLossHit(t *testing.T) {
	if !IsStopLossHit("LONG", 99, 100) {
		t.Error("expected long SL hit when price <= sl")
	}
	if IsStopLossHit("LONG", 101, 100) {
		t.Error("expected long SL not hit when price > sl")
	}
	if !IsStopLossHit("SHORT", 101, 100) {
		t.Error("expected short SL hit when price >= sl")
	}
	if IsStopLossHit("SHORT", 99, 100) {
		t.Error("expected short SL not hit when price < sl")
	}
}
