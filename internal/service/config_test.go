package service

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	if body != "" {
		if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestLoadConfigDefaults(t *testing.T) {
	viper.Reset()
	cfg, err := LoadConfig(writeConfig(t, ""))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Exchange.Mode != "paper" || cfg.Exchange.QuoteCurrency != "USD" {
		t.Errorf("exchange = %+v", cfg.Exchange)
	}
	if cfg.Trading.WakeInterval != 10*time.Minute || !cfg.Trading.DryRun || cfg.Trading.Strategy != "change" {
		t.Errorf("trading = %+v", cfg.Trading)
	}
	if cfg.Execution.FillAttempts != 100 || cfg.Execution.FillInterval != 300*time.Millisecond {
		t.Errorf("execution = %+v", cfg.Execution)
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	viper.Reset()
	t.Setenv("TRADER_TRADING_MARGIN", "0.02")
	dir := writeConfig(t, `
Trading:
  WakeInterval: 5m
  Fraction: 0.5
  Strategy: vwap
`)
	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Trading.WakeInterval != 5*time.Minute || cfg.Trading.Fraction != 0.5 || cfg.Trading.Strategy != "vwap" {
		t.Errorf("trading = %+v", cfg.Trading)
	}
	if cfg.Trading.Margin != 0.02 {
		t.Errorf("env override ignored, margin = %v", cfg.Trading.Margin)
	}
	if cfg.Trading.StopMargin != 0.005 {
		t.Errorf("unset key lost its default: %v", cfg.Trading.StopMargin)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	viper.Reset()
	dir := writeConfig(t, `
Trading:
  Strategy: moon
`)
	if _, err := LoadConfig(dir); !errors.Is(err, ErrConfigurationInvalid) {
		t.Errorf("err = %v, want ErrConfigurationInvalid", err)
	}
}

func validTrading() TradingConfig {
	return TradingConfig{
		WakeInterval: 10 * time.Minute,
		Fraction:     0.75,
		Margin:       0.01,
		StopMargin:   0.005,
		WalkAway:     0.03,
		Strategy:     "change",
		MaxRSI:       30,
	}
}

func TestTradingPatchApply(t *testing.T) {
	base := validTrading()

	margin, wake, dry := 0.05, "2h", true
	next, err := TradingPatch{Margin: &margin, WakeTime: &wake, DryRun: &dry}.Apply(base)
	if err != nil {
		t.Fatal(err)
	}
	if next.Margin != 0.05 || next.WakeInterval != 2*time.Hour || !next.DryRun {
		t.Errorf("next = %+v", next)
	}
	if next.Fraction != base.Fraction || base.Margin != 0.01 {
		t.Error("patch touched fields it did not name")
	}

	cases := map[string]TradingPatch{
		"fraction above one": {Fraction: ptr(1.5)},
		"negative margin":    {Margin: ptr(-0.01)},
		"rsi above 100":      {MaxRSI: ptr(120.0)},
		"unknown strategy":   {Strategy: ptr("moon")},
		"bad wake time":      {WakeTime: ptr("soon")},
		"wake below 1s":      {WakeTime: ptr("0s")},
		"category above 5":   {MinMarketSlopeCategory: ptr(6)},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := p.Apply(base)
			if !errors.Is(err, ErrConfigurationInvalid) {
				t.Fatalf("err = %v", err)
			}
			if got != base {
				t.Errorf("rejected patch returned %+v", got)
			}
		})
	}
}

func ptr[T any](v T) *T { return &v }

func TestParseIntervalDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"30s": 30 * time.Second,
		"10m": 10 * time.Minute,
		"1h":  time.Hour,
		"1d":  24 * time.Hour,
		"15":  15 * time.Minute,
	}
	for in, want := range cases {
		got, err := ParseIntervalDuration(in)
		if err != nil || got != want {
			t.Errorf("ParseIntervalDuration(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	for _, in := range []string{"", "m", "5w", "xm"} {
		if _, err := ParseIntervalDuration(in); err == nil {
			t.Errorf("ParseIntervalDuration(%q) should fail", in)
		}
	}
}

func TestFormatInterval(t *testing.T) {
	cases := map[time.Duration]string{
		10 * time.Minute:        "10m",
		2 * time.Hour:           "2h",
		90 * time.Second:        "90s",
		1500 * time.Millisecond: "1.5s",
	}
	for in, want := range cases {
		if got := FormatInterval(in); got != want {
			t.Errorf("FormatInterval(%v) = %q, want %q", in, got, want)
		}
	}
	if IntervalMinutes(30*time.Second) != 1 || IntervalMinutes(10*time.Minute) != 10 {
		t.Error("IntervalMinutes")
	}
}

func TestStringToFloat(t *testing.T) {
	for in, want := range map[any]float64{"0.0239487": 0.0239487, "": 0, " ": 0, 12: 12, 1.5: 1.5} {
		got, err := StringToFloat(in)
		if err != nil || got != want {
			t.Errorf("StringToFloat(%v) = %v, %v", in, got, err)
		}
	}
	if _, err := StringToFloat("abc"); err == nil {
		t.Error("expected error for non-numeric string")
	}
}

func TestNewLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trader.log")
	logger, err := NewLogger(LogConfig{Level: "debug", File: path, MaxSizeMB: 1})
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("hello")
	_ = logger.Sync()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(b) == 0 {
		t.Error("log file is empty")
	}

	if _, err := NewLogger(LogConfig{Level: "loud"}); err == nil {
		t.Error("unknown level should fail")
	}
}
