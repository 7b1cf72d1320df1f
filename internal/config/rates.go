package config

import (
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	DefaultExchangeRate  = "40.0"
	DefaultMarginPercent = "65"
)

// Rates holds the operator-editable exchange rate and margin, persisted as a
// small JSON settings file.
type Rates struct {
	mu            sync.RWMutex
	v             *viper.Viper
	path          string
	exchangeRate  decimal.Decimal
	marginPercent decimal.Decimal
}

// LoadRates reads the settings file at path. A missing file yields the
// defaults; the file is created on the first Update.
func LoadRates(path string) (*Rates, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetDefault("exchange_rate", DefaultExchangeRate)
	v.SetDefault("margin_percent", DefaultMarginPercent)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read settings %s: %w", path, err)
		}
	}

	rate, err := decimal.NewFromString(v.GetString("exchange_rate"))
	if err != nil || !rate.IsPositive() {
		return nil, fmt.Errorf("settings %s: invalid exchange_rate %q", path, v.GetString("exchange_rate"))
	}
	margin, err := decimal.NewFromString(v.GetString("margin_percent"))
	if err != nil || margin.IsNegative() {
		return nil, fmt.Errorf("settings %s: invalid margin_percent %q", path, v.GetString("margin_percent"))
	}

	return &Rates{v: v, path: path, exchangeRate: rate, marginPercent: margin}, nil
}

// StaticRates returns in-memory rates that are never persisted.
func StaticRates(exchangeRate decimal.Decimal, marginPercent decimal.Decimal) *Rates {
	return &Rates{exchangeRate: exchangeRate, marginPercent: marginPercent}
}

func (r *Rates) ExchangeRate() decimal.Decimal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.exchangeRate
}

func (r *Rates) MarginPercent() decimal.Decimal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.marginPercent
}

// Update replaces both values and writes them to the settings file.
func (r *Rates) Update(exchangeRate decimal.Decimal, marginPercent decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.v != nil {
		r.v.Set("exchange_rate", exchangeRate.String())
		r.v.Set("margin_percent", marginPercent.String())
		if err := r.v.WriteConfigAs(r.path); err != nil {
			return fmt.Errorf("write settings %s: %w", r.path, err)
		}
	}

	r.exchangeRate = exchangeRate
	r.marginPercent = marginPercent
	return nil
}
