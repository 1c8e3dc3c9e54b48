// Package risk is the pre-trade gate: per-user limits on position size,
// daily trade count, order notional and leverage.
package risk

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Limits are the thresholds checked before an order is submitted. A zero
// value disables that check.
type Limits struct {
	MaxPositionSize  float64 `yaml:"max_position_size" mapstructure:"max_position_size"`
	MaxDailyTrades   int     `yaml:"max_daily_trades" mapstructure:"max_daily_trades"`
	MaxOrderNotional float64 `yaml:"max_order_notional" mapstructure:"max_order_notional"`
	MaxLeverage      float64 `yaml:"max_leverage" mapstructure:"max_leverage"`
}

// merge returns l with every non-zero field of o applied on top
func (l Limits) merge(o Limits) Limits {
	if o.MaxPositionSize > 0 {
		l.MaxPositionSize = o.MaxPositionSize
	}
	if o.MaxDailyTrades > 0 {
		l.MaxDailyTrades = o.MaxDailyTrades
	}
	if o.MaxOrderNotional > 0 {
		l.MaxOrderNotional = o.MaxOrderNotional
	}
	if o.MaxLeverage > 0 {
		l.MaxLeverage = o.MaxLeverage
	}
	return l
}

// Validate rejects negative limits
func (l Limits) Validate() error {
	if l.MaxPositionSize < 0 || l.MaxOrderNotional < 0 || l.MaxLeverage < 0 || l.MaxDailyTrades < 0 {
		return fmt.Errorf("risk limits must not be negative")
	}
	if l.MaxLeverage > 0 && l.MaxLeverage < 1 {
		return fmt.Errorf("max_leverage must be at least 1, got %v", l.MaxLeverage)
	}
	return nil
}

type overridesFile struct {
	Users map[string]Limits `yaml:"users"`
}

// LoadOverrides reads per-user limit overrides from a YAML file of the form
//
//	users:
//	  user-1:
//	    max_daily_trades: 5
func LoadOverrides(path string) (map[string]Limits, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read risk overrides: %w", err)
	}
	return parseOverrides(data)
}

func parseOverrides(data []byte) (map[string]Limits, error) {
	var f overridesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse risk overrides: %w", err)
	}
	for user, l := range f.Users {
		if err := l.Validate(); err != nil {
			return nil, fmt.Errorf("user %s: %w", user, err)
		}
	}
	if f.Users == nil {
		f.Users = map[string]Limits{}
	}
	return f.Users, nil
}
