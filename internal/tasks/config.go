package tasks

import (
	"encoding/json"
	"fmt"
)

// Target-selection strategies for reserve tasks.
const (
	StrategyCustom     = "custom"
	StrategyDefaultAll = "default_all"
)

// Config is the validated form of a reserve task's configuration blob:
// either one explicit target or "every saved seat, in list order". It
// is resolved at the boundary so executors never touch raw JSON.
type Config struct {
	Strategy string `json:"strategy"`

	// set only for StrategyCustom
	LibID   int    `json:"lib_id,omitempty"`
	SeatKey string `json:"seat_key,omitempty"`
}

// ParseConfig validates a raw config blob into a Config. A missing
// strategy defaults to custom, matching how stored tasks predate the
// strategy field.
func ParseConfig(raw json.RawMessage) (Config, error) {
	var c Config
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &c); err != nil {
			return Config{}, fmt.Errorf("task config: %w", err)
		}
	}
	if c.Strategy == "" {
		c.Strategy = StrategyCustom
	}
	switch c.Strategy {
	case StrategyDefaultAll:
		return Config{Strategy: StrategyDefaultAll}, nil
	case StrategyCustom:
		if c.LibID == 0 || c.SeatKey == "" {
			return Config{}, fmt.Errorf("task config: custom strategy requires lib_id and seat_key")
		}
		return c, nil
	default:
		return Config{}, fmt.Errorf("task config: unknown strategy %q", c.Strategy)
	}
}
