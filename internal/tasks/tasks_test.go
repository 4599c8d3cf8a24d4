package tasks

import (
	"encoding/json"
	"testing"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		task    Task
		wantErr bool
	}{
		{"reserve ok", Task{Type: TypeReserve, CronExpression: "0 7 * * *", Config: json.RawMessage(`{"strategy":"default_all"}`)}, false},
		{"signin ok", Task{Type: TypeSignin, CronExpression: "40 17 * * 1-5"}, false},
		{"no cron", Task{Type: TypeSignin}, false},
		{"unknown type", Task{Type: "cleanup"}, true},
		{"bad cron", Task{Type: TypeSignin, CronExpression: "every 5 minutes"}, true},
		{"bad config", Task{Type: TypeReserve, Config: json.RawMessage(`{"strategy":"nope"}`)}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.task.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestParseConfig(t *testing.T) {
	t.Run("custom target", func(t *testing.T) {
		cfg, err := ParseConfig(json.RawMessage(`{"strategy":"custom","lib_id":101,"seat_key":"28,46."}`))
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Strategy != StrategyCustom || cfg.LibID != 101 || cfg.SeatKey != "28,46." {
			t.Errorf("cfg = %+v", cfg)
		}
	})

	t.Run("missing strategy defaults to custom", func(t *testing.T) {
		cfg, err := ParseConfig(json.RawMessage(`{"lib_id":101,"seat_key":"28,46."}`))
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Strategy != StrategyCustom {
			t.Errorf("strategy = %q", cfg.Strategy)
		}
	})

	t.Run("default_all needs no target", func(t *testing.T) {
		cfg, err := ParseConfig(json.RawMessage(`{"strategy":"default_all"}`))
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Strategy != StrategyDefaultAll {
			t.Errorf("strategy = %q", cfg.Strategy)
		}
	})

	t.Run("custom without target", func(t *testing.T) {
		if _, err := ParseConfig(json.RawMessage(`{"strategy":"custom"}`)); err == nil {
			t.Error("expected an error for a custom strategy without a seat")
		}
	})

	t.Run("malformed json", func(t *testing.T) {
		if _, err := ParseConfig(json.RawMessage(`{`)); err == nil {
			t.Error("expected an error")
		}
	})
}
