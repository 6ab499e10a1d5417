package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// TimeOfDay is a wall-clock "HH:MM" value in the bot's local timezone.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t *TimeOfDay) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.Parse("15:04", s)
	if err != nil {
		return fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	t.Hour = parsed.Hour()
	t.Minute = parsed.Minute()
	return nil
}

func (t TimeOfDay) Minutes() int { return t.Hour*60 + t.Minute }

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// Before reports whether t is strictly earlier in the day than other.
func (t TimeOfDay) Before(other TimeOfDay) bool { return t.Minutes() < other.Minutes() }

// InRange reports whether now falls inside [start, end], handling windows
// that wrap past midnight (the foreign session does).
func InRange(start, end, now TimeOfDay) bool {
	s, e, n := start.Minutes(), end.Minutes(), now.Minutes()
	if s <= e {
		return s <= n && n <= e
	}
	return n >= s || n <= e
}

// SlotTier maps an equity floor to a concurrent position cap. Tiers are
// evaluated in order; the last tier whose floor is covered wins.
type SlotTier struct {
	MinEquity float64 `yaml:"min_equity"`
	MaxSlots  int     `yaml:"max_slots"`
}

type StrategyConfig struct {
	TargetPct         float64 `yaml:"target_pct"`
	StopPct           float64 `yaml:"stop_pct"`
	StopFloorPct      float64 `yaml:"stop_floor_pct"`
	TrailActivatePct  float64 `yaml:"trail_activate_pct"`
	TrailPct          float64 `yaml:"trail_pct"`
	AddOnCeilingPct   float64 `yaml:"add_on_ceiling_pct"`
	MinScore          float64 `yaml:"min_score"`
	MaxDailyChangePct float64 `yaml:"max_daily_change_pct"`
	RiskLossPct       float64 `yaml:"risk_loss_pct"`
	RiskProfitPct     float64 `yaml:"risk_profit_pct"`
}

type MarketConfig struct {
	Open        TimeOfDay `yaml:"open"`
	ScanStart   TimeOfDay `yaml:"scan_start"`
	ScanEnd     TimeOfDay `yaml:"scan_end"`
	TradeStart  TimeOfDay `yaml:"trade_start"`
	LiquidateAt TimeOfDay `yaml:"liquidate_at"`
	Close       TimeOfDay `yaml:"close"`
	// SessionEnd bounds the post-close window where the daily report and
	// strategy tuning run exactly once.
	SessionEnd TimeOfDay `yaml:"session_end"`

	MinOrderNotional   float64 `yaml:"min_order_notional"`
	ReconcileTolerance float64 `yaml:"reconcile_tolerance"`

	// Order pricing safety buffers (percent).
	BuyBufferPct           float64 `yaml:"buy_buffer_pct"`
	SellBufferPct          float64 `yaml:"sell_buffer_pct"`
	SafetyFactor           float64 `yaml:"safety_factor"`
	LiquidationDiscountPct float64 `yaml:"liquidation_discount_pct"`
	// Domestic market orders must clear the upper-limit cash check, so
	// quantity is sized against price * upper_limit_factor.
	UpperLimitFactor float64 `yaml:"upper_limit_factor"`

	SlotTiers []SlotTier     `yaml:"slot_tiers"`
	Strategy  StrategyConfig `yaml:"strategy"`

	// Positions at a loss deeper than this are never held overnight.
	OvernightMaxLossPct float64 `yaml:"overnight_max_loss_pct"`
}

type Config struct {
	Broker struct {
		RESTEndpoint string `yaml:"rest_endpoint"`
		WSEndpoint   string `yaml:"ws_endpoint"`
		TimeoutSec   int    `yaml:"timeout_sec"`
	} `yaml:"broker"`

	Markets struct {
		Domestic MarketConfig `yaml:"domestic"`
		Foreign  MarketConfig `yaml:"foreign"`
	} `yaml:"markets"`

	Scan struct {
		IntervalMin    int `yaml:"interval_min"`
		ExtraCandidate int `yaml:"extra_candidates"`
	} `yaml:"scan"`

	RiskCheckIntervalMin    int `yaml:"risk_check_interval_min"`
	OrderCleanupIntervalSec int `yaml:"order_cleanup_interval_sec"`

	Liquidation struct {
		RetrySec       int `yaml:"retry_sec"`
		SettlePauseSec int `yaml:"settle_pause_sec"`
	} `yaml:"liquidation"`

	Advisory struct {
		Endpoint   string `yaml:"endpoint"`
		TimeoutSec int    `yaml:"timeout_sec"`
	} `yaml:"advisory"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`

	Metrics struct {
		Port int `yaml:"port"`
	} `yaml:"metrics"`
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Broker.TimeoutSec == 0 {
		c.Broker.TimeoutSec = 10
	}
	if c.Scan.IntervalMin == 0 {
		c.Scan.IntervalMin = 10
	}
	if c.Scan.ExtraCandidate == 0 {
		c.Scan.ExtraCandidate = 2
	}
	if c.RiskCheckIntervalMin == 0 {
		c.RiskCheckIntervalMin = 10
	}
	if c.OrderCleanupIntervalSec == 0 {
		c.OrderCleanupIntervalSec = 30
	}
	if c.Liquidation.RetrySec == 0 {
		c.Liquidation.RetrySec = 120
	}
	if c.Liquidation.SettlePauseSec == 0 {
		c.Liquidation.SettlePauseSec = 2
	}
	if c.Advisory.TimeoutSec == 0 {
		c.Advisory.TimeoutSec = 60
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "bot.db"
	}
	applyMarketDefaults(&c.Markets.Domestic)
	applyMarketDefaults(&c.Markets.Foreign)
}

func applyMarketDefaults(m *MarketConfig) {
	if m.SafetyFactor == 0 {
		m.SafetyFactor = 0.98
	}
	if m.UpperLimitFactor == 0 {
		m.UpperLimitFactor = 1.0
	}
	if m.LiquidationDiscountPct == 0 {
		m.LiquidationDiscountPct = 5.0
	}
	if m.Strategy.StopFloorPct == 0 {
		m.Strategy.StopFloorPct = 1.5
	}
	if m.OvernightMaxLossPct == 0 {
		m.OvernightMaxLossPct = 3.0
	}
	if len(m.SlotTiers) == 0 {
		m.SlotTiers = []SlotTier{{MinEquity: 0, MaxSlots: 2}, {MinEquity: 300, MaxSlots: 3}}
	}
}
