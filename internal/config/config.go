package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"towerlords/game"
)

type Config struct {
	Server      ServerConfig      `toml:"server"`
	Game        GameConfig        `toml:"game"`
	Gateway     GatewayConfig     `toml:"gateway"`
	Match       MatchConfig       `toml:"match"`
	Matchmaking MatchmakingConfig `toml:"matchmaking"`
	Chat        ChatConfig        `toml:"chat"`
	Storage     StorageConfig     `toml:"storage"`
	Logging     LoggingConfig     `toml:"logging"`
	Features    FeaturesConfig    `toml:"features"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

// GameConfig mirrors game.Rules key for key so a rules tweak is a config
// edit, not a rebuild.
type GameConfig struct {
	HandMax         int   `toml:"hand_max"`
	BoardSize       int   `toml:"board_size"`
	ShopSizeByLevel []int `toml:"shop_size_by_level"`
	RerollCostBase  int   `toml:"reroll_cost_base"`
	RerollIncrement int   `toml:"reroll_increment"`
	RoundShopMs     int   `toml:"round_shop_ms"`
	DrawPerRound    int   `toml:"draw_per_round"`
	GoldPerRound    int   `toml:"gold_per_round"`
	StartingGold    int   `toml:"starting_gold"`
	StartDraw       int   `toml:"start_draw"`
	TicksToReach    int   `toml:"ticks_to_reach"`
	SimTickMs       int   `toml:"sim_tick_ms"`
	MaxTicks        int   `toml:"max_ticks"`
}

type GatewayConfig struct {
	KeepaliveMs     int `toml:"keepalive_ms"`
	KeepaliveMiss   int `toml:"keepalive_miss"`
	AuthTimeoutMs   int `toml:"auth_timeout_ms"`
	ActionTimeoutMs int `toml:"action_timeout_ms"`
	SendQueue       int `toml:"send_queue"`
}

type MatchConfig struct {
	FinishedGraceMs int `toml:"finished_grace_ms"`
	IdleMatchMs     int `toml:"idle_match_ms"`
	PersistSoftMs   int `toml:"persist_soft_ms"`
}

type MatchmakingConfig struct {
	QueueTtlMs int `toml:"queue_ttl_ms"`
	QueueCap   int `toml:"queue_cap"`
}

type ChatConfig struct {
	Ring         int `toml:"ring"`
	RateMsgs     int `toml:"rate_msgs"`
	RateWindowMs int `toml:"rate_window_ms"`
}

type StorageConfig struct {
	Mode string `toml:"mode"` // "memory", "sqlite" or "postgres"
	DSN  string `toml:"dsn"`
	Path string `toml:"path"` // sqlite file
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

type FeaturesConfig struct {
	EndRound bool `toml:"end_round"`
}

// Load reads the TOML file at path over the defaults. A missing file is
// not an error; the server runs on defaults. Env overrides apply last so
// secrets stay out of the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Storage.DSN = dsn
	}
	if mode := os.Getenv("STORAGE_MODE"); mode != "" {
		c.Storage.Mode = mode
	}
}

// Rules converts the game section into the engine's rule set.
func (c *Config) Rules() game.Rules {
	g := c.Game
	return game.Rules{
		HandMax:         g.HandMax,
		BoardSize:       g.BoardSize,
		ShopSizeByLevel: g.ShopSizeByLevel,
		RerollCostBase:  g.RerollCostBase,
		RerollIncrement: g.RerollIncrement,
		RoundShopMs:     g.RoundShopMs,
		DrawPerRound:    g.DrawPerRound,
		GoldPerRound:    g.GoldPerRound,
		StartingGold:    g.StartingGold,
		StartDraw:       g.StartDraw,
		TicksToReach:    g.TicksToReach,
		SimTickMs:       g.SimTickMs,
		MaxTicks:        g.MaxTicks,
	}
}

func Default() *Config {
	rules := game.DefaultRules()
	return &Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Game: GameConfig{
			HandMax:         rules.HandMax,
			BoardSize:       rules.BoardSize,
			ShopSizeByLevel: rules.ShopSizeByLevel,
			RerollCostBase:  rules.RerollCostBase,
			RerollIncrement: rules.RerollIncrement,
			RoundShopMs:     rules.RoundShopMs,
			DrawPerRound:    rules.DrawPerRound,
			GoldPerRound:    rules.GoldPerRound,
			StartingGold:    rules.StartingGold,
			StartDraw:       rules.StartDraw,
			TicksToReach:    rules.TicksToReach,
			SimTickMs:       rules.SimTickMs,
			MaxTicks:        rules.MaxTicks,
		},
		Gateway: GatewayConfig{
			KeepaliveMs:     15000,
			KeepaliveMiss:   2,
			AuthTimeoutMs:   5000,
			ActionTimeoutMs: 2000,
			SendQueue:       64,
		},
		Match: MatchConfig{
			FinishedGraceMs: 60000,
			IdleMatchMs:     600000,
			PersistSoftMs:   500,
		},
		Matchmaking: MatchmakingConfig{
			QueueTtlMs: 10000,
			QueueCap:   256,
		},
		Chat: ChatConfig{
			Ring:         50,
			RateMsgs:     5,
			RateWindowMs: 10000,
		},
		Storage: StorageConfig{
			Mode: "memory",
			Path: "towerlords.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Features: FeaturesConfig{
			EndRound: false,
		},
	}
}
