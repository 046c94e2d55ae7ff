package config

import (
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Addr           string   `env:"ADDR" envDefault:":3000"`
	Env            string   `env:"ENV" envDefault:"development"`
	TrialsPath     string   `env:"TRIALS_PATH" envDefault:"data/trials.json"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:5174,http://localhost:5175"`

	SeatTiers      int     `env:"SEAT_TIERS" envDefault:"5"`
	SeatsPerTier   int     `env:"SEATS_PER_TIER" envDefault:"24"`
	SeatBaseRadius float64 `env:"SEAT_BASE_RADIUS" envDefault:"12"`
	SeatTierGap    float64 `env:"SEAT_TIER_GAP" envDefault:"2"`
}

// Load reads an optional .env file, then the environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Production() bool { return c.Env == "production" }
