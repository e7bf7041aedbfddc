package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/kaputi/kaputi-backend/internal/engine"
)

type Config struct {
	// Environment
	Environment string

	// Server
	Port      string
	PublicURL string

	// Storage
	DatabaseURL string
	RedisURL    string

	// Rooms
	RoomGrace     time.Duration
	SweepInterval time.Duration

	// Game rules
	Rules engine.Rules
}

func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	defaults := engine.DefaultRules()
	rules := engine.Rules{
		MaxPlayers: getEnvInt("MAX_PLAYERS", defaults.MaxPlayers),
		MinPlayers: getEnvInt("MIN_PLAYERS", defaults.MinPlayers),
		MaxSlots:   getEnvInt("MAX_SLOTS", defaults.MaxSlots),
		Rounds:     getEnvInt("ROUNDS", defaults.Rounds),

		TopicDuration:     getEnvSeconds("TOPIC_SECONDS", defaults.TopicDuration),
		TurnDuration:      getEnvSeconds("TURN_SECONDS", defaults.TurnDuration),
		VoteDuration:      getEnvSeconds("VOTE_SECONDS", defaults.VoteDuration),
		ResolveGrace:      getEnvSeconds("RESOLVE_GRACE_SECONDS", defaults.ResolveGrace),
		HoldTimeout:       getEnvSeconds("HOLD_TIMEOUT_SECONDS", defaults.HoldTimeout),
		DisconnectRemoval: getEnvSeconds("DISCONNECT_REMOVAL_SECONDS", defaults.DisconnectRemoval),
		StartCountdown:    getEnvSeconds("START_COUNTDOWN_SECONDS", defaults.StartCountdown),

		SkipEmptyOnTimeout: getEnvBool("SKIP_EMPTY_ON_TIMEOUT", defaults.SkipEmptyOnTimeout),
		RandomSeats:        getEnvBool("RANDOM_SEATS", defaults.RandomSeats),

		Reward: engine.RewardPolicy{
			BasePoints:    getEnvInt("REWARD_BASE_POINTS", defaults.Reward.BasePoints),
			PointsPerCard: getEnvInt("REWARD_POINTS_PER_CARD", defaults.Reward.PointsPerCard),
			SpeedBonus:    getEnvInt("REWARD_SPEED_BONUS", defaults.Reward.SpeedBonus),
		},
	}

	return &Config{
		Environment: getEnv("APP_ENV", "development"),

		Port:      getEnv("APP_PORT", "8080"),
		PublicURL: strings.TrimRight(getEnv("PUBLIC_URL", "http://localhost:5173"), "/"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		RoomGrace:     getEnvSeconds("ROOM_GRACE_SECONDS", 2*time.Minute),
		SweepInterval: getEnvSeconds("SWEEP_INTERVAL_SECONDS", 30*time.Second),

		Rules: rules.Normalize(),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvSeconds(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
