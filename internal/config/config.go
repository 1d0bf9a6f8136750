package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	DBDSN         string
	MigrationsDir string

	JWTPublicKeyPath string
	JWTSecret        string

	KafkaBrokers []string
	UpdatesTopic string

	RedisAddr          string
	RedisChannelPrefix string

	Presence PresenceConfig
	WS       WSConfig
}

type PresenceConfig struct {
	OnlineWindow  time.Duration
	OfflineAfter  time.Duration
	SweepInterval time.Duration
	TypingTTL     time.Duration
}

type WSConfig struct {
	PingPeriod        time.Duration
	PongWait          time.Duration
	WriteWait         time.Duration
	MaxMessageSize    int64
	CommandsPerSecond int
	SendBuffer        int
	AllowedOrigins    []string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("MIGRATIONS_DIR", "file://migrations")
	v.SetDefault("UPDATES_TOPIC", "chat-updates")
	v.SetDefault("REDIS_CHANNEL_PREFIX", "quartier-chat")

	v.SetDefault("PRESENCE_ONLINE_WINDOW", 5*time.Minute)
	v.SetDefault("PRESENCE_OFFLINE_AFTER", 24*time.Hour)
	v.SetDefault("PRESENCE_SWEEP_INTERVAL", 5*time.Minute)
	v.SetDefault("TYPING_TTL", 10*time.Second)

	v.SetDefault("WS_PING_PERIOD", 54*time.Second)
	v.SetDefault("WS_PONG_WAIT", 60*time.Second)
	v.SetDefault("WS_WRITE_WAIT", 10*time.Second)
	v.SetDefault("WS_MAX_MESSAGE_SIZE", 64*1024)
	v.SetDefault("WS_COMMANDS_PER_SECOND", 20)
	v.SetDefault("WS_SEND_BUFFER", 256)
}

// Load reads an optional .env file and then the process environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)
	return FromViper(v), nil
}

func FromViper(v *viper.Viper) *Config {
	return &Config{
		DBDSN:              v.GetString("DB_DSN"),
		MigrationsDir:      v.GetString("MIGRATIONS_DIR"),
		JWTPublicKeyPath:   v.GetString("JWT_PUBLIC_KEY_PATH"),
		JWTSecret:          v.GetString("JWT_SECRET"),
		KafkaBrokers:       splitList(v.GetString("KAFKA_BROKERS")),
		UpdatesTopic:       v.GetString("UPDATES_TOPIC"),
		RedisAddr:          v.GetString("REDIS_ADDR"),
		RedisChannelPrefix: v.GetString("REDIS_CHANNEL_PREFIX"),
		Presence: PresenceConfig{
			OnlineWindow:  v.GetDuration("PRESENCE_ONLINE_WINDOW"),
			OfflineAfter:  v.GetDuration("PRESENCE_OFFLINE_AFTER"),
			SweepInterval: v.GetDuration("PRESENCE_SWEEP_INTERVAL"),
			TypingTTL:     v.GetDuration("TYPING_TTL"),
		},
		WS: WSConfig{
			PingPeriod:        v.GetDuration("WS_PING_PERIOD"),
			PongWait:          v.GetDuration("WS_PONG_WAIT"),
			WriteWait:         v.GetDuration("WS_WRITE_WAIT"),
			MaxMessageSize:    v.GetInt64("WS_MAX_MESSAGE_SIZE"),
			CommandsPerSecond: v.GetInt("WS_COMMANDS_PER_SECOND"),
			SendBuffer:        v.GetInt("WS_SEND_BUFFER"),
			AllowedOrigins:    splitList(v.GetString("WS_ALLOWED_ORIGINS")),
		},
	}
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
