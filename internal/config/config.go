package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates every tunable of the chat backend.
type Config struct {
	Server Server
	Redis  Redis
	Store  Store
	Auth   Auth
	AI     AI
	Limits Limits
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServer()
	if err != nil {
		return nil, err
	}
	auth, err := loadAuth()
	if err != nil {
		return nil, err
	}
	limits, err := loadLimits()
	if err != nil {
		return nil, err
	}
	ai, err := loadAI()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: server,
		Redis:  loadRedis(),
		Store:  loadStore(),
		Auth:   auth,
		AI:     ai,
		Limits: limits,
	}, nil
}

// Server describes the HTTP listener.
type Server struct {
	Addr          string
	ShutdownGrace time.Duration
}

func loadServer() (Server, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	addr := port
	if !strings.Contains(port, ":") {
		if strings.Contains(port, " ") {
			return Server{}, fmt.Errorf("invalid PORT value: %q", port)
		}
		addr = ":" + port
	}

	grace, err := parseDurationEnv("SHUTDOWN_GRACE", 10*time.Second)
	if err != nil {
		return Server{}, err
	}

	return Server{Addr: addr, ShutdownGrace: grace}, nil
}

// Redis describes the shared cache and bus backend. An empty Addr keeps
// the process on in-memory implementations (single-instance mode).
type Redis struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a redis backend is configured.
func (r Redis) Enabled() bool { return r.Addr != "" }

func loadRedis() Redis {
	db := 0
	if v, err := strconv.Atoi(strings.TrimSpace(os.Getenv("REDIS_DB"))); err == nil {
		db = v
	}
	return Redis{
		Addr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
	}
}

// Store describes the durable document store. An empty path keeps the
// process on the in-memory repositories.
type Store struct {
	SQLitePath string
}

// Enabled reports whether a sqlite store is configured.
func (s Store) Enabled() bool { return s.SQLitePath != "" }

func loadStore() Store {
	return Store{SQLitePath: strings.TrimSpace(os.Getenv("SQLITE_PATH"))}
}

// Auth describes token verification and the user-resolution cache.
type Auth struct {
	JWTKey       string
	UserCacheTTL time.Duration
}

func loadAuth() (Auth, error) {
	ttl, err := parseDurationEnv("AUTH_USER_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return Auth{}, err
	}
	return Auth{
		JWTKey:       strings.TrimSpace(os.Getenv("JWT_SECRET")),
		UserCacheTTL: ttl,
	}, nil
}

// AI describes the Ark model backing assistant mentions.
type AI struct {
	APIKey    string
	AccessKey string
	SecretKey string
	Model     string
	BaseURL   string
	Region    string
	MaxTokens *int
}

// Enabled reports whether the required credentials are present.
func (c AI) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

func loadAI() (AI, error) {
	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AI{}, err
	}
	return AI{
		APIKey:    strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey: strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey: strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:     strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:   getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:    getEnvOrDefault("ARK_REGION", "cn-beijing"),
		MaxTokens: maxTokens,
	}, nil
}

// Limits bounds the in-memory registries and periodic maintenance.
type Limits struct {
	RateWindow      time.Duration
	RateMax         int
	MaxConnections  int
	MaxStreams      int
	MaxPresence     int
	MaxInflight     int
	MaxRateBuckets  int
	PreemptWait     time.Duration
	StreamIdle      time.Duration
	JanitorInterval time.Duration
	HeapSoftBytes   uint64
	HeapHardBytes   uint64
}

func loadLimits() (Limits, error) {
	rateMax, err := parseIntEnv("RATE_MAX_PER_WINDOW", 40)
	if err != nil {
		return Limits{}, err
	}
	window, err := parseDurationEnv("RATE_WINDOW", time.Minute)
	if err != nil {
		return Limits{}, err
	}
	interval, err := parseDurationEnv("JANITOR_INTERVAL", 3*time.Minute)
	if err != nil {
		return Limits{}, err
	}
	heapSoft, err := parseIntEnv("HEAP_SOFT_MB", 512)
	if err != nil {
		return Limits{}, err
	}
	heapHard, err := parseIntEnv("HEAP_HARD_MB", 1024)
	if err != nil {
		return Limits{}, err
	}

	return Limits{
		RateWindow:      window,
		RateMax:         rateMax,
		MaxConnections:  2000,
		MaxStreams:      500,
		MaxPresence:     2000,
		MaxInflight:     1000,
		MaxRateBuckets:  2000,
		PreemptWait:     8 * time.Second,
		StreamIdle:      30 * time.Minute,
		JanitorInterval: interval,
		HeapSoftBytes:   uint64(heapSoft) << 20,
		HeapHardBytes:   uint64(heapHard) << 20,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}
	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}
