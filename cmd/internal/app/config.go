package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogPretty bool

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration

	// Backend mode: when both DatabaseURL and FeedURL are set, the engine
	// talks to Postgres + the websocket feed endpoint. When neither is set it
	// runs on the in-process backend. Setting only one is a config error.
	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32
	FeedURL     string

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	// Conversation wiring for the CLI runtime.
	ActorID string
	PeerIDs []string

	HistoryLimit   int
	HistoryTimeout time.Duration
	EchoWindow     time.Duration

	FeedBackoffBase  time.Duration
	FeedBackoffCap   time.Duration
	FeedMaxAttempts  int
	FeedHeartbeat    time.Duration
	FeedQueueSize    int
	FeedDialTimeout  time.Duration
	FeedWriteTimeout time.Duration
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("SKIFF_HTTP_ADDR", "127.0.0.1:8090"),
		LogLevel:  EnvString("SKIFF_LOG_LEVEL", "info"),
		LogPretty: EnvBool("SKIFF_LOG_PRETTY", false),

		ReadHeaderTimeout: EnvDuration("SKIFF_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("SKIFF_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("SKIFF_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("SKIFF_HTTP_IDLE_TIMEOUT", 60*time.Second),

		DatabaseURL: EnvString("SKIFF_DATABASE_URL", ""),
		DBSchema:    EnvString("SKIFF_DB_SCHEMA", "skiff"),
		DBMaxConns:  EnvInt32("SKIFF_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("SKIFF_DB_MIN_CONNS", 0),
		FeedURL:     EnvString("SKIFF_FEED_URL", ""),

		ReadinessRequireDB: EnvBool("SKIFF_READINESS_REQUIRE_DB", false),

		ActorID: EnvString("SKIFF_ACTOR_ID", ""),
		PeerIDs: EnvCSV("SKIFF_PEER_IDS", ""),

		HistoryLimit:   EnvInt("SKIFF_HISTORY_LIMIT", 50),
		HistoryTimeout: EnvDuration("SKIFF_HISTORY_TIMEOUT", 10*time.Second),
		EchoWindow:     EnvDuration("SKIFF_ECHO_WINDOW", 2*time.Minute),

		FeedBackoffBase:  EnvDuration("SKIFF_FEED_BACKOFF_BASE", 1*time.Second),
		FeedBackoffCap:   EnvDuration("SKIFF_FEED_BACKOFF_CAP", 30*time.Second),
		FeedMaxAttempts:  EnvInt("SKIFF_FEED_MAX_ATTEMPTS", 0),
		FeedHeartbeat:    EnvDuration("SKIFF_FEED_HEARTBEAT", 25*time.Second),
		FeedQueueSize:    EnvInt("SKIFF_FEED_QUEUE", 256),
		FeedDialTimeout:  EnvDuration("SKIFF_FEED_DIAL_TIMEOUT", 10*time.Second),
		FeedWriteTimeout: EnvDuration("SKIFF_FEED_WRITE_TIMEOUT", 5*time.Second),
	}
}
