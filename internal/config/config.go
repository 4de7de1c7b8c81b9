package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable of the collaboration core. The timing and
// geometry constants default to the tuned values observed in production;
// they are stability/responsiveness tradeoffs, not correctness invariants.
type Config struct {
	Backend   BackendConfig
	WebSocket WebSocketConfig
	Presence  PresenceConfig
	Routing   RoutingConfig
	Reconcile ReconcileConfig
	Inspect   InspectConfig
}

// BackendConfig points at the board backend of record.
type BackendConfig struct {
	BaseURL     string
	WSURL       string
	AccessToken string
	BoardID     string
	HTTPTimeout time.Duration
}

// WebSocketConfig tunes the board session socket.
type WebSocketConfig struct {
	ReadBufferSize   int
	WriteBufferSize  int
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
}

// PresenceConfig tunes ephemeral peer-state pruning.
type PresenceConfig struct {
	CursorIdle     time.Duration
	SelectionStale time.Duration
	SweepInterval  time.Duration
}

// RoutingConfig tunes connector routing.
type RoutingConfig struct {
	Workers          int
	QueueSize        int
	Padding          float64
	BoundPadding     float64
	Margin           float64
	BendPenalty      float64
	AnchorHysteresis float64
}

// ReconcileConfig tunes the persistence layer.
type ReconcileConfig struct {
	UndoWindow time.Duration
}

// InspectConfig tunes the local read-only inspection server.
type InspectConfig struct {
	Port        string
	Enabled     bool
	ReadTimeout time.Duration
}

// Load reads configuration from the environment.
func Load() *Config {
	// .env is optional
	if err := godotenv.Load(); err != nil {
		log.Println("[Config] No .env file found, using environment variables")
	}

	return &Config{
		Backend: BackendConfig{
			BaseURL:     getEnv("BACKEND_BASE_URL", "http://localhost:8080"),
			WSURL:       getEnv("BACKEND_WS_URL", "ws://localhost:8080/ws/boards"),
			AccessToken: getEnv("ACCESS_TOKEN", ""),
			BoardID:     getEnv("BOARD_ID", ""),
			HTTPTimeout: getDuration("BACKEND_HTTP_TIMEOUT", 10*time.Second),
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:   getInt("WS_READ_BUFFER_SIZE", 16*1024),
			WriteBufferSize:  getInt("WS_WRITE_BUFFER_SIZE", 16*1024),
			HandshakeTimeout: getDuration("WS_HANDSHAKE_TIMEOUT", 10*time.Second),
			WriteTimeout:     getDuration("WS_WRITE_TIMEOUT", 5*time.Second),
			PingInterval:     getDuration("WS_PING_INTERVAL", 30*time.Second),
		},
		Presence: PresenceConfig{
			CursorIdle:     getMillis("PRESENCE_CURSOR_IDLE_MS", 5000),
			SelectionStale: getMillis("PRESENCE_SELECTION_STALE_MS", 30000),
			SweepInterval:  getMillis("PRESENCE_SWEEP_INTERVAL_MS", 1000),
		},
		Routing: RoutingConfig{
			Workers:          getInt("ROUTING_WORKERS", 2),
			QueueSize:        getInt("ROUTING_QUEUE_SIZE", 64),
			Padding:          getFloat("ROUTING_PADDING", 16),
			BoundPadding:     getFloat("ROUTING_BOUND_PADDING", 8),
			Margin:           getFloat("ROUTING_MARGIN", 64),
			BendPenalty:      getFloat("ROUTING_BEND_PENALTY", 10),
			AnchorHysteresis: getFloat("ROUTING_ANCHOR_HYSTERESIS", 0.25),
		},
		Reconcile: ReconcileConfig{
			UndoWindow: getMillis("UNDO_WINDOW_MS", 5000),
		},
		Inspect: InspectConfig{
			Port:        getEnv("INSPECT_PORT", ":8091"),
			Enabled:     getBool("INSPECT_ENABLED", true),
			ReadTimeout: getDuration("INSPECT_READ_TIMEOUT", 10*time.Second),
		},
	}
}

// getEnv looks up an environment variable with a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getInt looks up an integer environment variable.
func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getFloat looks up a float environment variable.
func getFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getBool looks up a boolean environment variable.
func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

// getMillis looks up a millisecond count.
func getMillis(key string, defaultValue int) time.Duration {
	return time.Duration(getInt(key, defaultValue)) * time.Millisecond
}

// getDuration looks up a duration; bare numbers are seconds.
func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if !strings.ContainsAny(value, "smh") {
			if secs, err := strconv.Atoi(value); err == nil {
				return time.Duration(secs) * time.Second
			}
		}
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
