package app

import (
	"errors"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"devmatch/cmd/security/token"

	"github.com/joho/godotenv"
)

// Config contains the relay server configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	DBSchema    string
	// DBConnectWait bounds how long startup retries an unreachable database.
	DBConnectWait time.Duration

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// Security policy:
	// If true, DEVMATCH_TOKEN_HMAC_KEY MUST be set (>= 32 bytes) and session hashing is HMAC-based.
	RequireTokenHMAC bool
	TokenHMACKey     string
	SessionTTL       time.Duration

	CookieSecure   bool
	CookieSameSite http.SameSite

	// Dev login throttling per client IP.
	LoginRateEvents int
	LoginRateWindow time.Duration
	TrustProxy      bool

	// Browser access to REST (the web frontend runs on another origin).
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// Websocket gateway policy.
	WSDevInsecure       bool
	WSOriginRequired    bool
	WSAllowedOrigins    []string
	WSWriteTimeout      time.Duration
	WSReadIdleTimeout   time.Duration
	WSSendQueueSize     int
	WSHeartbeatInterval time.Duration
	WSHeartbeatTimeout  time.Duration
	WSRateEvents        int
	WSRateWindow        time.Duration
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("DEVMATCH_HTTP_ADDR", "127.0.0.1:8080"),
		LogLevel:  EnvString("DEVMATCH_LOG_LEVEL", "info"),
		LogFormat: EnvString("DEVMATCH_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("DEVMATCH_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("DEVMATCH_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("DEVMATCH_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("DEVMATCH_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("DEVMATCH_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("DEVMATCH_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("DEVMATCH_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("DEVMATCH_DB_MIN_CONNS", 0),
		DBSchema:    EnvString("DEVMATCH_DB_SCHEMA", "devmatch"),

		DBConnectWait: EnvDuration("DEVMATCH_DB_CONNECT_WAIT", 15*time.Second),

		ReadinessRequireDB: EnvBool("DEVMATCH_READINESS_REQUIRE_DB", false),

		RequireTokenHMAC: EnvBool("DEVMATCH_REQUIRE_TOKEN_HMAC", false),
		TokenHMACKey:     EnvString(token.HMACEnvKey, ""),
		SessionTTL:       EnvDuration("DEVMATCH_SESSION_TTL", 7*24*time.Hour),

		CookieSecure:   EnvBool("DEVMATCH_COOKIE_SECURE", false),
		CookieSameSite: parseSameSite(EnvString("DEVMATCH_COOKIE_SAMESITE", "lax")),

		LoginRateEvents: envLoginRateEvents(),
		LoginRateWindow: EnvDuration("DEVMATCH_LOGIN_RATE_WINDOW", time.Minute),
		TrustProxy:      EnvBool("DEVMATCH_TRUST_PROXY", false),

		CORSAllowedOrigins:   EnvCSV("DEVMATCH_CORS_ALLOWED_ORIGINS", "http://localhost:*,http://127.0.0.1:*"),
		CORSAllowCredentials: EnvBool("DEVMATCH_CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAgeSeconds:    EnvInt("DEVMATCH_CORS_MAX_AGE", 600),

		WSDevInsecure:       EnvBool("DEVMATCH_WS_DEV_INSECURE", false),
		WSOriginRequired:    EnvBool("DEVMATCH_WS_ORIGIN_REQUIRED", true),
		WSAllowedOrigins:    EnvCSV("DEVMATCH_WS_ALLOWED_ORIGINS", "http://localhost,http://127.0.0.1"),
		WSWriteTimeout:      EnvDuration("DEVMATCH_WS_WRITE_TIMEOUT", 5*time.Second),
		WSReadIdleTimeout:   EnvDuration("DEVMATCH_WS_READ_IDLE_TIMEOUT", 0),
		WSSendQueueSize:     EnvInt("DEVMATCH_WS_SEND_QUEUE", 256),
		WSHeartbeatInterval: EnvDuration("DEVMATCH_WS_HEARTBEAT_INTERVAL", 25*time.Second),
		WSHeartbeatTimeout:  EnvDuration("DEVMATCH_WS_HEARTBEAT_TIMEOUT", 5*time.Second),
		WSRateEvents:        EnvInt("DEVMATCH_WS_RATE_EVENTS", 120),
		WSRateWindow:        EnvDuration("DEVMATCH_WS_RATE_WINDOW", 10*time.Second),
	}
}

// ChatConfig configures the terminal chat client.
type ChatConfig struct {
	APIURL       string
	WSURL        string
	SessionToken string
	// Origin is sent on the websocket handshake; defaults to APIURL.
	Origin string

	UserFile   string
	Locale     string
	AckTimeout time.Duration

	LogLevel  string
	LogFormat string
}

// LoadChatConfig loads ChatConfig from environment variables with defaults.
// An empty DEVMATCH_WS_URL is derived from the API URL.
func LoadChatConfig() ChatConfig {
	apiURL := strings.TrimRight(EnvString("DEVMATCH_API_URL", "http://127.0.0.1:8080"), "/")
	cfg := ChatConfig{
		APIURL:       apiURL,
		WSURL:        EnvString("DEVMATCH_WS_URL", ""),
		SessionToken: EnvString("DEVMATCH_SESSION_TOKEN", ""),
		Origin:       EnvString("DEVMATCH_ORIGIN", apiURL),

		UserFile:   EnvString("DEVMATCH_USER_FILE", ".devmatch-user.json"),
		Locale:     EnvString("DEVMATCH_LOCALE", "en-US"),
		AckTimeout: EnvDuration("DEVMATCH_ACK_TIMEOUT", 10*time.Second),

		LogLevel:  EnvString("DEVMATCH_LOG_LEVEL", "warn"),
		LogFormat: EnvString("DEVMATCH_LOG_FORMAT", "pretty"),
	}
	if cfg.WSURL == "" {
		cfg.WSURL = WSURLFor(apiURL)
	}
	return cfg
}

// LoadDotEnv loads KEY=VALUE files into the process environment.
// Missing files are ignored; variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// envLoginRateEvents reads DEVMATCH_LOGIN_RATE_EVENTS; "off" or "0" disables
// login throttling.
func envLoginRateEvents() int {
	if v, ok := envValue("DEVMATCH_LOGIN_RATE_EVENTS"); ok {
		switch strings.ToLower(v) {
		case "off", "none", "0":
			return -1
		}
	}
	return EnvInt("DEVMATCH_LOGIN_RATE_EVENTS", 20)
}

func parseSameSite(v string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}
