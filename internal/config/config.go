package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Defaults for the signaling transport. The WebSocket endpoint convention
// (port 8088, /ws path) matches the Asterisk HTTP transport the CRM PBX
// exposes.
const (
	DefaultWSPort            = 8088
	DefaultWSPath            = "/ws"
	DefaultConnectTimeout    = 10 * time.Second
	DefaultWSKeepAlive       = 20 * time.Second
	DefaultReconnectAttempts = 3
	DefaultReconnectDelay    = 4 * time.Second
	DefaultNoAnswerTimeout   = 60 * time.Second
	DefaultKeepAliveInterval = 25 * time.Second
	DefaultRegisterExpiry    = 600 * time.Second
)

// Config holds the softphone daemon configuration
type Config struct {
	// SIP account settings
	SIPServer string // Signaling server host (WebSocket endpoint derived from it)
	Username  string
	Password  string
	Domain    string // SIP domain; defaults to SIPServer when empty

	// Transport tuning
	WSPort            int
	WSPath            string
	ConnectTimeout    time.Duration
	WSKeepAlive       time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	NoAnswerTimeout   time.Duration
	KeepAliveInterval time.Duration
	RegisterExpiry    time.Duration

	// Media settings
	RTPPortMin int
	RTPPortMax int

	// Control API
	APIAddr string

	// Call log sinks
	CallLogPath string // JSON-lines file, empty disables
	RedisAddr   string // Redis sink, empty disables
	RedisKey    string

	// Logging
	LogLevel string
	LogFile  string // rotated log file, empty disables
}

// Load loads configuration from command line flags and environment
// variables. A .env file in the working directory is honored when present.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		WSPort:            DefaultWSPort,
		WSPath:            DefaultWSPath,
		ConnectTimeout:    DefaultConnectTimeout,
		WSKeepAlive:       DefaultWSKeepAlive,
		ReconnectAttempts: DefaultReconnectAttempts,
		ReconnectDelay:    DefaultReconnectDelay,
		NoAnswerTimeout:   DefaultNoAnswerTimeout,
		KeepAliveInterval: DefaultKeepAliveInterval,
		RegisterExpiry:    DefaultRegisterExpiry,
		RedisKey:          "softphone:calllog",
	}

	flag.StringVar(&cfg.SIPServer, "server", "", "SIP signaling server host")
	flag.StringVar(&cfg.Username, "user", "", "SIP username")
	flag.StringVar(&cfg.Password, "pass", "", "SIP password")
	flag.StringVar(&cfg.Domain, "domain", "", "SIP domain (defaults to server host)")
	flag.IntVar(&cfg.RTPPortMin, "rtp-min", 20000, "RTP port range start")
	flag.IntVar(&cfg.RTPPortMax, "rtp-max", 20100, "RTP port range end")
	flag.StringVar(&cfg.APIAddr, "api", "127.0.0.1:8090", "Control API listen address")
	flag.StringVar(&cfg.CallLogPath, "calllog", "", "Call log JSON-lines file path")
	flag.StringVar(&cfg.RedisAddr, "redis", "", "Redis address for the call log sink")
	flag.StringVar(&cfg.LogLevel, "loglevel", "info", "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.LogFile, "logfile", "", "Rotated log file path")

	flag.Parse()

	// Override with environment variables if set
	if v := os.Getenv("SIP_SERVER"); v != "" {
		cfg.SIPServer = v
	}
	if v := os.Getenv("SIP_USERNAME"); v != "" {
		cfg.Username = v
	}
	if v := os.Getenv("SIP_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := os.Getenv("SIP_DOMAIN"); v != "" {
		cfg.Domain = v
	}
	if v := os.Getenv("API_ADDR"); v != "" {
		cfg.APIAddr = v
	}
	if v := os.Getenv("CALLLOG_PATH"); v != "" {
		cfg.CallLogPath = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_KEY"); v != "" {
		cfg.RedisKey = v
	}
	if v := os.Getenv("LOGLEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOGFILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv("WS_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.WSPort = p
		}
	}
	if v := os.Getenv("KEEPALIVE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.KeepAliveInterval = d
		}
	}
	if v := os.Getenv("REGISTER_EXPIRY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RegisterExpiry = d
		}
	}

	if cfg.Domain == "" {
		cfg.Domain = cfg.SIPServer
	}

	return cfg
}

// Validate checks that the account settings required before a connect
// attempt are present. The session manager itself does not validate
// credentials; the caller must.
func (c *Config) Validate() error {
	if c.SIPServer == "" {
		return fmt.Errorf("SIP server is required")
	}
	if c.Username == "" {
		return fmt.Errorf("SIP username is required")
	}
	if c.Password == "" {
		return fmt.Errorf("SIP password is required")
	}
	if c.RTPPortMin >= c.RTPPortMax {
		return fmt.Errorf("invalid RTP port range %d-%d", c.RTPPortMin, c.RTPPortMax)
	}
	return nil
}

// WSEndpoint returns the derived WebSocket signaling URL,
// e.g. ws://pbx.example.com:8088/ws
func (c *Config) WSEndpoint() string {
	return fmt.Sprintf("ws://%s:%d%s", c.SIPServer, c.WSPort, c.WSPath)
}
