package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/Wyydra/medsignal/internal/logger"
)

const envPrefix = "MEDSIGNAL_"

type Config struct {
	Server Server `yaml:"server"`
	Peer   Peer   `yaml:"peer"`
	Log    Log    `yaml:"log"`
}

type Server struct {
	Listen            string        `yaml:"listen" env:"LISTEN"`
	MaxRoomSize       int           `yaml:"maxRoomSize" env:"MAX_ROOM_SIZE"`
	MaxMessageBytes   int64         `yaml:"maxMessageBytes" env:"MAX_MESSAGE_BYTES"`
	MessagesPerSecond float64       `yaml:"messagesPerSecond" env:"MESSAGES_PER_SECOND"`
	Burst             int           `yaml:"burst" env:"BURST"`
	PingPeriod        time.Duration `yaml:"pingPeriod" env:"PING_PERIOD"`
	PongWait          time.Duration `yaml:"pongWait" env:"PONG_WAIT"`
	SendBuffer        int           `yaml:"sendBuffer" env:"SEND_BUFFER"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout" env:"SHUTDOWN_TIMEOUT"`
	AllowedOrigins    []string      `yaml:"allowedOrigins" env:"ALLOWED_ORIGINS"`
	StaticDir         string        `yaml:"staticDir" env:"STATIC_DIR"`
	Metrics           bool          `yaml:"metrics" env:"METRICS"`
}

type Peer struct {
	SignalingURL       string        `yaml:"signalingUrl" env:"SIGNALING_URL"`
	ICEServers         []string      `yaml:"iceServers" env:"ICE_SERVERS"`
	NegotiationTimeout time.Duration `yaml:"negotiationTimeout" env:"NEGOTIATION_TIMEOUT"`
	AutoRejoin         bool          `yaml:"autoRejoin" env:"AUTO_REJOIN"`
	ReconnectMin       time.Duration `yaml:"reconnectMin" env:"RECONNECT_MIN"`
	ReconnectMax       time.Duration `yaml:"reconnectMax" env:"RECONNECT_MAX"`
}

type Log struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

func Default() Config {
	return Config{
		Server: Server{
			Listen:            ":5001",
			MaxRoomSize:       2,
			MaxMessageBytes:   64 * 1024,
			MessagesPerSecond: 50,
			Burst:             100,
			PingPeriod:        54 * time.Second,
			PongWait:          60 * time.Second,
			SendBuffer:        256,
			ShutdownTimeout:   5 * time.Second,
			Metrics:           true,
		},
		Peer: Peer{
			SignalingURL: "ws://localhost:5001/ws",
			ICEServers: []string{
				"stun:stun1.l.google.com:19302",
				"stun:stun2.l.google.com:19302",
			},
			NegotiationTimeout: 30 * time.Second,
			AutoRejoin:         true,
			ReconnectMin:       500 * time.Millisecond,
			ReconnectMax:       10 * time.Second,
		},
		Log: Log{
			Level:  "info",
			Format: logger.FormatConsole,
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path (if any) and
// then with MEDSIGNAL_* environment variables.
func Load(path string) (Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return c, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &c); err != nil {
			return c, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := c.ApplyEnv(nil); err != nil {
		return c, err
	}
	return c, nil
}

// ApplyEnv overrides fields from MEDSIGNAL_* variables in environ, or in the
// process environment when environ is nil.
func (c *Config) ApplyEnv(environ map[string]string) error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: envPrefix, Environment: environ}); err != nil {
		return fmt.Errorf("config env: %w", err)
	}
	c.Server.AllowedOrigins = trimList(c.Server.AllowedOrigins)
	c.Peer.ICEServers = trimList(c.Peer.ICEServers)
	return nil
}

func (c Config) Validate() error {
	var errs []error
	s := c.Server
	if s.Listen == "" {
		errs = append(errs, errors.New("server.listen is empty"))
	}
	if s.MaxRoomSize < 0 {
		errs = append(errs, fmt.Errorf("server.maxRoomSize %d is negative", s.MaxRoomSize))
	}
	if s.MaxMessageBytes <= 0 {
		errs = append(errs, errors.New("server.maxMessageBytes must be positive"))
	}
	if s.MessagesPerSecond < 0 {
		errs = append(errs, errors.New("server.messagesPerSecond is negative"))
	}
	if s.MessagesPerSecond > 0 && s.Burst < 1 {
		errs = append(errs, errors.New("server.burst must be at least 1"))
	}
	if s.PongWait <= 0 || s.PingPeriod <= 0 || s.PingPeriod >= s.PongWait {
		errs = append(errs, fmt.Errorf("server.pingPeriod %s must be positive and below pongWait %s", s.PingPeriod, s.PongWait))
	}
	if s.SendBuffer < 1 {
		errs = append(errs, errors.New("server.sendBuffer must be at least 1"))
	}

	p := c.Peer
	if u, err := url.Parse(p.SignalingURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		errs = append(errs, fmt.Errorf("peer.signalingUrl %q is not a ws:// or wss:// url", p.SignalingURL))
	}
	if p.NegotiationTimeout <= 0 {
		errs = append(errs, errors.New("peer.negotiationTimeout must be positive"))
	}
	if p.ReconnectMin <= 0 || p.ReconnectMax < p.ReconnectMin {
		errs = append(errs, fmt.Errorf("peer reconnect backoff %s..%s is invalid", p.ReconnectMin, p.ReconnectMax))
	}

	switch strings.ToLower(c.Log.Format) {
	case logger.FormatConsole, logger.FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not console or json", c.Log.Format))
	}

	return errors.Join(errs...)
}

func trimList(in []string) []string {
	out := in[:0]
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
