package libstream

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const envPrefix = "LIBSTREAM"

type Config struct {
	MaxListeners    uint            `mapstructure:"max_listeners"`
	HighWaterMark   uint            `mapstructure:"high_water_mark"`
	DefaultEncoding string          `mapstructure:"default_encoding"`
	LogLevel        string          `mapstructure:"log_level"`
	Websocket       WebsocketConfig `mapstructure:"websocket"`
}

// WebsocketConfig holds the websocket sink settings.
type WebsocketConfig struct {
	URL string `mapstructure:"url"`
	// Interval between keep-alive pings, zero disables them.
	PingInterval time.Duration `mapstructure:"ping_interval"`
	// Dial attempts before Open gives up, zero retries forever.
	DialAttempts int           `mapstructure:"dial_attempts"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LoadConfig reads defaults, then the optional file at configPath, then
// LIBSTREAM_* environment variables (LIBSTREAM_WEBSOCKET_URL and so on).
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("max_listeners", DefaultMaxListeners)
	v.SetDefault("high_water_mark", DefaultHighWaterMark)
	v.SetDefault("default_encoding", DefaultEncoding)
	v.SetDefault("log_level", "info")

	v.SetDefault("websocket.url", "")
	v.SetDefault("websocket.ping_interval", 0)
	v.SetDefault("websocket.dial_attempts", 5)
	v.SetDefault("websocket.write_timeout", time.Second)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "cannot read config %s", configPath)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "cannot decode config")
	}

	return &cfg, nil
}

// NewLogger builds a production zap logger at the configured level.
func (c *Config) NewLogger() (Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", c.LogLevel)
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)

	l, err := zc.Build()
	if err != nil {
		return nil, errors.Wrap(err, "cannot build logger")
	}

	return NewZapLogger(l), nil
}

// WritableOptions turns the stream settings into Writable options. Zero
// values keep the package defaults.
func (c *Config) WritableOptions() []WritableOption {
	var opts []WritableOption
	if c.HighWaterMark > 0 {
		opts = append(opts, WithHighWaterMark(c.HighWaterMark))
	}
	if c.MaxListeners > 0 {
		opts = append(opts, WithRegistryOptions(WithMaxListeners(c.MaxListeners)))
	}
	return append(opts, WithDefaultEncoding(c.DefaultEncoding))
}

// NewWritableFromConfig builds a Writable from cfg; extra options are applied
// last.
func NewWritableFromConfig(cfg *Config, opts ...WritableOption) *Writable {
	return NewWritable(append(cfg.WritableOptions(), opts...)...)
}

// NewWebsocketSink builds a websocket sink for Websocket.URL.
func (c *Config) NewWebsocketSink(logger Logger) (*WebsocketSink, error) {
	getter, err := StaticOpenConnectionParams(c.Websocket.URL, nil)
	if err != nil {
		return nil, err
	}

	return NewWebsocketSink(
		nil,
		NewOpenConnectionParamsRepo(logger, getter),
		logger,
		WithDialBackoff(ExponentialBackoffSeconds, c.Websocket.DialAttempts),
		WithPingInterval(c.Websocket.PingInterval),
		WithWriteTimeout(c.Websocket.WriteTimeout),
	), nil
}
