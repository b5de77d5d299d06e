// Package config loads the settings of the hx command from defaults,
// an optional config file, HX_* environment variables and flags,
// in increasing order of precedence.
package config

import (
	"io"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"http-exchange/application/http/actor/client"
	"http-exchange/application/http/actor/server"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "HX"

type Config struct {
	Log    LogConfig    `mapstructure:"log"`
	Client ClientConfig `mapstructure:"client"`
	Proxy  ProxyConfig  `mapstructure:"proxy"`
}

// LevelName is a slog level written in any case.
type LevelName string

type LogConfig struct {
	Level  LevelName `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

type ClientConfig struct {
	// Timeout bounds a whole exchange, redirects included. Negative means unbounded.
	Timeout          time.Duration `mapstructure:"timeout"`
	FollowRedirects  bool          `mapstructure:"follow_redirects"`
	MaxRedirects     int           `mapstructure:"max_redirects" validate:"min=-1"`
	Expect100Timeout time.Duration `mapstructure:"expect_100_timeout" validate:"gte=0s"`
	UserAgent        string        `mapstructure:"user_agent" validate:"required,printascii"`
	SpillThreshold   int64         `mapstructure:"spill_threshold" validate:"gte=0"`
	SpillDir         string        `mapstructure:"spill_dir"`
	DialKeepAlive    time.Duration `mapstructure:"dial_keep_alive"`
	// Headers are added to every request, "name: value" each.
	Headers []string `mapstructure:"headers" validate:"dive,contains=:"`
	// Resolve overrides the address of hosts, "host:addr" each.
	Resolve []string `mapstructure:"resolve" validate:"dive,contains=:"`
}

type ProxyConfig struct {
	Listen        string        `mapstructure:"listen" validate:"required,hostname_port"`
	MetricsListen string        `mapstructure:"metrics_listen" validate:"omitempty,hostname_port"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout" validate:"gt=0s"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout" validate:"gt=0s"`
	// UpstreamTimeout bounds the exchange with the origin.
	UpstreamTimeout time.Duration `mapstructure:"upstream_timeout" validate:"gt=0s"`
}

// Flags that override config keys when the command defines them.
var flagKeys = map[string]string{
	"log-level":      "log.level",
	"log-format":     "log.format",
	"timeout":        "client.timeout",
	"max-redirs":     "client.max_redirects",
	"user-agent":     "client.user_agent",
	"expect-timeout": "client.expect_100_timeout",
	"resolve":        "client.resolve",
	"listen":         "proxy.listen",
	"metrics-listen": "proxy.metrics_listen",
}

func setDefaults(v *viper.Viper) {
	clientOpts := client.DefaultOptions()
	serverOpts := server.DefaultOptions()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("client.timeout", 30*time.Second)
	v.SetDefault("client.follow_redirects", clientOpts.Redirect.Follow)
	v.SetDefault("client.max_redirects", clientOpts.Redirect.Max)
	v.SetDefault("client.expect_100_timeout", clientOpts.Expect100Timeout)
	v.SetDefault("client.user_agent", clientOpts.UserAgent)
	v.SetDefault("client.spill_threshold", clientOpts.Spill.Threshold)
	v.SetDefault("client.spill_dir", "")
	v.SetDefault("client.dial_keep_alive", 15*time.Second)
	v.SetDefault("client.headers", []string{})
	v.SetDefault("client.resolve", []string{})

	v.SetDefault("proxy.listen", "127.0.0.1:8080")
	v.SetDefault("proxy.metrics_listen", "")
	v.SetDefault("proxy.read_timeout", serverOpts.Timeout.ReadTimeout)
	v.SetDefault("proxy.write_timeout", serverOpts.Timeout.WriteTimeout)
	v.SetDefault("proxy.upstream_timeout", 60*time.Second)
}

// Load reads the configuration. path may be empty, flags may be nil.
func Load(fs afero.Fs, path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetFs(fs)
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "reading config file %q", path)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, errors.Wrapf(err, "binding flag %q", name)
			}
		}
	}

	var cfg Config
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		logLevelHook(),
	)))
	if err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// logLevelHook lowercases level names so that HX_LOG_LEVEL=INFO is accepted.
func logLevelHook() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(LevelName("")) {
			return data, nil
		}
		s, ok := data.(string)
		if !ok {
			return data, nil
		}
		return LevelName(strings.ToLower(s)), nil
	}
}

func Validate(cfg *Config) error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return errors.Errorf("invalid config: %s fails %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return errors.Wrap(err, "invalid config")
	}
	return nil
}

func (c ClientConfig) Options() client.Options {
	opts := client.DefaultOptions()
	opts.Redirect.Follow = c.FollowRedirects
	opts.Redirect.Max = c.MaxRedirects
	opts.Expect100Timeout = c.Expect100Timeout
	opts.UserAgent = c.UserAgent
	opts.Spill.Threshold = c.SpillThreshold
	opts.Spill.Dir = c.SpillDir
	return opts
}

func (c ProxyConfig) ServerOptions() server.Options {
	opts := server.DefaultOptions()
	opts.Timeout.ReadTimeout = c.ReadTimeout
	opts.Timeout.WriteTimeout = c.WriteTimeout
	return opts
}

func (c LogConfig) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	// Validated already.
	_ = level.UnmarshalText([]byte(c.Level))

	hopts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}
