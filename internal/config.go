package internal

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"net"
	"net/netip"
	"time"

	"lan-chat/runtime"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	UserName           string        `env:"LANCHAT_USER_NAME,required=true" validate:"required,max=64,excludesall=:"`
	TCPHost            string        `env:"LANCHAT_TCP_HOST,default=0.0.0.0" validate:"required,ip4_addr"`
	TCPPort            int           `env:"LANCHAT_TCP_PORT,default=14000" validate:"min=0,max=65535"`
	MulticastGroup     string        `env:"LANCHAT_MULTICAST_GROUP,default=224.0.0.1:14001" validate:"required"`
	MulticastInterface string        `env:"LANCHAT_MULTICAST_INTERFACE"`
	HeartbeatInterval  time.Duration `env:"LANCHAT_HEARTBEAT_INTERVAL,default=10s" validate:"gt=0"`
	PeerTimeout        time.Duration `env:"LANCHAT_PEER_TIMEOUT,default=90s" validate:"gtfield=HeartbeatInterval"`
	ConnectTimeout     time.Duration `env:"LANCHAT_CONNECT_TIMEOUT,default=3s" validate:"gt=0"`
	ShutdownGrace      time.Duration `env:"LANCHAT_SHUTDOWN_GRACE,default=5s" validate:"gt=0"`
	MetricInterval     time.Duration `env:"LANCHAT_METRIC_INTERVAL,default=0s" validate:"gte=0"`
	LogLevel           string        `env:"LOG_LEVEL,default=INFO" validate:"oneof=DEBUG INFO WARN ERROR"`
	HistoryFilepath    string        `env:"LANCHAT_HISTORY_FILEPATH,default=./data/history"`
	LimitMessages      int           `env:"LANCHAT_LIMIT_MESSAGES,default=20" validate:"gt=0"`
	EnableModeration   bool          `env:"LANCHAT_ENABLE_MODERATION,default=true"`
	ModerationScope    string        `env:"LANCHAT_MODERATION_SCOPE,default=all" validate:"oneof=all broadcast"`
	CharReplacement    string        `env:"CHARACTER_REPLACEMENT,default=*"`
}

var validate = validator.New()

// LoadConfig reads the given .env files (".env" when none) without overriding the
// environment, then unmarshals and validates the configuration. Missing files are skipped.
func LoadConfig(dotenv ...string) (Config, error) {
	var config Config
	if err := godotenv.Load(dotenv...); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		return config, fmt.Errorf("failed to load .env: %w", err)
	}
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return config, fmt.Errorf("failed to read environment: %w", err)
	}
	if err := validate.Struct(config); err != nil {
		return config, fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := CharacterRune(config.CharReplacement); err != nil {
		return config, err
	}
	return config, nil
}

// Options maps the configuration onto the network core options.
func (c Config) Options() (runtime.Options, error) {
	group, err := netip.ParseAddrPort(c.MulticastGroup)
	if err != nil {
		return runtime.Options{}, fmt.Errorf("invalid multicast group %q: %w", c.MulticastGroup, err)
	}
	if !group.Addr().IsMulticast() {
		return runtime.Options{}, fmt.Errorf("%s is not a multicast address", group.Addr())
	}
	opts := runtime.Options{
		UserName:          c.UserName,
		TCPHost:           c.TCPHost,
		TCPPort:           c.TCPPort,
		MulticastGroup:    group,
		HeartbeatInterval: c.HeartbeatInterval,
		PeerTimeout:       c.PeerTimeout,
		ConnectTimeout:    c.ConnectTimeout,
		ShutdownGrace:     c.ShutdownGrace,
		MetricInterval:    c.MetricInterval,
	}
	if c.MulticastInterface != "" {
		ifi, err := net.InterfaceByName(c.MulticastInterface)
		if err != nil {
			return runtime.Options{}, fmt.Errorf("unknown multicast interface %q: %w", c.MulticastInterface, err)
		}
		opts.MulticastInterface = ifi
	}
	return opts, nil
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}
