package internal

import (
	"github.com/kelseyhightower/envconfig"
)

// DisplayConfig only affects how the console renders, never the network core.
type DisplayConfig struct {
	// LANCHAT_COLOURS enables colorized output
	Colours bool `envconfig:"LANCHAT_COLOURS" default:"true"`
	// LANCHAT_TIME_FORMAT is a Go layout used in front of each message
	TimeFormat string `envconfig:"LANCHAT_TIME_FORMAT" default:"15:04:05"`
	ShowTyping bool   `envconfig:"LANCHAT_SHOW_TYPING" default:"true"`
}

func LoadDisplayConfig() (DisplayConfig, error) {
	var cfg DisplayConfig
	err := envconfig.Process("", &cfg)
	return cfg, err
}
