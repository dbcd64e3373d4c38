package app

import (
	"errors"
	"fmt"
	"golang.org/x/exp/maps"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"

	"github.com/spf13/viper"
)

type Config struct {
	// ServerURL is the base HTTP URL of the chat backend.
	ServerURL string `validate:"required,http_url"`
	// SocketURL is the websocket URL of the live channel. When empty it is
	// derived from ServerURL with the /api/socketio path.
	SocketURL string
	// UserID identifies the local user to the backend.
	UserID string `validate:"required"`
	// PageLimit is the history page size requested from GetMessages.
	PageLimit int `validate:"required,min=1"`
	// AckTimeout bounds how long a send waits for acknowledgement.
	AckTimeout time.Duration `validate:"required"`
	// TypingDebounce is the pause after the last keystroke before the
	// stopped-typing signal is emitted.
	TypingDebounce time.Duration `validate:"required"`
	// TypingTTL is how long an inbound typing flag stays valid without
	// refresh.
	TypingTTL time.Duration `validate:"required"`
	// ProbeInterval is the connection liveness probe period.
	ProbeInterval time.Duration `validate:"required"`
	// ReconnectBase is the first reconnect backoff delay; it doubles per
	// attempt.
	ReconnectBase time.Duration `validate:"required"`
	// MaxAttempts caps reconnect attempts before the connection is
	// reported unreachable.
	MaxAttempts int `validate:"required,min=1"`
	valid       bool
}

// ResolvedSocketURL returns SocketURL, deriving it from ServerURL when
// unset.
func (c *Config) ResolvedSocketURL() string {
	if c.SocketURL != "" {
		return c.SocketURL
	}
	u := c.ServerURL
	u = strings.Replace(u, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return u + "/api/socketio"
}

// LoadConfig loads the configuration from the config file and environment variables.
// Any invalid configuration will not be loaded, and the error will be caught in the validation step.
func LoadConfig() (*Config, error) {
	config := &Config{}

	// A .env file is optional; environment variables it sets are picked
	// up by viper below.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	viper.SetConfigName("config")
	viper.AddConfigPath(".")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("serverurl", "http://localhost:3000")
	viper.SetDefault("pagelimit", 20)
	viper.SetDefault("acktimeout", 10*time.Second)
	viper.SetDefault("typingdebounce", time.Second)
	viper.SetDefault("typingttl", 5*time.Second)
	viper.SetDefault("probeinterval", 5*time.Second)
	viper.SetDefault("reconnectbase", 500*time.Millisecond)
	viper.SetDefault("maxattempts", 5)

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := viper.Unmarshal(&config,
		viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(",")),
		),
	); err != nil {
		// defer error to validation step
		return config, nil
	}
	return config, nil
}

func (c *Config) Validate() error {
	if c.valid {
		return nil
	}
	err := validate.Struct(c)
	if err != nil {
		return err
	}
	c.valid = true
	return nil
}

func FormatValidationErrors(err error) string {
	errors, ok := err.(validator.ValidationErrors)
	if !ok {
		return ""
	}
	trans, _ := uniTrans.GetTranslator("en")
	translated := errors.Translate(trans)

	var sb strings.Builder
	for _, v := range maps.Values(translated) {
		sb.WriteString(v)
		sb.WriteString("\n")
	}
	return sb.String()
}
