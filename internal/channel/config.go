package channel

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidConfig indicates a channel config that does not match its type.
var ErrInvalidConfig = errors.New("invalid channel config")

// Config is the per-type channel configuration. Exactly one variant is set,
// selected by the owning channel's type.
type Config struct {
	Session  *SessionConfig
	Telegram *TelegramConfig
	Slack    *SlackConfig
	Discord  *DiscordConfig
	Feishu   *FeishuConfig
	Email    *EmailConfig
	Call     *CallConfig
}

// SessionConfig holds session-transport state. The pairing fields and the
// address are written by the connection manager.
type SessionConfig struct {
	PhoneNumber string `json:"phone_number,omitempty" validate:"omitempty,numeric,min=8,max=15"`
	QRCode      string `json:"qr_code,omitempty"`
	PairingCode string `json:"pairing_code,omitempty"`
	Address     string `json:"address,omitempty"`
	PushName    string `json:"push_name,omitempty"`
}

type TelegramConfig struct {
	BotToken    string `json:"bot_token" validate:"required"`
	APIEndpoint string `json:"api_endpoint,omitempty" validate:"omitempty,url"`
}

type SlackConfig struct {
	BotToken string `json:"bot_token" validate:"required"`
}

type DiscordConfig struct {
	BotToken string `json:"bot_token" validate:"required"`
}

type FeishuConfig struct {
	AppID     string `json:"app_id" validate:"required"`
	AppSecret string `json:"app_secret" validate:"required"`
	Region    string `json:"region,omitempty" validate:"omitempty,oneof=feishu lark"`
}

type EmailConfig struct {
	APIKey string `json:"api_key" validate:"required"`
	Domain string `json:"domain" validate:"required,fqdn"`
	From   string `json:"from" validate:"required,email"`
	Region string `json:"region,omitempty" validate:"omitempty,oneof=us eu"`
}

type CallConfig struct {
	APIKey  string `json:"api_key" validate:"required"`
	From    string `json:"from" validate:"required"`
	BaseURL string `json:"base_url,omitempty" validate:"omitempty,url"`
	Voice   string `json:"voice,omitempty"`
	Locale  string `json:"locale,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// variant returns the set variant for channelType, or nil.
func (c Config) variant(channelType ChannelType) any {
	switch channelType {
	case TypeSession:
		if c.Session != nil {
			return c.Session
		}
	case TypeTelegram:
		if c.Telegram != nil {
			return c.Telegram
		}
	case TypeSlack:
		if c.Slack != nil {
			return c.Slack
		}
	case TypeDiscord:
		if c.Discord != nil {
			return c.Discord
		}
	case TypeFeishu:
		if c.Feishu != nil {
			return c.Feishu
		}
	case TypeEmail:
		if c.Email != nil {
			return c.Email
		}
	case TypeCall:
		if c.Call != nil {
			return c.Call
		}
	}
	return nil
}

// Validate checks that the variant for channelType is present and well formed.
func (c Config) Validate(channelType ChannelType) error {
	v := c.variant(channelType)
	if v == nil {
		return fmt.Errorf("%w: missing %s config", ErrInvalidConfig, channelType)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// MarshalJSON encodes only the set variant.
func (c Config) MarshalJSON() ([]byte, error) {
	for _, t := range []ChannelType{TypeSession, TypeTelegram, TypeSlack, TypeDiscord, TypeFeishu, TypeEmail, TypeCall} {
		if v := c.variant(t); v != nil {
			return json.Marshal(v)
		}
	}
	return []byte("{}"), nil
}

// DecodeConfig decodes raw JSON into the variant selected by channelType.
func DecodeConfig(channelType ChannelType, raw []byte) (Config, error) {
	if len(raw) == 0 || string(raw) == "null" {
		raw = []byte("{}")
	}
	var cfg Config
	var target any
	switch channelType {
	case TypeSession:
		cfg.Session = &SessionConfig{}
		target = cfg.Session
	case TypeTelegram:
		cfg.Telegram = &TelegramConfig{}
		target = cfg.Telegram
	case TypeSlack:
		cfg.Slack = &SlackConfig{}
		target = cfg.Slack
	case TypeDiscord:
		cfg.Discord = &DiscordConfig{}
		target = cfg.Discord
	case TypeFeishu:
		cfg.Feishu = &FeishuConfig{}
		target = cfg.Feishu
	case TypeEmail:
		cfg.Email = &EmailConfig{}
		target = cfg.Email
	case TypeCall:
		cfg.Call = &CallConfig{}
		target = cfg.Call
	default:
		return Config{}, fmt.Errorf("%w: unsupported channel type %q", ErrInvalidConfig, channelType)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// SessionConfigPatch updates manager-owned session fields. Nil fields are kept.
type SessionConfigPatch struct {
	QRCode      *string `json:"qr_code,omitempty"`
	PairingCode *string `json:"pairing_code,omitempty"`
	Address     *string `json:"address,omitempty"`
	PushName    *string `json:"push_name,omitempty"`
}

// Apply writes the patch onto cfg.
func (p SessionConfigPatch) Apply(cfg *SessionConfig) {
	if cfg == nil {
		return
	}
	if p.QRCode != nil {
		cfg.QRCode = *p.QRCode
	}
	if p.PairingCode != nil {
		cfg.PairingCode = *p.PairingCode
	}
	if p.Address != nil {
		cfg.Address = *p.Address
	}
	if p.PushName != nil {
		cfg.PushName = *p.PushName
	}
}

func stringPtr(v string) *string {
	return &v
}
