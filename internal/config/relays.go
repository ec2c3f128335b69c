package config

import "time"

// RelaysConfig holds the relay seed list and transport tunables shared by
// every pooled connection.
type RelaysConfig struct {
	// Seeds are connected on startup with full read/write capability.
	Seeds []string `mapstructure:"SEEDS" json:"seeds" validate:"omitempty,dive,relay_url"`

	DialTimeout  time.Duration `mapstructure:"DIAL_TIMEOUT"  json:"dial_timeout"  validate:"required,timeout_duration"`
	PingInterval time.Duration `mapstructure:"PING_INTERVAL" json:"ping_interval" validate:"required,timeout_duration"`
	PongTimeout  time.Duration `mapstructure:"PONG_TIMEOUT"  json:"pong_timeout"  validate:"required,timeout_duration"`
	WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT" json:"write_timeout" validate:"required,timeout_duration"`
	AckTimeout   time.Duration `mapstructure:"ACK_TIMEOUT"   json:"ack_timeout"   validate:"required,timeout_duration"`

	// ReadLimit caps inbound frame size in bytes.
	ReadLimit int64 `mapstructure:"READ_LIMIT" json:"read_limit" validate:"required,buffer_size"`

	// Dial attempts per relay address, and inbound events per connection
	// before flood-dropping.
	DialRate      int `mapstructure:"DIAL_RATE"       json:"dial_rate"       validate:"required,min=1,max=100"`
	DialBurst     int `mapstructure:"DIAL_BURST"      json:"dial_burst"      validate:"required,min=1,max=1000"`
	MaxEventRate  int `mapstructure:"MAX_EVENT_RATE"  json:"max_event_rate"  validate:"required,min=1,max=100000"`
	MaxEventBurst int `mapstructure:"MAX_EVENT_BURST" json:"max_event_burst" validate:"required,min=1,max=100000"`
}
