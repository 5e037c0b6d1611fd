package config

import (
	"fmt"
	"strings"
)

// DefaultFallbackMessage is published when a request cannot be translated.
const DefaultFallbackMessage = "Sorry, I couldn't process your request due to an error."

// BusConfig configures the pub/sub transport and topic names.
type BusConfig struct {
	Driver   string `yaml:"driver"` // redis, memory
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	InboundTopic  string `yaml:"inbound_topic"`
	OutboundTopic string `yaml:"outbound_topic"`
	// FailureTopic receives a JSON failure record per failed request. Empty disables it.
	FailureTopic string `yaml:"failure_topic"`
}

func (c BusConfig) validate() error {
	switch c.Driver {
	case "redis":
		if c.Addr == "" {
			return fmt.Errorf("bus.addr required for redis driver")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid bus driver: %q (valid: redis, memory)", c.Driver)
	}
	if c.InboundTopic == "" || c.OutboundTopic == "" {
		return fmt.Errorf("bus.inbound_topic and bus.outbound_topic are required")
	}
	if c.InboundTopic == c.OutboundTopic {
		return fmt.Errorf("bus.inbound_topic and bus.outbound_topic must differ")
	}
	if c.FailureTopic != "" && (c.FailureTopic == c.InboundTopic || c.FailureTopic == c.OutboundTopic) {
		return fmt.Errorf("bus.failure_topic must differ from the inbound and outbound topics")
	}
	return nil
}

// NodeConfig configures the translation node.
type NodeConfig struct {
	// Workers > 1 translates requests concurrently.
	Workers int `yaml:"workers"`

	// EmptySequence decides what an explicit empty action list ("[]") means:
	// "reject" fails it as empty_or_unparseable, "allow" publishes "[]".
	EmptySequence string `yaml:"empty_sequence"`

	// FallbackMessage is published instead of a sequence on failure.
	FallbackMessage string `yaml:"fallback_message"`
}

func (c NodeConfig) validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("node.workers must be >= 1, got %d", c.Workers)
	}
	switch c.EmptySequence {
	case "reject", "allow":
	default:
		return fmt.Errorf("invalid node.empty_sequence: %q (valid: reject, allow)", c.EmptySequence)
	}
	msg := strings.TrimSpace(c.FallbackMessage)
	if msg == "" {
		return fmt.Errorf("node.fallback_message must not be empty")
	}
	if strings.HasPrefix(msg, "[") {
		return fmt.Errorf("node.fallback_message must not start with '[' (reserved for action sequences)")
	}
	return nil
}
