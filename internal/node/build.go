package node

import (
	"fmt"
	"log/slog"

	"meshnode/config"
	"meshnode/internal/relay"
	"meshnode/internal/transport"
	"meshnode/internal/transport/memory"
	"meshnode/internal/transport/serial"
	"meshnode/internal/transport/udp"
)

// BuildTransport returns the transport cfg.Radio selects. hub is only used
// for the memory kind and may be nil otherwise.
func BuildTransport(cfg config.Config, hub *memory.Hub) (transport.Transport, error) {
	r := cfg.Radio
	switch r.Kind {
	case config.RadioSerial:
		return serial.New(serial.Config{
			Device:      r.Serial.Device,
			BaudRate:    r.Serial.Baud,
			Self:        cfg.Node.ID,
			MaxPayload:  r.MaxPayload,
			AckTimeout:  r.AckTimeout,
			Retries:     r.Retries,
			ReadTimeout: r.ReceiveTimeout,
		}, serial.OpenPort), nil
	case config.RadioUDP:
		return udp.New(udp.Config{
			Listen:     r.UDP.Listen,
			Broadcast:  r.UDP.Broadcast,
			Self:       cfg.Node.ID,
			MaxPayload: r.MaxPayload,
			AckTimeout: r.AckTimeout,
			Retries:    r.Retries,
		}), nil
	case config.RadioMemory:
		if hub == nil {
			return nil, fmt.Errorf("memory radio needs a hub")
		}
		return hub.Endpoint(cfg.Node.ID), nil
	default:
		return nil, fmt.Errorf("unknown radio kind %q", r.Kind)
	}
}

// BuildRelay returns the relay cfg.Relay selects.
func BuildRelay(cfg config.Config, log *slog.Logger) (relay.Relay, error) {
	switch cfg.Relay.Kind {
	case config.RelayNone:
		return relay.Nop{}, nil
	case config.RelayLog:
		return relay.NewLog(log), nil
	case config.RelayGPIO:
		return relay.NewGPIO(cfg.Relay.GPIOPath, cfg.Relay.ActiveLow), nil
	default:
		return nil, fmt.Errorf("unknown relay kind %q", cfg.Relay.Kind)
	}
}
