package protocol

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pts-server/pts-server-pro/internal/models"
)

// CommandInjector is the only externally triggered outbound path
// besides responses: it forwards an administrative command to a
// connected controller with a freshly allocated packet id.
type CommandInjector struct {
	registry *Registry
	sink     EventSink
}

// NewCommandInjector creates a command injector over the registry.
func NewCommandInjector(registry *Registry, sink EventSink) *CommandInjector {
	return &CommandInjector{
		registry: registry,
		sink:     sink,
	}
}

// Send looks up the controller and writes the command frame. Returns
// ErrDeviceNotFound when no session is registered for the identity.
// The sent command is returned so callers can echo it.
func (c *CommandInjector) Send(ptsID, command string, payload models.Variables) (*models.Command, error) {
	s := c.registry.Lookup(ptsID)
	if s == nil {
		return nil, ErrDeviceNotFound
	}

	cmd := &models.Command{
		Type:      command,
		PacketID:  s.NextPacketID(),
		Data:      payload,
		Timestamp: time.Now().UTC(),
	}

	if err := s.SendJSON(cmd); err != nil {
		return nil, err
	}

	log.Info().
		Str("pts_id", ptsID).
		Str("command", command).
		Int("packet_id", cmd.PacketID).
		Msg("Command sent to controller")

	if c.sink != nil {
		c.sink.Record(&models.EventLog{
			PtsID:       ptsID,
			Type:        models.EventTypeCommandSent,
			Level:       models.EventLevelInfo,
			Description: "Command sent to controller",
			Details: models.Variables{
				"command":  command,
				"packetId": cmd.PacketID,
				"data":     payload,
			},
		})
	}

	return cmd, nil
}
