package outbox

import (
	"fmt"
	"strings"
)

// Channel identifies the delivery channel an outbox record targets.
type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelSms   Channel = "SMS"
	ChannelPush  Channel = "PUSH"
	ChannelInApp Channel = "IN_APP"
)

// ParseChannel validates and converts a raw channel string.
func ParseChannel(raw string) (Channel, error) {
	channel := Channel(strings.ToUpper(strings.TrimSpace(raw)))

	if !channel.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrChannelInvalid, raw)
	}

	return channel, nil
}

// IsValid reports whether the channel is a known delivery channel.
func (channel Channel) IsValid() bool {
	switch channel {
	case ChannelEmail, ChannelSms, ChannelPush, ChannelInApp:
		return true
	default:
		return false
	}
}

func (channel Channel) String() string {
	return string(channel)
}
