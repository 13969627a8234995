package enums

import "fmt"

// IngestChannel identifies how a location sample reached the server.
type IngestChannel string

const (
	IngestChannelHTTP      IngestChannel = "http"
	IngestChannelWebsocket IngestChannel = "websocket"
)

var validIngestChannels = []IngestChannel{
	IngestChannelHTTP,
	IngestChannelWebsocket,
}

// String returns the literal string for the channel.
func (c IngestChannel) String() string {
	return string(c)
}

// IsValid reports whether the channel is known.
func (c IngestChannel) IsValid() bool {
	for _, candidate := range validIngestChannels {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseIngestChannel converts raw input into IngestChannel.
func ParseIngestChannel(value string) (IngestChannel, error) {
	for _, candidate := range validIngestChannels {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ingest channel %q", value)
}
