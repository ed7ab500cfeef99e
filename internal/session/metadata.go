package session

import "time"

// Role describes which direction a connection is using its one stream for.
// A session that never publishes or plays (connects then idles) stays
// RoleUnknown.
type Role int

const (
	RoleUnknown Role = iota
	RolePublisher
	RolePlayer
)

func (r Role) String() string {
	switch r {
	case RolePublisher:
		return "publisher"
	case RolePlayer:
		return "player"
	default:
		return "unknown"
	}
}

// Metadata is the record of everything learned about one connection over
// its lifetime: connect-time app/tcUrl, the stream it ultimately published
// or played, and running byte/frame counters a dispatcher's registry and
// metrics exporter both read from.
type Metadata struct {
	// ConnID and RemoteAddr identify the connection a dispatcher's
	// connection-lifecycle callback reports on; a bare session never sets
	// them itself (it has no opaque id of its own), so a server dispatcher
	// fills them in once it knows both.
	ConnID     string
	RemoteAddr string

	App        string
	TcURL      string
	StreamName string
	Role       Role

	Width            int
	Height           int
	FrameRate        float64
	VideoBitrateKbps float64
	AudioBitrateKbps float64
	AudioSampleRate  float64
	AudioChannels    int
	Stereo           bool
	HasAudio         bool
	HasVideo         bool

	ConnectedAt time.Time
	PublishedAt time.Time

	BytesTotal    uint64
	DroppedFrames uint64
}
