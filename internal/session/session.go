// Package session implements the per-connection RTMP state machine that
// sits above the chunk and AMF0 layers: command dispatch, protocol control
// bookkeeping, and the publish/play lifecycle of a single connection.
package session

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"rtmp-ingest-core/internal/amf0"
	"rtmp-ingest-core/internal/chunk"
)

// Phase enumerates the lifecycle stages a session moves through. Phases
// advance in declaration order, except that deleteStream drops a session
// back to PhaseConnected.
type Phase int

const (
	PhaseNew Phase = iota
	PhaseConnectWait
	PhaseConnected
	PhaseStreamCreated
	PhasePublishing
	PhasePlaying
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseNew:
		return "new"
	case PhaseConnectWait:
		return "connect_wait"
	case PhaseConnected:
		return "connected"
	case PhaseStreamCreated:
		return "stream_created"
	case PhasePublishing:
		return "publishing"
	case PhasePlaying:
		return "playing"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Errors surfaced by session operations; the dispatcher uses these to decide
// whether to log-and-continue or terminate the connection.
var (
	ErrUnsupportedCommand = errors.New("session: received command before connect completed")
	ErrBadCommandShape    = errors.New("session: command arguments did not match expected shape")
	ErrAuthFailed         = errors.New("session: ingest authentication rejected")
)

// Config carries the per-session tunables a server dispatcher hands to every
// accepted connection.
type Config struct {
	RecvTimeout time.Duration
	// InboundChunkSizeCap rejects any Set Chunk Size the peer sends above
	// this value (spec §6's inbound-chunk-size-cap). It bounds what we are
	// willing to accept, not what we announce outbound; 0 falls back to the
	// protocol's own ceiling, chunk.MaxChunkSize.
	InboundChunkSizeCap   uint32
	WindowAckSize         uint32
	PeerBandwidth         uint32
	PeerBandwidthLimit    uint8 // 0=hard, 1=soft, 2=dynamic
	MaxMessageSize        uint32
	// Authenticate validates the connect command's app/tcUrl/token fields.
	// A nil Authenticate accepts every connection.
	Authenticate func(meta *Metadata, connectArgs amf0.Object) error
}

// Callbacks is the event surface a session reports through as its lifecycle
// advances. Every field may be nil; the session only invokes what is set.
type Callbacks struct {
	OnStateChanged func(*Metadata, Phase)
	OnMetadata     func(*Metadata)
	OnFrame        func(*Metadata, *chunk.Message)
}

// Session drives a single accepted connection through handshake-complete to
// close. It is not safe for concurrent use outside of its own Run loop.
type Session struct {
	conn   net.Conn
	reader *chunk.Reader
	writer *chunk.Writer
	log    *slog.Logger
	cfg    Config
	cb     Callbacks

	phase    Phase
	meta     Metadata
	nextSID  uint32
	streamID uint32 // the one stream id this session has allocated, once created

	bytesReceived      uint64
	bytesSinceLastAck  uint64
	lastAckSentAt      uint64
	peerWindowAckSize  uint32
	peerBandwidthSeen  uint32
}

// New wraps conn (already past the RTMP handshake) in a Session.
func New(conn net.Conn, cfg Config, cb Callbacks, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		conn:    conn,
		reader:  chunk.NewReader(conn, cfg.MaxMessageSize, cfg.InboundChunkSizeCap),
		writer:  chunk.NewWriter(conn, chunk.DefaultChunkSize),
		log:     log,
		cfg:     cfg,
		cb:      cb,
		phase:   PhaseNew,
		nextSID: 1,
	}
}

// Metadata returns the session's current metadata record. Safe to call
// after the session has closed; the record is frozen at last update.
func (s *Session) Metadata() *Metadata { return &s.meta }

// Phase returns the session's current lifecycle phase.
func (s *Session) Phase() Phase { return s.phase }

func (s *Session) setPhase(p Phase) {
	s.phase = p
	if s.cb.OnStateChanged != nil {
		s.cb.OnStateChanged(&s.meta, p)
	}
}

// Run drives the session's read loop until the connection closes or a
// protocol violation occurs. It always returns a non-nil error describing
// why the loop ended (io.EOF on a clean peer disconnect).
func (s *Session) Run() error {
	s.setPhase(PhaseConnectWait)
	defer s.setPhase(PhaseClosed)

	for {
		if s.cfg.RecvTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.RecvTimeout))
		}
		msg, err := s.reader.ReadMessage()
		if err != nil {
			return err
		}
		s.bytesReceived += uint64(len(msg.Payload))
		s.bytesSinceLastAck += uint64(len(msg.Payload))
		if err := s.maybeAck(); err != nil {
			return err
		}

		if err := s.dispatch(msg); err != nil {
			return err
		}
	}
}

func (s *Session) dispatch(msg *chunk.Message) error {
	switch msg.Header.MessageTypeID {
	case chunk.TypeAMF0Command, chunk.TypeAMF0Command3:
		return s.dispatchCommand(msg)
	case chunk.TypeAudio, chunk.TypeVideo:
		return s.dispatchFrame(msg)
	case chunk.TypeAMF0Data:
		return s.dispatchData(msg)
	case chunk.TypeUserControl:
		return s.handleUserControl(msg.Payload)
	case chunk.TypeAck:
		return nil // peer acknowledging our bytes; nothing to act on yet
	case chunk.TypeWindowAck:
		return s.handleWindowAckSize(msg.Payload)
	case chunk.TypeSetPeerBW:
		return s.handleSetPeerBandwidth(msg.Payload)
	default:
		return nil
	}
}

func (s *Session) dispatchFrame(msg *chunk.Message) error {
	if s.phase != PhasePublishing {
		return nil
	}
	s.meta.BytesTotal += uint64(len(msg.Payload))
	if s.cb.OnFrame != nil {
		s.cb.OnFrame(&s.meta, msg)
	}
	return nil
}

// dispatchData handles an AMF0 Data message (type 18). Publishers send a
// leading "@setDataFrame" string, the target handler name ("onMetaData")
// and a metadata Object; everything else on this message type is ignored.
func (s *Session) dispatchData(msg *chunk.Message) error {
	vals, err := amf0.Decode(bytes.NewReader(msg.Payload))
	if err != nil {
		return fmt.Errorf("session: decode data message: %w", err)
	}
	idx := 0
	if len(vals) > 0 {
		if name, ok := vals[0].(string); ok && name == "@setDataFrame" {
			idx = 1
		}
	}
	if idx >= len(vals) {
		return nil
	}
	handler, _ := vals[idx].(string)
	if handler != "onMetaData" || idx+1 >= len(vals) {
		return nil
	}
	obj, ok := vals[idx+1].(amf0.Object)
	if !ok {
		return nil
	}
	s.applyMetadataObject(obj)
	if s.cb.OnMetadata != nil {
		s.cb.OnMetadata(&s.meta)
	}
	return nil
}

// applyMetadataObject copies the well-known onMetaData keys into the
// session's Metadata record. Unrecognized keys are left alone; real
// encoders routinely add vendor-specific extras we don't need.
func (s *Session) applyMetadataObject(obj amf0.Object) {
	if v, ok := numericProp(obj, "width"); ok {
		s.meta.Width = int(v)
	}
	if v, ok := numericProp(obj, "height"); ok {
		s.meta.Height = int(v)
	}
	if v, ok := numericProp(obj, "framerate"); ok {
		s.meta.FrameRate = v
	}
	if v, ok := numericProp(obj, "videodatarate"); ok {
		s.meta.VideoBitrateKbps = v
	}
	if v, ok := numericProp(obj, "audiodatarate"); ok {
		s.meta.AudioBitrateKbps = v
	}
	if v, ok := numericProp(obj, "audiosamplerate"); ok {
		s.meta.AudioSampleRate = v
	}
	if v, ok := numericProp(obj, "audiochannels"); ok {
		s.meta.AudioChannels = int(v)
	}
	if v, ok := obj.Get("stereo"); ok {
		if b, ok := v.(bool); ok {
			s.meta.Stereo = b
		}
	}
	if _, ok := obj.Get("videocodecid"); ok {
		s.meta.HasVideo = true
	}
	if _, ok := obj.Get("audiocodecid"); ok {
		s.meta.HasAudio = true
	}
}

func numericProp(obj amf0.Object, key string) (float64, bool) {
	v, ok := obj.Get(key)
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// dispatchCommand decodes an AMF0 command message and routes it to the
// matching handler. Unknown command names get a generic rejection instead
// of being silently dropped, so misbehaving clients see a NetConnection
// error rather than hanging.
func (s *Session) dispatchCommand(msg *chunk.Message) error {
	payload := msg.Payload
	if msg.Header.MessageTypeID == chunk.TypeAMF0Command3 {
		if len(payload) == 0 {
			return fmt.Errorf("session: empty AMF3 command envelope")
		}
		if payload[0] != 0 {
			return fmt.Errorf("session: AMF3-encoded command bodies are not supported")
		}
		payload = payload[1:]
	}

	vals, err := amf0.Decode(bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("session: decode command: %w", err)
	}
	if len(vals) < 1 {
		return nil
	}
	name, _ := vals[0].(string)
	var tid float64
	if len(vals) > 1 {
		tid, _ = vals[1].(float64)
	}

	switch name {
	case "connect":
		return s.handleConnect(tid, vals)
	case "releaseStream", "FCPublish", "FCUnpublish":
		return nil // acknowledged implicitly; no response required by any client in the wild
	case "createStream":
		return s.handleCreateStream(tid)
	case "publish":
		return s.handlePublish(tid, vals)
	case "play":
		return s.handlePlay(tid, vals)
	case "pause":
		return s.handlePause(tid, vals)
	case "deleteStream":
		return s.handleDeleteStream(tid, vals)
	default:
		return s.sendError(tid, "NetConnection.Call.Failed", fmt.Sprintf("unsupported command %q", name))
	}
}

func (s *Session) maybeAck() error {
	if s.cfg.WindowAckSize == 0 {
		return nil
	}
	if s.bytesSinceLastAck < uint64(s.cfg.WindowAckSize) {
		return nil
	}
	s.bytesSinceLastAck = 0
	return s.writeProtocolControl(chunk.TypeAck, uint32(s.bytesReceived))
}

func (s *Session) handleUserControl(payload []byte) error {
	if len(payload) < 2 {
		return nil
	}
	event := uint16(payload[0])<<8 | uint16(payload[1])
	const (
		ucStreamBegin  = 0
		ucPingRequest  = 6
		ucPingResponse = 7
	)
	switch event {
	case ucPingRequest:
		if len(payload) < 6 {
			return nil
		}
		resp := make([]byte, 6)
		resp[0], resp[1] = 0, ucPingResponse
		copy(resp[2:], payload[2:6])
		return s.sendControlMessage(chunk.TypeUserControl, resp)
	case ucStreamBegin, ucPingResponse:
		return nil
	default:
		return nil
	}
}

func (s *Session) handleWindowAckSize(payload []byte) error {
	if len(payload) < 4 {
		return nil
	}
	s.peerWindowAckSize = beUint32(payload)
	return nil
}

func (s *Session) handleSetPeerBandwidth(payload []byte) error {
	if len(payload) < 4 {
		return nil
	}
	s.peerBandwidthSeen = beUint32(payload)
	return nil
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// sendError emits a generic onStatus/_error style rejection for a command we
// will not service, keeping the connection alive so the client can retry or
// disconnect on its own terms.
func (s *Session) sendError(tid float64, code, description string) error {
	info := amf0.Object{Properties: []amf0.Property{
		{Key: "level", Value: "error"},
		{Key: "code", Value: code},
		{Key: "description", Value: description},
	}}
	return s.writeCommand("_error", tid, nil, info)
}

func (s *Session) writeCommand(name string, tid float64, args ...interface{}) error {
	var buf bytes.Buffer
	if err := amf0.Encode(&buf, name, tid); err != nil {
		return err
	}
	if err := amf0.Encode(&buf, args...); err != nil {
		return err
	}
	return s.sendMessage(chunk.TypeAMF0Command, 0, buf.Bytes())
}

// writeProtocolControl sends a 4-byte big-endian control message (Window
// Ack Size, Ack, Set Chunk Size) optionally followed by extra trailing bytes
// (Set Peer Bandwidth's limit-type octet).
func (s *Session) writeProtocolControl(typeID uint8, val uint32, extra ...byte) error {
	buf := make([]byte, 4+len(extra))
	buf[0], buf[1], buf[2], buf[3] = byte(val>>24), byte(val>>16), byte(val>>8), byte(val)
	copy(buf[4:], extra)
	return s.sendControlMessage(typeID, buf)
}

func (s *Session) sendControlMessage(typeID uint8, payload []byte) error {
	return s.sendMessage(typeID, 0, payload)
}

// sendMessage picks the chunk stream id for a message type (2 for protocol
// control and user control, types below 8; 3 for everything else) and hands
// the message to the chunk writer.
func (s *Session) sendMessage(typeID uint8, streamID uint32, payload []byte) error {
	csid := uint32(3)
	if typeID < chunk.TypeAudio {
		csid = 2
	}
	msg := &chunk.Message{
		Header: chunk.Header{
			ChunkStreamID:   csid,
			MessageTypeID:   typeID,
			MessageStreamID: streamID,
		},
		Payload: payload,
	}
	return s.writer.WriteMessage(msg)
}

var _ io.Closer = (*Session)(nil)

// Close closes the underlying connection, unblocking Run's in-flight read.
func (s *Session) Close() error {
	return s.conn.Close()
}
