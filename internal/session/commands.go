package session

import (
	"fmt"
	"time"

	"rtmp-ingest-core/internal/amf0"
	"rtmp-ingest-core/internal/chunk"
	"rtmp-ingest-core/internal/validator"
)

// outboundChunkSize is the Set Chunk Size we announce to every peer once
// connect succeeds. Spec §3 puts the protocol default at 128; this is an
// internal choice to raise it and cut down on per-chunk header overhead for
// outbound media, not something operators configure — contrast with
// Config.InboundChunkSizeCap, which only bounds what we accept from a peer.
const outboundChunkSize = 4096

// handleConnect processes the first command every RTMP peer sends. It
// authenticates the connection (if configured), then sends the fixed
// connect response burst in the order every Flash/OBS-compatible client
// expects: Window Ack Size, Set Peer Bandwidth, Set Chunk Size, a Stream
// Begin user control event for stream 0, and finally the _result reply.
func (s *Session) handleConnect(tid float64, vals []interface{}) error {
	if s.phase != PhaseConnectWait {
		return ErrUnsupportedCommand
	}

	var cmdObj amf0.Object
	if len(vals) > 2 {
		if obj, ok := vals[2].(amf0.Object); ok {
			cmdObj = obj
		}
	}
	if app, ok := cmdObj.Get("app"); ok {
		s.meta.App, _ = app.(string)
	}
	if tcURL, ok := cmdObj.Get("tcUrl"); ok {
		s.meta.TcURL, _ = tcURL.(string)
	}

	if err := validator.ValidateName("app", s.meta.App); err != nil {
		_ = s.sendError(tid, "NetConnection.Connect.Rejected", err.Error())
		return fmt.Errorf("%w: %v", ErrBadCommandShape, err)
	}
	if err := validator.ValidateTcURL(s.meta.TcURL); err != nil {
		_ = s.sendError(tid, "NetConnection.Connect.Rejected", err.Error())
		return fmt.Errorf("%w: %v", ErrBadCommandShape, err)
	}

	if s.cfg.Authenticate != nil {
		if err := s.cfg.Authenticate(&s.meta, cmdObj); err != nil {
			_ = s.sendError(tid, "NetConnection.Connect.Rejected", err.Error())
			return fmt.Errorf("%w: %v", ErrAuthFailed, err)
		}
	}

	if err := s.writeProtocolControl(chunk.TypeWindowAck, s.effectiveWindowAckSize()); err != nil {
		return err
	}
	limitType := s.cfg.PeerBandwidthLimit
	if err := s.writeProtocolControl(chunk.TypeSetPeerBW, s.effectivePeerBandwidth(), limitType); err != nil {
		return err
	}
	if err := s.writeProtocolControl(chunk.TypeSetChunkSize, uint32(outboundChunkSize)); err != nil {
		return err
	}
	_ = s.writer.SetChunkSize(outboundChunkSize)
	if err := s.sendStreamBegin(0); err != nil {
		return err
	}

	props := amf0.Object{Properties: []amf0.Property{
		{Key: "fmsVer", Value: "FMS/3,5,7,7009"},
		{Key: "capabilities", Value: float64(31)},
	}}
	info := amf0.Object{Properties: []amf0.Property{
		{Key: "level", Value: "status"},
		{Key: "code", Value: "NetConnection.Connect.Success"},
		{Key: "description", Value: "Connection succeeded."},
		{Key: "objectEncoding", Value: float64(0)},
	}}
	if err := s.writeCommand("_result", tid, props, info); err != nil {
		return err
	}

	s.meta.ConnectedAt = time.Now()
	s.setPhase(PhaseConnected)
	return nil
}

func (s *Session) handleCreateStream(tid float64) error {
	if s.phase != PhaseConnected && s.phase != PhaseStreamCreated {
		return ErrUnsupportedCommand
	}
	s.streamID = s.nextSID
	s.nextSID++
	if err := s.writeCommand("_result", tid, nil, float64(s.streamID)); err != nil {
		return err
	}
	s.setPhase(PhaseStreamCreated)
	return nil
}

// handlePublish marks the session as a publisher of the named stream and
// tells the caller's callback surface so it can route frames from here on.
func (s *Session) handlePublish(tid float64, vals []interface{}) error {
	if s.phase != PhaseStreamCreated {
		return s.sendError(tid, "NetStream.Publish.BadConnection", "publish requires a created stream")
	}
	if len(vals) < 4 {
		return ErrBadCommandShape
	}
	streamName, _ := vals[3].(string)
	if err := validator.ValidateName("stream", streamName); err != nil {
		return s.sendError(tid, "NetStream.Publish.BadName", err.Error())
	}
	s.meta.StreamName = streamName
	s.meta.Role = RolePublisher
	s.meta.PublishedAt = time.Now()

	s.setPhase(PhasePublishing)
	if s.cb.OnMetadata != nil {
		s.cb.OnMetadata(&s.meta)
	}

	status := amf0.Object{Properties: []amf0.Property{
		{Key: "level", Value: "status"},
		{Key: "code", Value: "NetStream.Publish.Start"},
		{Key: "description", Value: fmt.Sprintf("%s is now published.", streamName)},
	}}
	return s.writeCommand("onStatus", 0, nil, status)
}

// handlePlay acknowledges playback requests at the protocol level. This
// core does not retransmit media to players; it terminates ingest only, so
// a play request gets a well-formed status sequence but no frames follow.
func (s *Session) handlePlay(tid float64, vals []interface{}) error {
	if s.phase != PhaseStreamCreated {
		return s.sendError(tid, "NetStream.Play.BadConnection", "play requires a created stream")
	}
	if len(vals) < 4 {
		return ErrBadCommandShape
	}
	streamName, _ := vals[3].(string)
	if err := validator.ValidateName("stream", streamName); err != nil {
		return s.sendError(tid, "NetStream.Play.BadName", err.Error())
	}
	s.meta.StreamName = streamName
	s.meta.Role = RolePlayer

	if err := s.sendStreamBegin(s.streamID); err != nil {
		return err
	}
	reset := amf0.Object{Properties: []amf0.Property{
		{Key: "level", Value: "status"},
		{Key: "code", Value: "NetStream.Play.Reset"},
		{Key: "description", Value: "Resetting and playing stream."},
	}}
	if err := s.writeCommand("onStatus", 0, nil, reset); err != nil {
		return err
	}
	start := amf0.Object{Properties: []amf0.Property{
		{Key: "level", Value: "status"},
		{Key: "code", Value: "NetStream.Play.Start"},
		{Key: "description", Value: fmt.Sprintf("Started playing %s.", streamName)},
	}}
	if err := s.writeCommand("onStatus", 0, nil, start); err != nil {
		return err
	}

	s.setPhase(PhasePlaying)
	return nil
}

func (s *Session) handlePause(tid float64, vals []interface{}) error {
	if len(vals) < 4 {
		return ErrBadCommandShape
	}
	paused, _ := vals[3].(bool)
	code := "NetStream.Unpause.Notify"
	if paused {
		code = "NetStream.Pause.Notify"
	}
	status := amf0.Object{Properties: []amf0.Property{
		{Key: "level", Value: "status"},
		{Key: "code", Value: code},
		{Key: "description", Value: ""},
	}}
	return s.writeCommand("onStatus", 0, nil, status)
}

// handleDeleteStream frees the stream slot this session allocated and drops
// back to CONNECTED (spec.md §4.4): the client must createStream again
// before publishing or playing further.
func (s *Session) handleDeleteStream(tid float64, vals []interface{}) error {
	if s.phase == PhasePublishing && s.cb.OnMetadata != nil {
		s.cb.OnMetadata(&s.meta)
	}
	s.streamID = 0
	s.setPhase(PhaseConnected)
	return nil
}

// sendStreamBegin emits the User Control "Stream Begin" event (event type 0)
// for the given message stream id.
func (s *Session) sendStreamBegin(streamID uint32) error {
	payload := make([]byte, 6)
	payload[0], payload[1] = 0, 0 // event type 0: Stream Begin
	payload[2] = byte(streamID >> 24)
	payload[3] = byte(streamID >> 16)
	payload[4] = byte(streamID >> 8)
	payload[5] = byte(streamID)
	return s.sendControlMessage(chunk.TypeUserControl, payload)
}

func (s *Session) effectiveWindowAckSize() uint32 {
	if s.cfg.WindowAckSize > 0 {
		return s.cfg.WindowAckSize
	}
	return 2500000
}

func (s *Session) effectivePeerBandwidth() uint32 {
	if s.cfg.PeerBandwidth > 0 {
		return s.cfg.PeerBandwidth
	}
	return 2500000
}
