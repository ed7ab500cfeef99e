package test

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"rtmp-ingest-core/internal/amf0"
	"rtmp-ingest-core/internal/chunk"
	"rtmp-ingest-core/internal/handshake"
	"rtmp-ingest-core/internal/logger"
	"rtmp-ingest-core/internal/server"
	"rtmp-ingest-core/internal/session"
)

func startTestServer(t *testing.T, cfg server.Config) (*server.Server, string) {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	cfg.ListenAddr = addr
	if cfg.RecvTimeout == 0 {
		cfg.RecvTimeout = 5 * time.Second
	}

	srv := server.New(cfg, logger.New())

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- srv.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-runDone:
		case <-time.After(2 * time.Second):
			t.Error("server did not shut down in time")
		}
	})

	deadline := time.Now().Add(2 * time.Second)
	for {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			conn.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never started listening: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	return srv, addr
}

func dialAndHandshake(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if _, err := handshake.ClientHandshake(conn, nil); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	return conn
}

func sendCommand(t *testing.T, w *chunk.Writer, name string, tid float64, args ...interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if err := amf0.Encode(&buf, name, tid); err != nil {
		t.Fatalf("encode %s: %v", name, err)
	}
	if err := amf0.Encode(&buf, args...); err != nil {
		t.Fatalf("encode %s args: %v", name, err)
	}
	msg := &chunk.Message{
		Header:  chunk.Header{ChunkStreamID: 3, MessageTypeID: chunk.TypeAMF0Command},
		Payload: buf.Bytes(),
	}
	if err := w.WriteMessage(msg); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func sendFrame(t *testing.T, w *chunk.Writer, typeID uint8, payload []byte) {
	t.Helper()
	msg := &chunk.Message{
		Header:  chunk.Header{ChunkStreamID: 4, MessageTypeID: typeID},
		Payload: payload,
	}
	if err := w.WriteMessage(msg); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func connectCreateStreamPublish(t *testing.T, addr, app, streamName string) (net.Conn, *chunk.Writer, *chunk.Reader) {
	t.Helper()
	conn := dialAndHandshake(t, addr)

	w := chunk.NewWriter(conn, chunk.DefaultChunkSize)
	r := chunk.NewReader(conn, 0, 0)

	connectObj := amf0.Object{Properties: []amf0.Property{
		{Key: "app", Value: app},
		{Key: "tcUrl", Value: "rtmp://" + addr + "/" + app},
	}}
	sendCommand(t, w, "connect", 1, connectObj)
	for i := 0; i < 4; i++ {
		if _, err := r.ReadMessage(); err != nil {
			t.Fatalf("read connect response %d: %v", i, err)
		}
	}

	sendCommand(t, w, "createStream", 2, nil)
	if _, err := r.ReadMessage(); err != nil {
		t.Fatalf("read createStream response: %v", err)
	}

	sendCommand(t, w, "publish", 3, nil, streamName, "live")
	if _, err := r.ReadMessage(); err != nil {
		t.Fatalf("read publish response: %v", err)
	}

	return conn, w, r
}

// TestIngestFullPublishLifecycle exercises connect, createStream, publish,
// and a handful of media frames, confirming the registry reflects the
// stream while it is live and forgets it once the connection closes.
func TestIngestFullPublishLifecycle(t *testing.T) {
	srv, addr := startTestServer(t, server.Config{})

	conn, w, _ := connectCreateStreamPublish(t, addr, "live", "mystream")

	deadline := time.Now().Add(time.Second)
	for {
		if _, ok := srv.Registry.StreamInfo("mystream"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("stream never appeared in registry")
		}
		time.Sleep(10 * time.Millisecond)
	}

	sendFrame(t, w, chunk.TypeVideo, []byte{0x17, 0x01, 0x00, 0x00, 0x00, 0xAA, 0xBB})
	sendFrame(t, w, chunk.TypeAudio, []byte{0xAF, 0x01, 0xCC, 0xDD})

	time.Sleep(50 * time.Millisecond)
	meta, ok := srv.Registry.StreamInfo("mystream")
	if !ok {
		t.Fatal("stream disappeared after sending frames")
	}
	if meta.BytesTotal == 0 {
		t.Error("expected non-zero bytes tracked for publishing stream")
	}

	conn.Close()

	deadline = time.Now().Add(time.Second)
	for {
		if _, ok := srv.Registry.StreamInfo("mystream"); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("stream was not removed from registry after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// TestIngestCallbacksFireOnMetadataAndFrames verifies the dispatcher-level
// Callbacks surface is invoked as media arrives, not just the per-session
// one.
func TestIngestCallbacksFireOnMetadataAndFrames(t *testing.T) {
	srv, addr := startTestServer(t, server.Config{})

	type frameCall struct {
		typeID     uint8
		timestamp  uint32
		payload    []byte
		isKeyframe bool
	}

	gotMetadata := make(chan string, 1)
	gotFrame := make(chan frameCall, 8)
	srv.Callbacks.OnMetadata = func(meta *session.Metadata) {
		gotMetadata <- meta.StreamName
	}
	srv.Callbacks.OnFrame = func(meta *session.Metadata, typeID uint8, timestamp uint32, payload []byte, isKeyframe bool) bool {
		gotFrame <- frameCall{typeID, timestamp, append([]byte(nil), payload...), isKeyframe}
		return false
	}

	conn, w, _ := connectCreateStreamPublish(t, addr, "live", "cbstream")
	defer conn.Close()

	select {
	case name := <-gotMetadata:
		if name != "cbstream" {
			t.Errorf("OnMetadata stream name = %q, want cbstream", name)
		}
	case <-time.After(time.Second):
		t.Fatal("OnMetadata callback was not invoked")
	}

	frame := []byte{0x17, 0x01, 0x00, 0x00, 0x00, 0xAA}
	sendFrame(t, w, chunk.TypeVideo, frame)

	select {
	case got := <-gotFrame:
		if got.typeID != chunk.TypeVideo {
			t.Errorf("OnFrame type = %d, want %d", got.typeID, chunk.TypeVideo)
		}
		if !bytes.Equal(got.payload, frame) {
			t.Errorf("OnFrame payload = %v, want %v", got.payload, frame)
		}
		if !got.isKeyframe {
			t.Error("OnFrame isKeyframe = false, want true for payload[0]>>4 == 1")
		}
	case <-time.After(time.Second):
		t.Fatal("OnFrame callback was not invoked")
	}
}

// TestIngestFrameCallbackDisconnectRequest confirms a frame callback that
// returns true (spec.md §7's CallbackError policy for the frame callback)
// tears the connection down instead of continuing to stream.
func TestIngestFrameCallbackDisconnectRequest(t *testing.T) {
	srv, addr := startTestServer(t, server.Config{})

	srv.Callbacks.OnFrame = func(meta *session.Metadata, typeID uint8, timestamp uint32, payload []byte, isKeyframe bool) bool {
		return true
	}

	conn, w, r := connectCreateStreamPublish(t, addr, "live", "killstream")
	defer conn.Close()

	sendFrame(t, w, chunk.TypeVideo, []byte{0x17, 0x01, 0x00, 0x00, 0x00, 0xAA})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, err := r.ReadMessage(); err != nil {
			return // connection closed, as requested
		}
	}
}

// TestIngestRejectsMalformedStreamName confirms the ingest guard refuses a
// publish whose stream name contains control characters.
func TestIngestRejectsMalformedStreamName(t *testing.T) {
	_, addr := startTestServer(t, server.Config{})

	conn := dialAndHandshake(t, addr)
	defer conn.Close()

	w := chunk.NewWriter(conn, chunk.DefaultChunkSize)
	r := chunk.NewReader(conn, 0, 0)

	connectObj := amf0.Object{Properties: []amf0.Property{
		{Key: "app", Value: "live"},
		{Key: "tcUrl", Value: "rtmp://" + addr + "/live"},
	}}
	sendCommand(t, w, "connect", 1, connectObj)
	for i := 0; i < 4; i++ {
		if _, err := r.ReadMessage(); err != nil {
			t.Fatalf("read connect response %d: %v", i, err)
		}
	}

	sendCommand(t, w, "createStream", 2, nil)
	if _, err := r.ReadMessage(); err != nil {
		t.Fatalf("read createStream response: %v", err)
	}

	sendCommand(t, w, "publish", 3, nil, "bad\x00name", "live")
	msg, err := r.ReadMessage()
	if err != nil {
		t.Fatalf("read publish response: %v", err)
	}
	values, decodeErr := amf0.Decode(bytes.NewReader(msg.Payload))
	if decodeErr != nil {
		t.Fatalf("decode publish response: %v", decodeErr)
	}
	if len(values) == 0 || values[0] != "_error" {
		t.Fatalf("expected _error response, got %v", values)
	}
}
