// Package server implements the RTMP ingest dispatcher: a TCP accept loop
// that performs the handshake, spins up an internal/session.Session per
// connection, and tracks published streams in a Registry. It never relays
// media back out; it terminates ingest.
package server

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"rtmp-ingest-core/internal/amf0"
	"rtmp-ingest-core/internal/auth"
	"rtmp-ingest-core/internal/chunk"
	"rtmp-ingest-core/internal/circuit"
	"rtmp-ingest-core/internal/handshake"
	"rtmp-ingest-core/internal/logger"
	"rtmp-ingest-core/internal/metrics"
	"rtmp-ingest-core/internal/middleware"
	"rtmp-ingest-core/internal/pool"
	"rtmp-ingest-core/internal/retry"
	"rtmp-ingest-core/internal/session"
)

// Callbacks is the event surface a dispatcher-level caller can hook into,
// in addition to the per-session callbacks every connection already invokes.
// OnFrame's return value requests a disconnect (spec.md §7's CallbackError
// policy singles the frame callback out for this): return true to have the
// connection torn down after this frame, false to keep streaming.
type Callbacks struct {
	OnMetadata     func(*session.Metadata)
	OnFrame        func(meta *session.Metadata, typeID uint8, timestamp uint32, payload []byte, isKeyframe bool) (disconnect bool)
	OnStateChanged func(*session.Metadata, session.Phase)
	// OnServerState reports the dispatcher's own lifecycle, distinct from any
	// one connection's: starting up, serving, and shutting down (including
	// the terminal error, if any).
	OnServerState func(ServerState)
}

// ServerState names a phase in the dispatcher's own lifecycle, as opposed
// to session.Phase which tracks one connection.
type ServerState uint8

const (
	ServerStarting ServerState = iota
	ServerRunning
	ServerStopped
)

func (s ServerState) String() string {
	switch s {
	case ServerStarting:
		return "starting"
	case ServerRunning:
		return "running"
	case ServerStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Server accepts RTMP connections and drives each through handshake and
// session lifecycle. Every field may be left nil/zero except ListenAddr
// (via Config); a nil middleware simply isn't applied.
type Server struct {
	Config Config

	Log            *logger.Logger
	Auth           *auth.StreamTokenAuthenticator
	RateLimit      *middleware.RateLimiter
	ConnLimit      *middleware.ConnectionLimiter
	CircuitBreaker *circuit.Breaker
	BufPool        *pool.BytePool
	RetryConfig    retry.Config
	TLSConfig      *tls.Config

	Callbacks Callbacks

	Registry *Registry
}

// New builds a Server with sane defaults for anything left unset in cfg.
func New(cfg Config, log *logger.Logger) *Server {
	if log == nil {
		log = logger.New()
	}
	return &Server{
		Config:      cfg.withDefaults(),
		Log:         log,
		BufPool:     pool.New(64 * 1024),
		RetryConfig: retry.DefaultConfig(),
		Registry:    newRegistry(),
	}
}

func generateConnectionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("conn-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// Run listens on Config.ListenAddr until ctx is cancelled, accepting and
// handling connections concurrently. It returns ctx.Err() on clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.invokeServerState(ServerStarting)

	var l net.Listener
	listenErr := retry.Do(ctx, s.RetryConfig, func() error {
		var err error
		if s.TLSConfig != nil {
			l, err = tls.Listen("tcp", s.Config.ListenAddr, s.TLSConfig)
		} else {
			l, err = net.Listen("tcp", s.Config.ListenAddr)
		}
		return err
	})
	if listenErr != nil {
		s.invokeServerState(ServerStopped)
		return fmt.Errorf("listen: %w", listenErr)
	}
	defer l.Close()
	defer s.invokeServerState(ServerStopped)

	s.Log.Info("rtmp ingest listening", "addr", s.Config.ListenAddr)
	s.invokeServerState(ServerRunning)

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	stopMonitor := make(chan struct{})
	var monitorWG sync.WaitGroup
	monitorWG.Add(1)
	go func() {
		defer monitorWG.Done()
		s.runMonitor(stopMonitor)
	}()

	var wg sync.WaitGroup
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			s.Log.Error("accept", "err", err)
			continue
		}
		wg.Add(1)
		go func(c net.Conn) {
			defer wg.Done()
			if err := s.handle(ctx, c); err != nil {
				s.Log.Debug("connection ended", "err", err)
			}
		}(conn)
	}

	wg.Wait()
	close(stopMonitor)
	monitorWG.Wait()
	return ctx.Err()
}

func (s *Server) runMonitor(stop <-chan struct{}) {
	ticker := time.NewTicker(s.Config.MonitorInterval)
	defer ticker.Stop()
	maxIdle := s.Config.RecvTimeout * 2
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if n := s.Registry.sweepStale(maxIdle); n > 0 {
				s.Log.Warn("closed stale connections", "count", n)
			}
		}
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) (err error) {
	defer conn.Close()

	id := generateConnectionID()
	clientIP := extractIP(conn.RemoteAddr().String())
	log := s.Log.With("conn_id", id, "client_ip", clientIP)

	start := time.Now()
	metrics.RecordConnectionStart()
	defer func() {
		metrics.ConnectionDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.RecordConnectionError()
			log.Debug("session ended with error", "err", err, "duration", time.Since(start))
			return
		}
		metrics.RecordConnectionSuccess()
		log.Info("session completed", "duration", time.Since(start))
	}()

	if s.RateLimit != nil {
		if err = s.RateLimit.Allow(clientIP); err != nil {
			metrics.RecordRateLimitRejection()
			log.Warn("rate limit denied", "err", err)
			return err
		}
	}
	if s.ConnLimit != nil {
		if err = s.ConnLimit.Acquire(clientIP); err != nil {
			metrics.RecordConnectionLimitRejection()
			log.Warn("connection limit denied", "err", err)
			return err
		}
		defer s.ConnLimit.Release(clientIP)
	}

	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}

	if _, err = handshake.ServerHandshake(conn, nil); err != nil {
		log.Warn("handshake failed", "err", err)
		return fmt.Errorf("handshake: %w", err)
	}

	pooledReader := newPooledConnReader(conn, s.BufPool)
	defer pooledReader.release()

	sessCfg := session.Config{
		RecvTimeout:         s.Config.RecvTimeout,
		InboundChunkSizeCap: s.Config.InboundChunkSizeCap,
		WindowAckSize:       s.Config.WindowAckSize,
		PeerBandwidth:       s.Config.PeerBandwidth,
		PeerBandwidthLimit:  s.Config.PeerBandwidthLimitType,
		MaxMessageSize:      s.Config.MaxMessageSize,
		Authenticate:        s.authenticate,
	}

	wasPublishing := false
	var sess *session.Session
	cb := session.Callbacks{
		OnStateChanged: func(meta *session.Metadata, phase session.Phase) {
			s.Registry.touch(id)
			if phase == session.PhasePublishing || phase == session.PhasePlaying {
				s.Registry.bindStream(id, meta.StreamName)
			}
			if phase == session.PhasePublishing && !wasPublishing {
				wasPublishing = true
				metrics.PublishedStreams.Inc()
			} else if phase == session.PhaseClosed && wasPublishing {
				wasPublishing = false
				metrics.PublishedStreams.Dec()
			}
			s.invokeStateChanged(log, meta, phase)
		},
		OnMetadata: func(meta *session.Metadata) {
			s.Registry.bindStream(id, meta.StreamName)
			s.invokeMetadata(log, meta)
		},
		OnFrame: func(meta *session.Metadata, msg *chunk.Message) {
			s.Registry.touch(id)
			if s.invokeFrame(log, meta, msg) {
				log.Info("frame callback requested disconnect")
				_ = sess.Close()
			}
		},
	}

	sess = session.New(&pooledConn{Conn: conn, r: pooledReader}, sessCfg, cb, s.Log.Slog())
	meta := sess.Metadata()
	meta.ConnID = id
	meta.RemoteAddr = conn.RemoteAddr().String()
	s.Registry.add(id, sess, clientIP)
	defer s.Registry.remove(id)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = sess.Close()
		case <-done:
		}
	}()

	log.Info("connection accepted")
	return sess.Run()
}

// authenticate bridges session's Authenticate hook to the configured
// auth.StreamTokenAuthenticator, extracting a bearer token from the connect
// command object's "token" field (streamer-supplied, since RTMP connect
// carries no header channel of its own).
func (s *Server) authenticate(meta *session.Metadata, args amf0.Object) error {
	if s.Auth == nil {
		return nil
	}
	var token string
	if raw, ok := args.Get("token"); ok {
		token, _ = raw.(string)
	}
	token = auth.ExtractBearerToken(token)
	if err := s.Auth.Authenticate(token); err != nil {
		metrics.RecordAuthFailure()
		return err
	}
	return nil
}

func (s *Server) invokeMetadata(log *logger.Logger, meta *session.Metadata) {
	if s.Callbacks.OnMetadata == nil {
		return
	}
	call := func() error { s.Callbacks.OnMetadata(meta); return nil }
	if s.CircuitBreaker != nil {
		if err := s.CircuitBreaker.Call(call); err != nil {
			log.Warn("metadata callback suppressed", "err", err)
		}
		return
	}
	_ = call()
}

// invokeFrame reports the frame to the configured callback and returns
// whether the callback asked for the connection to be disconnected.
func (s *Server) invokeFrame(log *logger.Logger, meta *session.Metadata, msg *chunk.Message) (disconnect bool) {
	metrics.RecordBytesTransferred("ingest", int64(len(msg.Payload)))
	mediaType := "video"
	if msg.TypeID() == chunk.TypeAudio {
		mediaType = "audio"
	}
	metrics.RecordFrameIngested(mediaType)

	if s.Callbacks.OnFrame == nil {
		return false
	}
	isKeyframe := msg.TypeID() == chunk.TypeVideo && len(msg.Payload) > 0 && msg.Payload[0]>>4 == 1
	call := func() error {
		disconnect = s.Callbacks.OnFrame(meta, msg.TypeID(), msg.Header.Timestamp, msg.Payload, isKeyframe)
		return nil
	}
	if s.CircuitBreaker != nil {
		if err := s.CircuitBreaker.Call(call); err != nil {
			metrics.RecordCallbackBreakerTrip()
			log.Warn("frame callback suppressed", "err", err)
			return false
		}
		return disconnect
	}
	_ = call()
	return disconnect
}

func (s *Server) invokeStateChanged(log *logger.Logger, meta *session.Metadata, phase session.Phase) {
	if s.Callbacks.OnStateChanged == nil {
		return
	}
	call := func() error { s.Callbacks.OnStateChanged(meta, phase); return nil }
	if s.CircuitBreaker != nil {
		if err := s.CircuitBreaker.Call(call); err != nil {
			log.Warn("state callback suppressed", "err", err)
		}
		return
	}
	_ = call()
}

func (s *Server) invokeServerState(state ServerState) {
	s.Log.Info("server state changed", "state", state.String())
	if s.Callbacks.OnServerState == nil {
		return
	}
	call := func() error { s.Callbacks.OnServerState(state); return nil }
	if s.CircuitBreaker != nil {
		if err := s.CircuitBreaker.Call(call); err != nil {
			s.Log.Warn("server state callback suppressed", "err", err)
		}
		return
	}
	_ = call()
}

func extractIP(remoteAddr string) string {
	if remoteAddr == "" {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err == nil {
		return host
	}
	if strings.HasPrefix(remoteAddr, "[") && strings.HasSuffix(remoteAddr, "]") {
		return strings.TrimSuffix(strings.TrimPrefix(remoteAddr, "["), "]")
	}
	return remoteAddr
}
