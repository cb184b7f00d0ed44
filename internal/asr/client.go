// Package asr implements the protocol client for the streaming speech
// recognition service: one websocket connection driven through a binary
// frame protocol, with timed batching of outbound audio.
package asr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"murmur/internal/codec"
	"murmur/internal/domain"
	"murmur/internal/ports"
)

// Config controls the connection and the initial recognition request.
// Endpoint and FlushInterval are explicit so tests can substitute fakes.
type Config struct {
	Endpoint   string
	AppKey     string
	AccessKey  string
	ResourceID string

	UserID         string
	Model          string
	EnableITN      bool
	EnablePunc     bool
	EnableDDC      bool
	ShowUtterances bool

	SampleRate int
	Bits       int
	Channels   int

	FlushInterval time.Duration
	DialTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Bits <= 0 {
		c.Bits = 16
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 200 * time.Millisecond
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	return c
}

// Client owns one websocket connection to the recognition endpoint.
type Client struct {
	cfg      Config
	log      *zap.Logger
	onResult ports.ResultFunc

	mu        sync.Mutex
	phase     domain.ConnectionPhase
	conn      *websocket.Conn
	queue     [][]byte
	stopFlush chan struct{}
	flushDone chan struct{}

	writeMu sync.Mutex
}

// NewClient builds a disconnected client. onResult receives every
// recognition result and soft protocol error for the connection's lifetime.
func NewClient(cfg Config, onResult ports.ResultFunc, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		cfg:      cfg.withDefaults(),
		log:      log,
		onResult: onResult,
		phase:    domain.PhaseDisconnected,
	}
}

// Phase returns the current connection phase.
func (c *Client) Phase() domain.ConnectionPhase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Connect dials the recognition endpoint, sends the initial full request,
// and starts the flush ticker and read loop. Only one attempt may be in
// flight; connecting while not disconnected fails with ErrInvalidState.
// Errors before the initial frame is written revert the client to
// disconnected; transport errors afterward are delivered through the result
// callback instead.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.phase != domain.PhaseDisconnected {
		phase := c.phase
		c.mu.Unlock()
		return fmt.Errorf("%w: connect while %s", domain.ErrInvalidState, phase)
	}
	c.phase = domain.PhaseConnecting
	c.mu.Unlock()

	headers := http.Header{}
	headers.Set("X-Api-App-Key", c.cfg.AppKey)
	headers.Set("X-Api-Access-Key", c.cfg.AccessKey)
	headers.Set("X-Api-Resource-Id", c.cfg.ResourceID)
	headers.Set("X-Api-Connect-Id", uuid.NewString())
	headers.Set("X-Api-Request-Id", uuid.NewString())

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = c.cfg.DialTimeout
	conn, _, err := dialer.DialContext(ctx, c.cfg.Endpoint, headers)
	if err != nil {
		c.setPhase(domain.PhaseDisconnected)
		return fmt.Errorf("dial recognition endpoint: %w", err)
	}

	frame, err := c.initialRequestFrame()
	if err == nil {
		err = conn.WriteMessage(websocket.BinaryMessage, frame)
	}
	if err != nil {
		_ = conn.Close()
		c.setPhase(domain.PhaseDisconnected)
		return fmt.Errorf("send initial request: %w", err)
	}

	stopFlush := make(chan struct{})
	flushDone := make(chan struct{})

	c.mu.Lock()
	if c.phase != domain.PhaseConnecting {
		// Close ran while dialing; the fresh connection must not survive it.
		phase := c.phase
		c.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("%w: closed during connect (%s)", domain.ErrInvalidState, phase)
	}
	c.conn = conn
	c.phase = domain.PhaseConnected
	c.stopFlush = stopFlush
	c.flushDone = flushDone
	c.mu.Unlock()

	go c.flushLoop(stopFlush, flushDone)
	go c.readLoop(conn)

	c.log.Info("recognition connection established", zap.String("endpoint", c.cfg.Endpoint))
	return nil
}

// SendAudio queues one PCM chunk for the next timed flush. Audio sent while
// not connected is dropped with a warning; buffering across reconnects is
// deliberately not attempted.
func (c *Client) SendAudio(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != domain.PhaseConnected {
		c.log.Warn("dropping audio chunk while not connected",
			zap.String("phase", string(c.phase)),
			zap.Int("bytes", len(chunk)))
		return
	}
	c.queue = append(c.queue, append([]byte(nil), chunk...))
}

// Finish stops the flush ticker, waits for any in-flight flush to drain,
// then sends the remaining queued audio as one final packet. An empty final
// packet is still sent so the server can finalize recognition. Calling
// Finish while not connected is a no-op.
func (c *Client) Finish() error {
	c.mu.Lock()
	if c.phase != domain.PhaseConnected {
		c.mu.Unlock()
		return nil
	}
	stop := c.stopFlush
	done := c.flushDone
	c.stopFlush = nil
	c.flushDone = nil
	c.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	return c.flush(codec.FlagNegativeSequence, true)
}

// Close tears the connection down unconditionally. Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	if c.phase == domain.PhaseDisconnected {
		c.mu.Unlock()
		return
	}
	c.phase = domain.PhaseClosing
	stop := c.stopFlush
	conn := c.conn
	c.stopFlush = nil
	c.flushDone = nil
	c.conn = nil
	c.queue = nil
	c.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if conn != nil {
		_ = conn.Close()
	}
	c.setPhase(domain.PhaseDisconnected)
}

func (c *Client) setPhase(phase domain.ConnectionPhase) {
	c.mu.Lock()
	c.phase = phase
	c.mu.Unlock()
}

func (c *Client) initialRequestFrame() ([]byte, error) {
	payload, err := json.Marshal(initialRequest{
		User: requestUser{UID: c.cfg.UserID},
		Audio: requestAudio{
			Format:  "pcm",
			Rate:    c.cfg.SampleRate,
			Bits:    c.cfg.Bits,
			Channel: c.cfg.Channels,
		},
		Request: requestOptions{
			ModelName:      c.cfg.Model,
			EnableITN:      c.cfg.EnableITN,
			EnablePunc:     c.cfg.EnablePunc,
			EnableDDC:      c.cfg.EnableDDC,
			ShowUtterances: c.cfg.ShowUtterances,
			ResultType:     "full",
		},
	})
	if err != nil {
		return nil, err
	}
	return codec.Encode(codec.TypeFullClientRequest, codec.FlagNoSequence,
		codec.SerializationJSON, codec.CompressionGzip, payload)
}

// flushLoop closes done when it exits, so Finish can join an in-flight tick
// before writing the last packet.
func (c *Client) flushLoop(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.flush(codec.FlagNoSequence, false); err != nil {
				c.log.Warn("audio flush failed", zap.Error(err))
			}
		case <-stop:
			return
		}
	}
}

// flush drains the queue into one audio-only frame. The queue is read and
// cleared atomically, so two flushes never observe overlapping contents.
// With force set an empty frame is still written.
func (c *Client) flush(flags codec.Flags, force bool) error {
	c.mu.Lock()
	if c.phase != domain.PhaseConnected || c.conn == nil {
		c.mu.Unlock()
		return nil
	}
	conn := c.conn
	var pending []byte
	if len(c.queue) > 0 {
		total := 0
		for _, chunk := range c.queue {
			total += len(chunk)
		}
		pending = make([]byte, 0, total)
		for _, chunk := range c.queue {
			pending = append(pending, chunk...)
		}
		c.queue = nil
	}
	c.mu.Unlock()

	if len(pending) == 0 && !force {
		return nil
	}

	frame, err := codec.Encode(codec.TypeAudioOnlyRequest, flags,
		codec.SerializationNone, codec.CompressionGzip, pending)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			deliberate := c.Phase() != domain.PhaseConnected
			if !deliberate && !websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				c.emit(domain.RecognitionResult{
					IsPartial: true,
					Err:       fmt.Sprintf("transport: %v", err),
				})
			}
			return
		}
		c.handleFrame(data)
	}
}

func (c *Client) handleFrame(data []byte) {
	msg, err := codec.Decode(data)
	if err != nil {
		c.log.Warn("discarding undecodable frame", zap.Error(err))
		c.emit(domain.RecognitionResult{IsPartial: true, Err: err.Error()})
		return
	}

	switch msg.Type {
	case codec.TypeServerError:
		c.emit(domain.RecognitionResult{
			IsPartial: true,
			Err:       fmt.Sprintf("%d: %s", msg.ErrorCode, msg.ErrorText),
		})

	case codec.TypeFullServerResponse:
		result, ok, err := parseResponse(msg.Payload)
		if err != nil {
			c.log.Warn("discarding unparseable response payload", zap.Error(err))
			c.emit(domain.RecognitionResult{IsPartial: true, Err: err.Error()})
			return
		}
		if !ok {
			// Keep-alives and empty acks stay quiet.
			return
		}
		result.IsPartial = !msg.IsLast()
		c.emit(result)

	default:
		c.log.Debug("ignoring unrecognized frame type", zap.Uint8("type", uint8(msg.Type)))
	}
}

func (c *Client) emit(result domain.RecognitionResult) {
	if c.onResult != nil {
		c.onResult(result)
	}
}

type initialRequest struct {
	User    requestUser    `json:"user"`
	Audio   requestAudio   `json:"audio"`
	Request requestOptions `json:"request"`
}

type requestUser struct {
	UID string `json:"uid"`
}

type requestAudio struct {
	Format  string `json:"format"`
	Rate    int    `json:"rate"`
	Bits    int    `json:"bits"`
	Channel int    `json:"channel"`
}

type requestOptions struct {
	ModelName      string `json:"model_name"`
	EnableITN      bool   `json:"enable_itn"`
	EnablePunc     bool   `json:"enable_punc"`
	EnableDDC      bool   `json:"enable_ddc"`
	ShowUtterances bool   `json:"show_utterances"`
	ResultType     string `json:"result_type"`
}
