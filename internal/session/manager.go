// Package session layers a finite state machine over the protocol client:
// session-level start/feed/stop/cancel operations, partial and final result
// aggregation, bounded history, and lifecycle events.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"murmur/internal/domain"
	"murmur/internal/ports"
)

// Config controls session behavior. Zero values fall back to the defaults
// noted per field.
type Config struct {
	AutoSaveHistory bool
	MaxHistorySize  int           // default 50
	FinalWait       time.Duration // budget for the final result after finish, default 5s
	PollInterval    time.Duration // final-result poll interval, default 100ms
}

func (c Config) withDefaults() Config {
	if c.MaxHistorySize <= 0 {
		c.MaxHistorySize = 50
	}
	if c.FinalWait <= 0 {
		c.FinalWait = 5 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	return c
}

// Manager owns at most one protocol client at a time; the client is created
// at session start and discarded at session end, never reused.
type Manager struct {
	newClient ports.ClientFactory
	recorder  ports.HistoryRecorder // optional
	emitter   *Emitter
	log       *zap.Logger
	cfg       Config

	mu        sync.Mutex
	state     domain.SessionState
	client    ports.RecognitionClient
	partials  []domain.RecognitionResult
	final     *domain.RecognitionResult
	history   []domain.HistoryEntry
	startedAt time.Time
}

func NewManager(newClient ports.ClientFactory, recorder ports.HistoryRecorder, log *zap.Logger, cfg Config) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		newClient: newClient,
		recorder:  recorder,
		emitter:   NewEmitter(),
		log:       log,
		cfg:       cfg.withDefaults(),
		state:     domain.SessionStateIdle,
	}
}

// On registers an event handler; Off removes it.
func (m *Manager) On(kind domain.EventKind, handler Handler) int { return m.emitter.On(kind, handler) }
func (m *Manager) Off(kind domain.EventKind, id int)             { m.emitter.Off(kind, id) }

// State returns the current session state.
func (m *Manager) State() domain.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// History returns a copy of the recorded entries, most recent first.
func (m *Manager) History() []domain.HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.HistoryEntry(nil), m.history...)
}

// StartSession creates a fresh protocol client and connects it. Valid only
// from idle (or completed, which settles back into a new session the same
// way). Connect failures move the session to error and are returned to the
// caller.
func (m *Manager) StartSession(ctx context.Context) error {
	m.mu.Lock()
	if m.state != domain.SessionStateIdle && m.state != domain.SessionStateCompleted {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: start while %s", domain.ErrInvalidState, state)
	}
	client := m.newClient(m.handleResult)
	m.client = client
	m.partials = nil
	m.final = nil
	m.startedAt = time.Now()
	m.state = domain.SessionStateConnecting
	m.mu.Unlock()
	m.emitState(domain.SessionStateConnecting)

	if err := client.Connect(ctx); err != nil {
		m.mu.Lock()
		if m.client != client {
			// Cancelled while connecting; the session is already idle.
			m.mu.Unlock()
			return err
		}
		m.client = nil
		m.state = domain.SessionStateError
		m.mu.Unlock()
		m.emitState(domain.SessionStateError)
		m.emitter.Emit(domain.Event{Kind: domain.EventError, Err: err.Error(), Timestamp: time.Now()})
		return err
	}

	m.mu.Lock()
	if m.client != client {
		// Cancelled while connecting; close the late connection and stay idle.
		m.mu.Unlock()
		client.Close()
		return fmt.Errorf("%w: session cancelled during connect", domain.ErrInvalidState)
	}
	m.state = domain.SessionStateReady
	m.mu.Unlock()
	m.emitState(domain.SessionStateReady)
	m.emitter.Emit(domain.Event{Kind: domain.EventConnected, Timestamp: time.Now()})
	return nil
}

// SendAudio forwards one PCM chunk to the protocol client. The first chunk
// after a successful start moves the session to recording. Chunks arriving
// in any other state than ready/recording are dropped with a warning,
// matching the client's own backpressure policy.
func (m *Manager) SendAudio(chunk []byte) error {
	m.mu.Lock()
	if m.client == nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: no active session", domain.ErrInvalidState)
	}
	var toRecording bool
	switch m.state {
	case domain.SessionStateReady:
		m.state = domain.SessionStateRecording
		toRecording = true
	case domain.SessionStateRecording:
	default:
		m.log.Warn("dropping audio outside recording", zap.String("state", string(m.state)))
		m.mu.Unlock()
		return nil
	}
	client := m.client
	m.mu.Unlock()

	if toRecording {
		m.emitState(domain.SessionStateRecording)
	}
	client.SendAudio(chunk)
	return nil
}

// StopSession finishes the audio stream and waits (bounded) for the final
// result. When the wait expires but partials arrived, the latest partial is
// promoted to final instead of failing; with no partials at all the call
// fails with ErrTimeout. The protocol client is always closed and discarded.
func (m *Manager) StopSession(ctx context.Context) (domain.RecognitionResult, error) {
	m.mu.Lock()
	if m.state != domain.SessionStateReady && m.state != domain.SessionStateRecording {
		state := m.state
		m.mu.Unlock()
		return domain.RecognitionResult{}, fmt.Errorf("%w: stop while %s", domain.ErrInvalidState, state)
	}
	client := m.client
	startedAt := m.startedAt
	m.state = domain.SessionStateProcessing
	m.mu.Unlock()
	m.emitState(domain.SessionStateProcessing)

	if err := client.Finish(); err != nil {
		m.teardown(client, domain.SessionStateError)
		m.emitter.Emit(domain.Event{Kind: domain.EventError, Err: err.Error(), Timestamp: time.Now()})
		return domain.RecognitionResult{}, err
	}

	result, err := m.awaitFinal(ctx)
	if err != nil {
		m.teardown(client, domain.SessionStateError)
		m.emitter.Emit(domain.Event{Kind: domain.EventError, Err: err.Error(), Timestamp: time.Now()})
		return domain.RecognitionResult{}, err
	}

	endedAt := time.Now()
	if m.cfg.AutoSaveHistory && strings.TrimSpace(result.Text) != "" {
		m.recordHistory(ctx, domain.HistoryEntry{
			ID:         uuid.NewString(),
			Text:       result.Text,
			StartTime:  startedAt,
			EndTime:    endedAt,
			DurationMs: endedAt.Sub(startedAt).Milliseconds(),
		})
	}

	m.teardown(client, domain.SessionStateCompleted)
	return result, nil
}

// CancelSession closes the protocol client and discards all session buffers,
// returning to idle from any state.
func (m *Manager) CancelSession() {
	m.mu.Lock()
	client := m.client
	m.client = nil
	m.partials = nil
	m.final = nil
	m.startedAt = time.Time{}
	changed := m.state != domain.SessionStateIdle
	m.state = domain.SessionStateIdle
	m.mu.Unlock()

	if client != nil {
		client.Close()
		m.emitter.Emit(domain.Event{Kind: domain.EventDisconnected, Timestamp: time.Now()})
	}
	if changed {
		m.emitState(domain.SessionStateIdle)
	}
}

// handleResult is the protocol client callback. Events fire before any
// bookkeeping; soft errors never change session state.
func (m *Manager) handleResult(result domain.RecognitionResult) {
	now := time.Now()
	if result.Err != "" {
		m.emitter.Emit(domain.Event{Kind: domain.EventError, Err: result.Err, Timestamp: now})
	} else {
		r := result
		m.emitter.Emit(domain.Event{Kind: domain.EventResult, Result: &r, Timestamp: now})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil || result.Err != "" {
		return
	}
	if result.IsPartial {
		m.partials = append(m.partials, result)
	} else if m.final == nil {
		r := result
		m.final = &r
	}
}

func (m *Manager) awaitFinal(ctx context.Context) (domain.RecognitionResult, error) {
	deadline := time.Now().Add(m.cfg.FinalWait)
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		m.mu.Lock()
		final := m.final
		m.mu.Unlock()
		if final != nil {
			return *final, nil
		}
		if !time.Now().Before(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return domain.RecognitionResult{}, ctx.Err()
		case <-ticker.C:
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if n := len(m.partials); n > 0 {
		promoted := m.partials[n-1]
		promoted.IsPartial = false
		m.log.Info("promoting last partial to final after wait budget",
			zap.Duration("budget", m.cfg.FinalWait))
		return promoted, nil
	}
	return domain.RecognitionResult{}, fmt.Errorf("%w after %s", domain.ErrTimeout, m.cfg.FinalWait)
}

func (m *Manager) recordHistory(ctx context.Context, entry domain.HistoryEntry) {
	m.mu.Lock()
	m.history = append([]domain.HistoryEntry{entry}, m.history...)
	if len(m.history) > m.cfg.MaxHistorySize {
		m.history = m.history[:m.cfg.MaxHistorySize]
	}
	m.mu.Unlock()

	if m.recorder != nil {
		if err := m.recorder.Record(ctx, entry); err != nil {
			m.log.Warn("history write failed", zap.Error(err))
		}
	}
}

// teardown closes and discards the protocol client so a finished session
// never leaks a live connection.
func (m *Manager) teardown(client ports.RecognitionClient, state domain.SessionState) {
	client.Close()

	m.mu.Lock()
	if m.client == client {
		m.client = nil
	}
	m.startedAt = time.Time{}
	changed := m.state != state
	m.state = state
	m.mu.Unlock()

	m.emitter.Emit(domain.Event{Kind: domain.EventDisconnected, Timestamp: time.Now()})
	if changed {
		m.emitState(state)
	}
}

func (m *Manager) emitState(state domain.SessionState) {
	m.emitter.Emit(domain.Event{
		Kind:      domain.EventStateChange,
		State:     state,
		Timestamp: time.Now(),
	})
}
