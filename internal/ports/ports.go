package ports

import (
	"context"

	"murmur/internal/domain"
)

// ResultFunc receives recognition results and soft protocol errors from a
// live connection.
type ResultFunc func(domain.RecognitionResult)

// RecognitionClient is one protocol connection to the recognition service.
// A client serves exactly one session and is never reused.
type RecognitionClient interface {
	Connect(ctx context.Context) error
	SendAudio(chunk []byte)
	Finish() error
	Close()
}

// ClientFactory builds a fresh RecognitionClient for each session, wired to
// the given result callback.
type ClientFactory func(onResult ResultFunc) RecognitionClient

// HistoryRecorder persists completed transcripts.
type HistoryRecorder interface {
	Record(ctx context.Context, entry domain.HistoryEntry) error
}

// Rewriter polishes final transcripts. Implementations always return usable
// text, degrading to the original on failure.
type Rewriter interface {
	Rewrite(ctx context.Context, text string) domain.RewriteResult
}
