package bootstrap

import (
	"context"
	"time"

	"go.uber.org/zap"

	"murmur/internal/asr"
	"murmur/internal/config"
	"murmur/internal/history"
	"murmur/internal/ports"
	"murmur/internal/rewrite"
	"murmur/internal/session"
)

// Services is the assembled runtime graph.
type Services struct {
	Manager  *session.Manager
	Rewriter ports.Rewriter
	History  *history.Store // nil when persistence is disabled
	Config   config.Config
}

// Build wires all runtime dependencies from resolved configuration.
func Build(ctx context.Context, cfg config.Config, log *zap.Logger) (Services, error) {
	if log == nil {
		log = zap.NewNop()
	}

	var store *history.Store
	var recorder ports.HistoryRecorder
	if cfg.Session.AutoSaveHistory && cfg.History.Path != "" {
		var err error
		store, err = history.Open(ctx, cfg.History.Path, cfg.Session.MaxHistorySize, log)
		if err != nil {
			return Services{}, err
		}
		recorder = store
	}

	asrCfg := asr.Config{
		Endpoint:       cfg.ASR.Endpoint,
		AppKey:         cfg.ASR.AppKey,
		AccessKey:      cfg.ASR.AccessKey,
		ResourceID:     cfg.ASR.ResourceID,
		UserID:         cfg.ASR.UserID,
		Model:          cfg.ASR.Model,
		EnableITN:      cfg.ASR.EnableITN,
		EnablePunc:     cfg.ASR.EnablePunc,
		EnableDDC:      cfg.ASR.EnableDDC,
		ShowUtterances: cfg.ASR.ShowUtterances,
		SampleRate:     cfg.ASR.SampleRate,
		Bits:           cfg.ASR.Bits,
		Channels:       cfg.ASR.Channels,
		FlushInterval:  time.Duration(cfg.ASR.FlushIntervalMs) * time.Millisecond,
		DialTimeout:    time.Duration(cfg.ASR.DialTimeoutMs) * time.Millisecond,
	}

	factory := func(onResult ports.ResultFunc) ports.RecognitionClient {
		return asr.NewClient(asrCfg, onResult, log)
	}

	manager := session.NewManager(factory, recorder, log, session.Config{
		AutoSaveHistory: cfg.Session.AutoSaveHistory,
		MaxHistorySize:  cfg.Session.MaxHistorySize,
		FinalWait:       time.Duration(cfg.Session.FinalWaitMs) * time.Millisecond,
		PollInterval:    time.Duration(cfg.Session.PollIntervalMs) * time.Millisecond,
	})

	rewriter := rewrite.NewClient(rewrite.Config{
		BaseURL:     cfg.Rewrite.BaseURL,
		APIKey:      cfg.Rewrite.APIKey,
		Model:       cfg.Rewrite.Model,
		Temperature: cfg.Rewrite.Temperature,
		MaxTokens:   cfg.Rewrite.MaxTokens,
		Timeout:     time.Duration(cfg.Rewrite.TimeoutMs) * time.Millisecond,
	}, log)

	return Services{Manager: manager, Rewriter: rewriter, History: store, Config: cfg}, nil
}
