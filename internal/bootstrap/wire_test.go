package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"murmur/internal/config"
	"murmur/internal/domain"
)

func TestBuildWithoutPersistence(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.Session.AutoSaveHistory = false

	services, err := Build(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if services.Manager == nil || services.Rewriter == nil {
		t.Fatalf("incomplete service graph: %+v", services)
	}
	if services.History != nil {
		t.Fatalf("history store built with persistence disabled")
	}
	if state := services.Manager.State(); state != domain.SessionStateIdle {
		t.Fatalf("fresh manager state = %s, want idle", state)
	}
}

func TestBuildWithPersistence(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.Session.AutoSaveHistory = true
	cfg.History.Path = filepath.Join(t.TempDir(), "history.db")

	services, err := Build(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if services.History == nil {
		t.Fatalf("expected history store")
	}
	defer services.History.Close()
}

func TestBuildFailsOnUnwritableHistoryPath(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.Session.AutoSaveHistory = true
	cfg.History.Path = filepath.Join(t.TempDir(), "file-as-dir")

	// Occupy the parent path with a plain file so the store cannot open.
	if err := writeFile(cfg.History.Path); err != nil {
		t.Fatalf("prepare blocker: %v", err)
	}
	cfg.History.Path = filepath.Join(cfg.History.Path, "history.db")

	if _, err := Build(context.Background(), cfg, zap.NewNop()); err == nil {
		t.Fatalf("expected build error for unusable history path")
	}
}

func writeFile(path string) error {
	return os.WriteFile(path, []byte("blocker"), 0o600)
}
