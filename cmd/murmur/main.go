// Command murmur streams a raw PCM file (16 kHz, 16-bit, mono) through one
// recognition session and prints the transcript. It is a headless driver
// for the session core; capture and UI belong to the embedding application.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"murmur/internal/bootstrap"
	"murmur/internal/config"
	"murmur/internal/domain"
)

// 100ms of audio at 16 kHz, 16-bit, mono.
const chunkSize = 3200

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	inputPath := flag.String("input", "-", "raw PCM input file, or - for stdin")
	polish := flag.Bool("rewrite", false, "polish the final transcript through the rewrite service")
	flag.Parse()

	_ = godotenv.Load()

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "init logger:", err)
		os.Exit(1)
	}
	if err := run(*configPath, *inputPath, *polish, log); err != nil {
		log.Error("session failed", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	_ = log.Sync()
}

func run(configPath, inputPath string, polish bool, log *zap.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	services, err := bootstrap.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	if services.History != nil {
		defer services.History.Close()
	}

	manager := services.Manager
	manager.On(domain.EventResult, func(event domain.Event) {
		if event.Result != nil && event.Result.IsPartial {
			fmt.Fprintf(os.Stderr, "\r%s", event.Result.Text)
		}
	})
	manager.On(domain.EventError, func(event domain.Event) {
		log.Warn("recognition error", zap.String("detail", event.Err))
	})

	input, err := openInput(inputPath)
	if err != nil {
		return err
	}
	defer input.Close()

	if err := manager.StartSession(ctx); err != nil {
		return err
	}
	defer manager.CancelSession()

	if err := streamAudio(ctx, manager.SendAudio, input); err != nil {
		return err
	}

	result, err := manager.StopSession(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr)

	text := result.Text
	if polish {
		rewritten := services.Rewriter.Rewrite(ctx, text)
		if !rewritten.Success {
			log.Warn("rewrite degraded", zap.String("detail", rewritten.Err))
		}
		text = rewritten.Polished
	}

	fmt.Println(text)
	return nil
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

// streamAudio feeds the session at real-time pacing so the flush timer
// batches chunks the way it would during live capture.
func streamAudio(ctx context.Context, send func([]byte) error, input io.Reader) error {
	buf := make([]byte, chunkSize)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		n, err := io.ReadFull(input, buf)
		if n > 0 {
			if sendErr := send(buf[:n]); sendErr != nil {
				return sendErr
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
