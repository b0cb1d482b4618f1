// Command verba runs the conversational robot: it listens continuously on
// the microphone, segments speech, and answers out loud, switching between
// API-backed and fully local stages as connectivity comes and goes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/voxbotics/verba/internal/config"
	"github.com/voxbotics/verba/internal/log"
	"github.com/voxbotics/verba/pkg/audioio"
	"github.com/voxbotics/verba/pkg/connectivity"
	"github.com/voxbotics/verba/pkg/decision"
	"github.com/voxbotics/verba/pkg/dialog"
	"github.com/voxbotics/verba/pkg/llm"
	"github.com/voxbotics/verba/pkg/mode"
	"github.com/voxbotics/verba/pkg/pipeline"
	"github.com/voxbotics/verba/pkg/segment"
	"github.com/voxbotics/verba/pkg/stt"
	"github.com/voxbotics/verba/pkg/tts"
	"github.com/voxbotics/verba/pkg/vad"
	"github.com/voxbotics/verba/pkg/web"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	metricsAddr := flag.String("metrics", ":9090", "Prometheus metrics address (empty to disable)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log.Init(cfg.LogLevel)
	logger := log.Component("main")

	secrets, err := config.LoadSecrets()
	if err != nil {
		logger.Error("loading secrets", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if secrets.OpenAIAPIKey == "" {
		logger.Error("OPENAI_API_KEY is required for the online stages")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, secrets, *metricsAddr, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("pipeline stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, secrets config.Secrets, metricsAddr string, logger *slog.Logger) error {
	source, err := audioio.NewSource(cfg.Audio, log.Component("capture"))
	if err != nil {
		return fmt.Errorf("audio source: %w", err)
	}
	if _, ok := source.(*audioio.RemoteSource); ok && !cfg.Web.Enabled {
		source.Close()
		return fmt.Errorf("audio backend %q needs the dashboard enabled for its websocket ingress", cfg.Audio.Backend)
	}
	sink, err := audioio.NewSink(cfg.Audio, log.Component("playback"))
	if err != nil {
		source.Close()
		return fmt.Errorf("audio sink: %w", err)
	}

	online, err := buildOnlineBinding(cfg, secrets.OpenAIAPIKey)
	if err != nil {
		return fmt.Errorf("online backends: %w", err)
	}
	offline, err := buildOfflineBinding(cfg)
	if err != nil {
		online.Close()
		return fmt.Errorf("offline backends: %w", err)
	}

	modes := mode.NewController(online.Binding, offline.Binding,
		mode.WithLogger(log.L()),
	)
	defer modes.Close()

	// The decision gate always runs on the local model so a flaky network
	// never delays the respond/ignore call.
	gate := decision.NewModelGate(cfg.Decision, offline.Binding.Responder, log.L())

	history := dialog.NewHistory(cfg.Conversation.MaxHistory)
	monitor := connectivity.NewMonitor(cfg.Connectivity, log.L())

	opts := []pipeline.Option{
		pipeline.WithMonitor(monitor),
		pipeline.WithLogger(log.L()),
	}

	var dashboard *web.Server
	if cfg.Web.Enabled {
		var webOpts []web.ServerOption
		if remote, ok := source.(*audioio.RemoteSource); ok {
			// The network mic streams opus packets over the dashboard
			// websocket; the dashboard is its only way in.
			webOpts = append(webOpts, web.WithAudioIngress(remote.IngestOpus))
		}
		dashboard = web.NewServer(cfg.Web.Addr, history, log.L(), webOpts...)
		opts = append(opts, pipeline.WithCallbacks(dashboard.Callbacks()))
	}

	orch := pipeline.New(
		pipeline.Config{
			SystemPrompt:   cfg.Conversation.SystemPrompt,
			Apology:        cfg.Conversation.Apology,
			MaxReplyTokens: cfg.Conversation.MaxReplyTokens,
			Temperature:    cfg.Conversation.Temperature,
			SessionTimeout: cfg.Conversation.SessionTimeout,
		},
		source, sink,
		vad.New(cfg.VAD, log.L()),
		segment.NewSegmenter(cfg.Segment, log.L()),
		modes, gate, history,
		opts...,
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return orch.Run(ctx) })

	if dashboard != nil {
		g.Go(func() error { return dashboard.Start() })
		g.Go(func() error {
			<-ctx.Done()
			return dashboard.Shutdown()
		})
		logger.Info("dashboard listening", "addr", cfg.Web.Addr)
	}

	if metricsAddr != "" {
		g.Go(func() error { return serveMetrics(ctx, metricsAddr) })
		logger.Info("metrics listening", "addr", metricsAddr)
	}

	logger.Info("verba is listening")
	return g.Wait()
}

// stageBinding bundles a mode binding with a Close that tears down all
// backends if later setup fails.
type stageBinding struct {
	Binding mode.Binding
}

func (b stageBinding) Close() {
	if b.Binding.Transcriber != nil {
		b.Binding.Transcriber.Close()
	}
	if b.Binding.Responder != nil {
		b.Binding.Responder.Close()
	}
	if b.Binding.Synthesizer != nil {
		b.Binding.Synthesizer.Close()
	}
}

func buildOnlineBinding(cfg config.Config, apiKey string) (stageBinding, error) {
	transcriber, err := stt.NewOpenAI(apiKey,
		stt.WithOpenAIModel(cfg.Online.TranscribeModel),
	)
	if err != nil {
		return stageBinding{}, err
	}

	responder, err := llm.NewOpenAI(apiKey,
		llm.WithOpenAIModel(cfg.Online.ChatModel),
	)
	if err != nil {
		transcriber.Close()
		return stageBinding{}, err
	}

	// Online speech falls back to the local Piper server before giving up,
	// so a TTS-only API outage does not silence the robot.
	apiTTS, err := tts.NewOpenAI(apiKey,
		tts.WithOpenAIModel(cfg.Online.TTSModel),
		tts.WithOpenAIVoice(cfg.Online.TTSVoice),
	)
	if err != nil {
		transcriber.Close()
		responder.Close()
		return stageBinding{}, err
	}
	localTTS, err := tts.NewPiper(cfg.Offline.PiperURL)
	if err != nil {
		transcriber.Close()
		responder.Close()
		apiTTS.Close()
		return stageBinding{}, err
	}
	chain, err := tts.NewChain(apiTTS, localTTS)
	if err != nil {
		transcriber.Close()
		responder.Close()
		apiTTS.Close()
		localTTS.Close()
		return stageBinding{}, err
	}

	return stageBinding{Binding: mode.Binding{
		Transcriber: transcriber,
		Responder:   responder,
		Synthesizer: chain,
	}}, nil
}

func buildOfflineBinding(cfg config.Config) (stageBinding, error) {
	transcriber, err := stt.NewWhisper(cfg.Offline.WhisperModel)
	if err != nil {
		return stageBinding{}, err
	}

	var llmOpts []anyllmlib.Option
	if cfg.Offline.LLMBaseURL != "" {
		llmOpts = append(llmOpts, anyllmlib.WithBaseURL(cfg.Offline.LLMBaseURL))
	}
	responder, err := llm.NewAnyLLM(cfg.Offline.LLMProvider, cfg.Offline.LLMModel, llmOpts...)
	if err != nil {
		transcriber.Close()
		return stageBinding{}, err
	}

	synthesizer, err := tts.NewPiper(cfg.Offline.PiperURL)
	if err != nil {
		transcriber.Close()
		responder.Close()
		return stageBinding{}, err
	}

	return stageBinding{Binding: mode.Binding{
		Transcriber: transcriber,
		Responder:   responder,
		Synthesizer: synthesizer,
	}}, nil
}

func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
