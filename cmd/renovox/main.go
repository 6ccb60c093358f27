package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/antoniostano/renovox/internal/config"
	"github.com/antoniostano/renovox/internal/httpapi"
	"github.com/antoniostano/renovox/internal/observability"
	"github.com/antoniostano/renovox/internal/policy"
	"github.com/antoniostano/renovox/internal/provider"
	"github.com/antoniostano/renovox/internal/session"
	"github.com/antoniostano/renovox/internal/voice"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	latency := observability.NewLatencyWindow(0)

	var (
		stt provider.STT
		llm provider.LLM
		tts provider.TTS
		mod provider.Moderation
	)

	if cfg.UseMock() {
		mock := provider.NewMock()
		stt, llm, tts, mod = mock, mock, mock, mock
		log.Printf("providers: mock")
	} else {
		opts := []provider.OpenAIOption{
			provider.WithChatModel(cfg.LLMModel),
			provider.WithSTTModel(cfg.STTModel),
			provider.WithTTSModel(cfg.TTSModel),
		}
		if cfg.OpenAIBase != "" {
			opts = append(opts, provider.WithBaseURL(cfg.OpenAIBase))
		}
		oa, err := provider.NewOpenAI(cfg.OpenAIAPIKey, opts...)
		if err != nil {
			log.Fatalf("openai provider init failed: %v", err)
		}
		retry := provider.DefaultRetryPolicy()
		stt = provider.RetryingSTT{Next: oa, Policy: retry}
		llm = provider.RetryingLLM{Next: oa, Policy: retry}
		tts = provider.RetryingTTS{Next: oa, Policy: retry}
		mod = provider.RetryingModeration{Next: oa, Policy: retry}
		log.Printf("providers: openai (chat=%s stt=%s tts=%s)", cfg.LLMModel, cfg.STTModel, cfg.TTSModel)
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout, cfg.TTSVoiceBob, cfg.TTSVoiceAlice)
	sessions.SetExpireHook(func(info session.Info) {
		log.Printf("session=%s expired after inactivity", info.ID)
	})

	pipeline := &voice.Pipeline{
		STT:             stt,
		LLM:             llm,
		TTS:             tts,
		Guard:           policy.NewGuardrail(cfg.GuardrailEnabled, mod),
		Metrics:         metrics,
		Latency:         latency,
		Logger:          log.Default(),
		MaxTokens:       cfg.LLMMaxTokens,
		Temperature:     cfg.LLMTemperature,
		MinSpeech:       cfg.MinSpeech,
		SpeechThreshold: cfg.VADSpeechThreshold,
	}

	orchestrator := &voice.Orchestrator{
		Pipeline:      pipeline,
		Sessions:      sessions,
		RTC:           voice.NoopRTC{},
		SampleRate:    cfg.STTSampleRate,
		SilenceWindow: cfg.VADSilence,
	}

	api := httpapi.New(cfg, sessions, orchestrator, metrics, latency)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, 5*time.Second)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
