package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sahilaf/Bangla-Voice-Assistant/internal/agent"
	"github.com/sahilaf/Bangla-Voice-Assistant/internal/config"
	"github.com/sahilaf/Bangla-Voice-Assistant/internal/httpserver"
	"github.com/sahilaf/Bangla-Voice-Assistant/internal/listen"
	"github.com/sahilaf/Bangla-Voice-Assistant/internal/llm"
	"github.com/sahilaf/Bangla-Voice-Assistant/internal/room"
	"github.com/sahilaf/Bangla-Voice-Assistant/internal/stt"
	"github.com/sahilaf/Bangla-Voice-Assistant/internal/tts"
)

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recognizer, err := newRecognizer(ctx, cfg)
	if err != nil {
		log.Fatalf("stt: %v", err)
	}
	defer recognizer.Close()

	llmClient, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.Instructions)
	if err != nil {
		log.Fatalf("llm: %v", err)
	}
	defer llmClient.Close()

	ttsClient, err := newSpeaker(ctx, cfg)
	if err != nil {
		log.Fatalf("tts: %v", err)
	}

	segmenter := listen.NewSegmenter(listen.DefaultConfig())

	rm, err := room.Connect(room.Options{
		URL:       cfg.LiveKitURL,
		APIKey:    cfg.LiveKitAPIKey,
		APISecret: cfg.LiveKitAPISecret,
		RoomName:  cfg.RoomName,
		Identity:  cfg.AgentIdentity,
	}, segmenter.FeedPCM16KLE)
	if err != nil {
		log.Fatalf("room: %v", err)
	}
	defer rm.Close()

	sess := agent.NewSession(segmenter, recognizer, llmClient, ttsClient, rm.Writer(),
		func(text string) { log.Printf("user: %s", text) },
		func(turn agent.Turn) {
			log.Printf("assistant spoke (%s): %s", turn.FinishedAt.Sub(turn.StartedAt).Round(time.Millisecond), turn.AssistantSpoken)
		},
	)
	stop, err := sess.Start(ctx)
	if err != nil {
		log.Fatalf("session: %v", err)
	}
	defer stop()

	srv := httpserver.New(agentStatus{sess: sess, rm: rm})
	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("http listening on %s", cfg.HTTPAddress)
		serverErrors <- srv.Start(cfg.HTTPAddress)
	}()

	// Greet once the track is live.
	go sess.Say(ctx, cfg.Greeting)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	case <-rm.Closed():
		log.Printf("room connection lost, shutting down")
	case sig := <-sigChan:
		log.Printf("shutdown signal received: %v", sig)
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}

// agentStatus merges session stats with room connectivity for /status.
type agentStatus struct {
	sess *agent.Session
	rm   *room.Room
}

func (s agentStatus) Stats() agent.Snapshot {
	snap := s.sess.Stats()
	select {
	case <-s.rm.Closed():
	default:
		snap.Connected = true
	}
	return snap
}

func newRecognizer(ctx context.Context, cfg config.Config) (stt.Recognizer, error) {
	switch cfg.STTBackend {
	case "google":
		return stt.NewGoogleRecognizer(ctx, cfg.GoogleSTTLocale)
	default:
		return stt.NewBanglaSpeechClient(stt.BanglaSpeechOptions{
			BaseURL:         cfg.BanglaSTTURL,
			Username:        cfg.BanglaSTTUser,
			Password:        cfg.BanglaSTTPass,
			Timeout:         cfg.STTTimeout,
			MaxRetries:      cfg.STTMaxRetries,
			ApplyCorrection: cfg.STTApplyFixes,
		})
	}
}

func newSpeaker(ctx context.Context, cfg config.Config) (agent.TTS, error) {
	switch cfg.TTSBackend {
	case "google":
		return tts.NewGoogleClient(ctx, cfg.GoogleTTSVoice)
	case "deepgram":
		return tts.NewDeepgramClient(cfg.DeepgramKey, cfg.DeepgramTTSModel), nil
	default:
		return tts.NewEdgeClient(cfg.EdgeTTSVoice, cfg.EdgeTTSRate, cfg.EdgeTTSVolume, cfg.EdgeTTSPitch), nil
	}
}
