package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Defaults carried over from the assistant's persona. Both can be overridden
// via AGENT_INSTRUCTIONS / AGENT_GREETING.
const (
	DefaultInstructions = "আপনি টিম ডিপথিঙ্কারস দ্বারা তৈরি একটি সহায়ক ভয়েস অ্যাসিস্ট্যান্ট। " +
		"আপনি বাংলা ভাষা খুব ভালোভাবে বুঝতে ও বলতে পারেন। " +
		"সবসময় বাংলা ভাষায় উত্তর দেবেন, যদি ভিন্ন ভাষায় উত্তর দিতে বিশেষভাবে বলা না হয়। " +
		"উত্তরগুলো সংক্ষিপ্ত, স্বাভাবিক ও কথোপকথনধর্মী রাখবেন।"
	DefaultGreeting = "আসসালামু আলাইকুম! আমি কীভাবে আপনাকে সাহায্য করতে পারি?"
)

// Config holds application configuration. Loaded once at startup and
// read-only afterwards.
type Config struct {
	HTTPAddress string

	LiveKitURL       string
	LiveKitAPIKey    string
	LiveKitAPISecret string
	RoomName         string
	AgentIdentity    string

	Language string

	GeminiAPIKey string
	GeminiModel  string

	STTBackend      string // "banglaspeech" or "google"
	BanglaSTTURL    string
	BanglaSTTUser   string
	BanglaSTTPass   string
	STTTimeout      time.Duration
	STTMaxRetries   int
	STTApplyFixes   bool
	GoogleSTTLocale string

	TTSBackend       string // "edge", "google" or "deepgram"
	EdgeTTSVoice     string
	EdgeTTSRate      string
	EdgeTTSVolume    string
	EdgeTTSPitch     string
	GoogleTTSVoice   string
	DeepgramKey      string
	DeepgramTTSModel string

	Instructions string
	Greeting     string
}

// Load reads environment variables and returns the Config. Missing required
// credentials are an error so the process fails fast before any room
// connection is attempted.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file loaded")
	}

	cfg := Config{
		HTTPAddress:      envOr("HTTP_ADDRESS", ":8080"),
		LiveKitURL:       os.Getenv("LIVEKIT_URL"),
		LiveKitAPIKey:    os.Getenv("LIVEKIT_API_KEY"),
		LiveKitAPISecret: os.Getenv("LIVEKIT_API_SECRET"),
		RoomName:         envOr("ROOM_NAME", "voice-assistant"),
		AgentIdentity:    envOr("AGENT_IDENTITY", "bangla-agent"),
		Language:         envOr("LANGUAGE", "bn"),
		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		GeminiModel:      envOr("GEMINI_MODEL", "gemini-2.5-flash"),
		STTBackend:       envOr("STT_BACKEND", "banglaspeech"),
		BanglaSTTURL:     os.Getenv("BANGLA_STT_URL"),
		BanglaSTTUser:    os.Getenv("BANGLA_STT_USERNAME"),
		BanglaSTTPass:    os.Getenv("BANGLA_STT_PASSWORD"),
		STTTimeout:       time.Duration(envIntOr("STT_TIMEOUT_SECONDS", 30)) * time.Second,
		STTMaxRetries:    envIntOr("STT_MAX_RETRIES", 3),
		STTApplyFixes:    envBoolOr("STT_APPLY_CORRECTION", true),
		GoogleSTTLocale:  envOr("GOOGLE_STT_LOCALE", "bn-BD"),
		TTSBackend:       envOr("TTS_BACKEND", "edge"),
		EdgeTTSVoice:     envOr("EDGE_TTS_VOICE", "bn-IN-TanishaaNeural"),
		EdgeTTSRate:      envOr("EDGE_TTS_RATE", "+0%"),
		EdgeTTSVolume:    envOr("EDGE_TTS_VOLUME", "+0%"),
		EdgeTTSPitch:     envOr("EDGE_TTS_PITCH", "+0Hz"),
		GoogleTTSVoice:   envOr("GOOGLE_TTS_VOICE", "bn-IN-Wavenet-A"),
		DeepgramKey:      os.Getenv("DEEPGRAM_API_KEY"),
		DeepgramTTSModel: os.Getenv("DEEPGRAM_TTS_MODEL"),
		Instructions:     envOr("AGENT_INSTRUCTIONS", DefaultInstructions),
		Greeting:         envOr("AGENT_GREETING", DefaultGreeting),
	}

	if cfg.LiveKitURL == "" {
		return Config{}, fmt.Errorf("LIVEKIT_URL is required")
	}
	if cfg.LiveKitAPIKey == "" || cfg.LiveKitAPISecret == "" {
		return Config{}, fmt.Errorf("LIVEKIT_API_KEY and LIVEKIT_API_SECRET are required")
	}
	if cfg.GeminiAPIKey == "" {
		return Config{}, fmt.Errorf("GEMINI_API_KEY is required")
	}
	switch cfg.STTBackend {
	case "banglaspeech":
		if cfg.BanglaSTTURL == "" {
			return Config{}, fmt.Errorf("BANGLA_STT_URL is required when STT_BACKEND=banglaspeech")
		}
	case "google":
		// Google clients pick up application default credentials themselves.
	default:
		return Config{}, fmt.Errorf("unknown STT_BACKEND %q (want banglaspeech or google)", cfg.STTBackend)
	}
	switch cfg.TTSBackend {
	case "edge", "google":
	case "deepgram":
		if cfg.DeepgramKey == "" {
			return Config{}, fmt.Errorf("DEEPGRAM_API_KEY is required when TTS_BACKEND=deepgram")
		}
	default:
		return Config{}, fmt.Errorf("unknown TTS_BACKEND %q (want edge, google or deepgram)", cfg.TTSBackend)
	}

	log.Printf("config: HTTP_ADDRESS=%s room=%s stt=%s tts=%s", cfg.HTTPAddress, cfg.RoomName, cfg.STTBackend, cfg.TTSBackend)
	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("config: invalid %s=%q, using %d", key, v, def)
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("config: invalid %s=%q, using %v", key, v, def)
		return def
	}
	return b
}
