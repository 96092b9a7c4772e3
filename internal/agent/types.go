package agent

import (
	"context"
	"time"
)

// Listener segments inbound 16kHz PCM into discrete utterances and tracks
// recent voice activity for barge-in detection.
type Listener interface {
	FeedPCM16KLE(pcm []byte)
	// Utterances emits finalized utterance PCM (16kHz 16-bit LE mono).
	Utterances() <-chan []byte
	// RecentlyDetectedVoice returns true if voice energy was seen within the given window.
	RecentlyDetectedVoice(window time.Duration) bool
	// Reset drops any partial capture (used on barge-in).
	Reset()
	Close() error
}

// Recognizer converts one utterance of 16kHz PCM into text.
type Recognizer interface {
	Recognize(ctx context.Context, pcm16k []byte) (string, error)
}

// LLM is a minimal interface to generate a single response for a prompt.
type LLM interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// TTS streams 48kHz PCM mono audio for the given text.
type TTS interface {
	StreamPCM48k(ctx context.Context, text string) (<-chan []byte, <-chan error)
}

// PCM48kSink consumes 48kHz PCM bytes and performs delivery (e.g., Opus
// encode to the room track). Implementations should buffer internally and
// pace delivery.
type PCM48kSink interface {
	WritePCM(pcm []byte)
	FlushTail()
	// Reset drops any queued frames immediately (used for barge-in).
	Reset()
}

// Turn is one finished user/assistant exchange. AssistantSpoken is exactly
// what was played to the user, possibly truncated by an interruption.
type Turn struct {
	User            string
	AssistantSpoken string
	StartedAt       time.Time
	FinishedAt      time.Time
}

// Snapshot is a point-in-time view of the session for the status surface.
// Connected is filled in by the caller that owns the room handle.
type Snapshot struct {
	Connected bool `json:"connected"`
	Speaking  bool `json:"speaking"`
	Turns     int  `json:"turns"`
}
