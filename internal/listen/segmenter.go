package listen

import (
	"encoding/binary"
	"log"
	"math"
	"sync"
	"time"
)

// Config holds the segmentation thresholds. Times are conservative so the
// user is not cut mid-sentence.
type Config struct {
	SampleRate int // PCM16LE mono input rate, 16000 typical

	// VoiceRMS is the RMS energy above which a 10ms frame counts as voiced.
	VoiceRMS float64
	// SilenceThreshold is the inactivity window that ends an utterance.
	SilenceThreshold time.Duration
	// MinVoicedDuration discards blips shorter than this (clicks, breaths).
	MinVoicedDuration time.Duration
	// MaxUtterance force-finalizes an utterance that never goes silent.
	MaxUtterance time.Duration
	// PreRoll is retained before voice onset so the first syllable survives.
	PreRoll time.Duration
}

// DefaultConfig mirrors the thresholds tuned for headset WebRTC capture.
func DefaultConfig() Config {
	return Config{
		SampleRate:        16000,
		VoiceRMS:          250.0,
		SilenceThreshold:  700 * time.Millisecond,
		MinVoicedDuration: 200 * time.Millisecond,
		MaxUtterance:      30 * time.Second,
		PreRoll:           300 * time.Millisecond,
	}
}

// Segmenter turns a continuous 16kHz PCM stream into discrete utterances.
// It runs a per-frame RMS voice activity check and finalizes an utterance
// after SilenceThreshold of inactivity, emitting the captured PCM (including
// pre-roll) on Utterances.
type Segmenter struct {
	cfg Config

	mu            sync.Mutex
	capturing     bool
	voicedDur     time.Duration
	silentDur     time.Duration
	captureDur    time.Duration
	lastVoiceTime time.Time
	buf           []byte
	preRoll       *ring
	closed        bool
	// silenceTimer finalizes a pending capture even when the remote track
	// stops delivering frames (e.g. the participant mutes mid-utterance).
	silenceTimer *time.Timer

	utterances chan []byte
}

// NewSegmenter constructs a Segmenter with the given thresholds.
func NewSegmenter(cfg Config) *Segmenter {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.VoiceRMS == 0 {
		cfg.VoiceRMS = 250.0
	}
	if cfg.SilenceThreshold == 0 {
		cfg.SilenceThreshold = 700 * time.Millisecond
	}
	return &Segmenter{
		cfg:        cfg,
		preRoll:    newRing(int(cfg.PreRoll/time.Millisecond) * cfg.SampleRate / 1000 * 2),
		utterances: make(chan []byte, 4),
	}
}

// Utterances emits finalized utterance PCM (16kHz 16-bit LE mono).
func (s *Segmenter) Utterances() <-chan []byte { return s.utterances }

// FeedPCM16KLE consumes captured audio. It segments into 10ms frames and
// advances the voice state machine per frame.
func (s *Segmenter) FeedPCM16KLE(pcm []byte) {
	frameBytes := s.cfg.SampleRate / 100 * 2
	for off := 0; off+frameBytes <= len(pcm); off += frameBytes {
		s.onFrame(pcm[off : off+frameBytes])
	}
}

func (s *Segmenter) onFrame(frame []byte) {
	voiced := frameRMS(frame) >= s.cfg.VoiceRMS
	now := time.Now()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if voiced {
		s.lastVoiceTime = now
		if s.silenceTimer == nil {
			s.silenceTimer = time.AfterFunc(s.cfg.SilenceThreshold, s.finalizeDueToSilence)
		} else {
			s.silenceTimer.Stop()
			s.silenceTimer.Reset(s.cfg.SilenceThreshold)
		}
	}

	if !s.capturing {
		if !voiced {
			s.preRoll.Write(frame)
			s.mu.Unlock()
			return
		}
		s.capturing = true
		s.captureDur = 0
		s.voicedDur = 0
		s.silentDur = 0
		s.buf = append(s.buf[:0], s.preRoll.Snapshot()...)
	}

	s.buf = append(s.buf, frame...)
	s.captureDur += 10 * time.Millisecond
	if voiced {
		s.voicedDur += 10 * time.Millisecond
		s.silentDur = 0
	} else {
		s.silentDur += 10 * time.Millisecond
	}

	// Silence is measured in audio time so a backlogged stream still
	// finalizes at the right point in the recording.
	tooLong := s.cfg.MaxUtterance > 0 && s.captureDur >= s.cfg.MaxUtterance
	if s.silentDur >= s.cfg.SilenceThreshold || tooLong {
		s.finalizeLocked()
	}
	s.mu.Unlock()
}

// finalizeLocked emits the buffered utterance if it carried enough voice.
// Callers hold s.mu.
func (s *Segmenter) finalizeLocked() {
	utt := s.buf
	voiced := s.voicedDur
	s.buf = nil
	s.capturing = false
	s.preRoll.Reset()
	if voiced < s.cfg.MinVoicedDuration {
		return
	}
	out := make([]byte, len(utt))
	copy(out, utt)
	select {
	case s.utterances <- out:
	default:
		log.Println("segmenter: utterance queue full, dropping")
	}
}

// finalizeDueToSilence fires after SilenceThreshold without voice. The frame
// path usually finalizes first; this catches a capture whose input stream
// went quiet entirely.
func (s *Segmenter) finalizeDueToSilence() {
	s.mu.Lock()
	if !s.closed && s.capturing && time.Since(s.lastVoiceTime) >= s.cfg.SilenceThreshold {
		s.finalizeLocked()
	}
	s.mu.Unlock()
}

// RecentlyDetectedVoice reports whether voice energy was seen within the
// given window. Used by the barge-in monitor.
func (s *Segmenter) RecentlyDetectedVoice(window time.Duration) bool {
	s.mu.Lock()
	last := s.lastVoiceTime
	s.mu.Unlock()
	if last.IsZero() {
		return false
	}
	return time.Since(last) <= window
}

// Reset drops any partial capture without emitting it.
func (s *Segmenter) Reset() {
	s.mu.Lock()
	s.buf = nil
	s.capturing = false
	s.voicedDur = 0
	s.preRoll.Reset()
	s.mu.Unlock()
}

// Close finalizes any pending utterance and closes the output channel.
func (s *Segmenter) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	if s.silenceTimer != nil {
		s.silenceTimer.Stop()
		s.silenceTimer = nil
	}
	if s.capturing {
		s.finalizeLocked()
	}
	s.closed = true
	close(s.utterances)
	s.mu.Unlock()
	return nil
}

func frameRMS(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}
	var sumSquares float64
	count := 0
	for i := 0; i+1 < len(pcm); i += 2 {
		v := int16(binary.LittleEndian.Uint16(pcm[i : i+2]))
		sumSquares += float64(v) * float64(v)
		count++
	}
	if count == 0 {
		return 0
	}
	return math.Sqrt(sumSquares / float64(count))
}

// ring is a fixed-capacity byte ring holding the most recent PCM.
type ring struct {
	buf      []byte
	writePos int
	filled   bool
}

func newRing(capacity int) *ring {
	if capacity < 2 {
		capacity = 2
	}
	return &ring{buf: make([]byte, capacity)}
}

func (r *ring) Write(p []byte) {
	for _, b := range p {
		r.buf[r.writePos] = b
		r.writePos++
		if r.writePos == len(r.buf) {
			r.writePos = 0
			r.filled = true
		}
	}
}

// Snapshot returns the buffered bytes oldest-first.
func (r *ring) Snapshot() []byte {
	if !r.filled {
		out := make([]byte, r.writePos)
		copy(out, r.buf[:r.writePos])
		return out
	}
	out := make([]byte, len(r.buf))
	n := copy(out, r.buf[r.writePos:])
	copy(out[n:], r.buf[:r.writePos])
	return out
}

func (r *ring) Reset() {
	r.writePos = 0
	r.filled = false
}
