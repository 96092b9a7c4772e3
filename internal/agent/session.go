package agent

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"
)

const (
	recognizeTimeout = 30 * time.Second
	generateTimeout  = 20 * time.Second
	synthesizeBudget = 45 * time.Second

	// bargePollInterval is how often voice activity is sampled while the
	// assistant is speaking; bargeVoiceWindow is how fresh detected voice
	// must be to count as an interruption.
	bargePollInterval = 40 * time.Millisecond
	bargeVoiceWindow  = 150 * time.Millisecond
)

// chunkReply splits an assistant reply into sentence-like chunks so spoken
// transcript increments are committed only after the corresponding audio is
// emitted. Splits on '.', '?', '!', the Bangla danda '।' and newlines,
// retaining punctuation.
func chunkReply(reply string) []string {
	txt := strings.TrimSpace(reply)
	if txt == "" {
		return nil
	}
	var chunks []string
	var b strings.Builder
	for _, r := range txt {
		switch r {
		case '.', '!', '?', '।':
			b.WriteRune(r)
			chunk := strings.TrimSpace(b.String())
			if chunk != "" {
				chunks = append(chunks, chunk)
			}
			b.Reset()
		case '\n', '\r':
			chunk := strings.TrimSpace(b.String())
			if chunk != "" {
				chunks = append(chunks, chunk)
			}
			b.Reset()
		default:
			b.WriteRune(r)
		}
	}
	tail := strings.TrimSpace(b.String())
	if tail != "" {
		chunks = append(chunks, tail)
	}
	return chunks
}

// Session orchestrates listen -> STT -> LLM -> TTS for a single room
// conversation. The turn loop goroutine owns all turn state; there is at
// most one synthesis in flight at any time.
type Session struct {
	listener   Listener
	recognizer Recognizer
	llm        LLM
	tts        TTS
	sink       PCM48kSink
	// onTranscript receives each finalized user transcript as soon as
	// recognition completes (optional).
	onTranscript func(text string)
	// onTurn is invoked when an exchange completes. The assistant text is
	// exactly what was spoken to the user (possibly truncated).
	onTurn func(turn Turn)

	// speakMu serializes syntheses: the greeting path and the turn loop
	// both reach speak, and only one stream may be active at a time.
	speakMu sync.Mutex

	mu               sync.Mutex
	speaking         bool
	ttsCancel        context.CancelFunc
	bargeInRequested bool
	turnCount        int

	// conversation history: alternating [USER]/[ASSISTANT] turns
	history []convTurn
}

type convTurn struct {
	Role string // "USER" or "ASSISTANT"
	Text string
}

// NewSession constructs a Session. Callbacks may be nil.
func NewSession(l Listener, r Recognizer, llm LLM, tts TTS, sink PCM48kSink, onTranscript func(string), onTurn func(Turn)) *Session {
	if sink == nil {
		sink = nopSink{}
	}
	return &Session{
		listener:     l,
		recognizer:   r,
		llm:          llm,
		tts:          tts,
		sink:         sink,
		onTranscript: onTranscript,
		onTurn:       onTurn,
	}
}

// buildConversationPrompt formats all previous turns plus the latest user
// text with [USER]/[ASSISTANT] labels; the last message is always [USER].
func (s *Session) buildConversationPrompt(latestUser string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b strings.Builder
	for _, t := range s.history {
		b.WriteString("[")
		b.WriteString(t.Role)
		b.WriteString("] ")
		b.WriteString(t.Text)
		b.WriteString("\n")
	}
	b.WriteString("[USER] ")
	b.WriteString(latestUser)
	return b.String()
}

func (s *Session) appendExchange(user, assistant string) {
	s.mu.Lock()
	if user != "" {
		s.history = append(s.history, convTurn{Role: "USER", Text: user})
	}
	if assistant != "" {
		s.history = append(s.history, convTurn{Role: "ASSISTANT", Text: assistant})
	}
	s.mu.Unlock()
}

// Start launches the turn loop and the barge-in monitor. It returns a stop
// function that closes the listener.
func (s *Session) Start(ctx context.Context) (func(), error) {
	go s.turnLoop(ctx)
	go s.bargeMonitor(ctx)
	stop := func() {
		// Drop any partial capture so teardown does not emit a stray
		// final utterance.
		s.listener.Reset()
		_ = s.listener.Close()
	}
	return stop, nil
}

func (s *Session) turnLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case utterance, ok := <-s.listener.Utterances():
			if !ok {
				return
			}
			s.handleUtterance(ctx, utterance)
		}
	}
}

// handleUtterance runs one turn: recognize, generate, speak. Any provider
// error abandons the turn and the loop resumes listening.
func (s *Session) handleUtterance(ctx context.Context, utterance []byte) {
	started := time.Now()

	ctxSTT, cancelSTT := context.WithTimeout(ctx, recognizeTimeout)
	text, err := s.recognizer.Recognize(ctxSTT, utterance)
	cancelSTT()
	if err != nil {
		log.Printf("stt error, turn abandoned: %v", err)
		return
	}
	prompt := strings.TrimSpace(text)
	if prompt == "" {
		return
	}
	log.Printf("heard(final): %s", prompt)
	if s.onTranscript != nil {
		s.onTranscript(prompt)
	}

	// Before the assistant speaks, require a short window of silence so it
	// does not talk over the user resuming their sentence.
	waitCtx, waitCancel := context.WithTimeout(ctx, 3*time.Second)
	for waitCtx.Err() == nil {
		if !s.listener.RecentlyDetectedVoice(500 * time.Millisecond) {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	waitCancel()

	convo := s.buildConversationPrompt(prompt)
	ctxLLM, cancelLLM := context.WithTimeout(ctx, generateTimeout)
	reply, err := s.llm.Generate(ctxLLM, convo)
	cancelLLM()
	if err != nil {
		log.Printf("llm error, turn abandoned: %v", err)
		return
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return
	}

	// Full reply goes into history so the model keeps its own context even
	// when the user cuts playback short.
	s.appendExchange(prompt, reply)

	spoken, interrupted := s.speak(ctx, reply)
	if interrupted {
		if spoken != "" {
			spoken += " [INTERRUPTED BY USER]"
		} else {
			spoken = "[INTERRUPTED BY USER]"
		}
	}

	s.mu.Lock()
	s.turnCount++
	s.mu.Unlock()
	if s.onTurn != nil {
		s.onTurn(Turn{User: prompt, AssistantSpoken: spoken, StartedAt: started, FinishedAt: time.Now()})
	}
}

// Say speaks a fixed line (e.g. the greeting) through the normal speaking
// path, interruptions allowed. The line is recorded as an assistant turn.
func (s *Session) Say(ctx context.Context, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.appendExchange("", text)
	spoken, interrupted := s.speak(ctx, text)
	if interrupted {
		log.Printf("say interrupted after: %s", spoken)
	}
}

// speak streams the reply chunk by chunk and returns the text actually
// delivered and whether a barge-in cut it short. Synthesis runs under a
// budget so a hung provider can never wedge the session.
func (s *Session) speak(ctx context.Context, reply string) (spokenText string, interrupted bool) {
	s.speakMu.Lock()
	defer s.speakMu.Unlock()

	ctxTTS, cancelTTS := context.WithTimeout(ctx, synthesizeBudget)
	s.mu.Lock()
	s.speaking = true
	s.ttsCancel = cancelTTS
	s.bargeInRequested = false
	s.mu.Unlock()

	var spokenBuilder strings.Builder
	chunks := chunkReply(reply)
CHUNK_LOOP:
	for i, chunk := range chunks {
		s.mu.Lock()
		barged := s.bargeInRequested
		s.mu.Unlock()
		if barged {
			break CHUNK_LOOP
		}

		pcmCh, errCh := s.tts.StreamPCM48k(ctxTTS, chunk)
		openPCM, openErr := true, true
		for openPCM || openErr {
			select {
			case b, ok := <-pcmCh:
				if ok {
					if len(b) > 0 {
						s.mu.Lock()
						drop := s.bargeInRequested
						s.mu.Unlock()
						if !drop {
							s.sink.WritePCM(b)
						}
					}
				} else {
					openPCM = false
				}
			case e, ok := <-errCh:
				if ok && e != nil {
					log.Printf("tts stream error: %v", e)
				}
				openErr = false
			case <-ctxTTS.Done():
				openPCM, openErr = false, false
			}
		}
		if ctxTTS.Err() != nil {
			break CHUNK_LOOP
		}

		s.mu.Lock()
		barged = s.bargeInRequested
		s.mu.Unlock()
		if barged {
			break CHUNK_LOOP
		}
		spokenBuilder.WriteString(strings.TrimSpace(chunk))
		if i < len(chunks)-1 {
			spokenBuilder.WriteString(" ")
		}
	}

	s.mu.Lock()
	wasBarged := s.bargeInRequested
	s.speaking = false
	s.ttsCancel = nil
	s.bargeInRequested = false
	s.mu.Unlock()
	cancelTTS()
	if !wasBarged {
		s.sink.FlushTail()
	}

	return strings.TrimSpace(spokenBuilder.String()), wasBarged
}

// bargeMonitor polls voice activity while the assistant speaks and cancels
// playback as soon as the user talks over it.
func (s *Session) bargeMonitor(ctx context.Context) {
	ticker := time.NewTicker(bargePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.IsSpeaking() && s.listener.RecentlyDetectedVoice(bargeVoiceWindow) {
				log.Printf("barge-in: canceling synthesis")
				s.BargeIn()
			}
		}
	}
}

// FeedPCM16KLE sends input audio to the listener.
func (s *Session) FeedPCM16KLE(pcm []byte) {
	s.listener.FeedPCM16KLE(pcm)
}

type nopSink struct{}

func (nopSink) WritePCM(_ []byte) {}
func (nopSink) FlushTail()        {}
func (nopSink) Reset()            {}

// IsSpeaking reports whether TTS is currently active for this session.
func (s *Session) IsSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// Stats returns a snapshot for the status endpoint.
func (s *Session) Stats() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Speaking: s.speaking, Turns: s.turnCount}
}

// BargeIn cancels current TTS streaming and prevents further audio from
// being written to the sink.
func (s *Session) BargeIn() {
	s.mu.Lock()
	cancel := s.ttsCancel
	if s.speaking {
		s.bargeInRequested = true
	}
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	// Drop any queued audio immediately so interruption feels instant.
	s.sink.Reset()
}
