package agent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeListener struct {
	utterances chan []byte
	voice      atomic.Bool
	resets     int32
}

func newFakeListener() *fakeListener {
	return &fakeListener{utterances: make(chan []byte, 10)}
}

func (f *fakeListener) FeedPCM16KLE(pcm []byte) {}
func (f *fakeListener) Utterances() <-chan []byte {
	return f.utterances
}
func (f *fakeListener) RecentlyDetectedVoice(window time.Duration) bool { return f.voice.Load() }
func (f *fakeListener) Reset()                                          { atomic.AddInt32(&f.resets, 1) }
func (f *fakeListener) Close() error                                    { close(f.utterances); return nil }

type fakeRecognizer struct {
	text string
	err  error
}

func (f fakeRecognizer) Recognize(ctx context.Context, pcm []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

type fakeLLM struct {
	reply string
	err   error

	lastPrompt atomic.Value // string
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string) (string, error) {
	f.lastPrompt.Store(prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type fakeTTS struct {
	frames     int32
	chunkDelay time.Duration
	err        error
}

func (f *fakeTTS) StreamPCM48k(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcm := make(chan []byte, 10)
	errc := make(chan error, 1)
	go func() {
		defer close(pcm)
		defer close(errc)
		if f.err != nil {
			errc <- f.err
			return
		}
		for i := 0; i < 3; i++ {
			select {
			case <-ctx.Done():
				return
			default:
			}
			pcm <- []byte{1, 0, 2, 0}
			atomic.AddInt32(&f.frames, 1)
			if f.chunkDelay > 0 {
				time.Sleep(f.chunkDelay)
			}
		}
	}()
	return pcm, errc
}

type fakeSink struct {
	wrote  int32
	resets int32
}

func (s *fakeSink) WritePCM(p []byte) { atomic.AddInt32(&s.wrote, 1) }
func (s *fakeSink) FlushTail()        {}
func (s *fakeSink) Reset()            { atomic.AddInt32(&s.resets, 1) }

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

func TestSession_FullTurn(t *testing.T) {
	lst := newFakeListener()
	stt := fakeRecognizer{text: "আজকে আবহাওয়া কেমন?"}
	llm := &fakeLLM{reply: "আজকে রোদ ঝলমলে দিন।"}
	tts := &fakeTTS{}
	sink := &fakeSink{}

	var gotTranscript string
	turns := make(chan Turn, 1)
	sess := NewSession(lst, stt, llm, tts, sink,
		func(text string) { gotTranscript = text },
		func(turn Turn) { turns <- turn },
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop, err := sess.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stop()

	lst.utterances <- make([]byte, 3200)

	select {
	case turn := <-turns:
		if turn.User != "আজকে আবহাওয়া কেমন?" {
			t.Fatalf("user text: got %q", turn.User)
		}
		if turn.AssistantSpoken != "আজকে রোদ ঝলমলে দিন।" {
			t.Fatalf("spoken text: got %q", turn.AssistantSpoken)
		}
		if turn.FinishedAt.Before(turn.StartedAt) {
			t.Fatalf("turn timestamps out of order")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("turn never completed")
	}
	if gotTranscript != "আজকে আবহাওয়া কেমন?" {
		t.Fatalf("transcript callback: got %q", gotTranscript)
	}
	if atomic.LoadInt32(&sink.wrote) == 0 {
		t.Fatalf("expected audio written to sink")
	}
	if got := sess.Stats(); got.Turns != 1 || got.Speaking {
		t.Fatalf("stats: got %+v", got)
	}
}

func TestSession_HistoryCarriesAcrossTurns(t *testing.T) {
	lst := newFakeListener()
	stt := fakeRecognizer{text: "hello"}
	llm := &fakeLLM{reply: "hi there."}
	tts := &fakeTTS{}
	sink := &fakeSink{}

	turns := make(chan Turn, 2)
	sess := NewSession(lst, stt, llm, tts, sink, nil, func(turn Turn) { turns <- turn })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop, err := sess.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stop()

	lst.utterances <- make([]byte, 320)
	<-turns
	lst.utterances <- make([]byte, 320)
	<-turns

	prompt, _ := llm.lastPrompt.Load().(string)
	want := "[USER] hello\n[ASSISTANT] hi there.\n[USER] hello"
	if prompt != want {
		t.Fatalf("second prompt:\ngot  %q\nwant %q", prompt, want)
	}
}

func TestSession_BargeInTruncatesSpokenText(t *testing.T) {
	lst := newFakeListener()
	stt := fakeRecognizer{text: "hi"}
	llm := &fakeLLM{reply: "First sentence. Second sentence that never airs."}
	tts := &fakeTTS{chunkDelay: 20 * time.Millisecond}
	sink := &fakeSink{}

	turns := make(chan Turn, 1)
	sess := NewSession(lst, stt, llm, tts, sink, nil, func(turn Turn) { turns <- turn })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop, err := sess.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stop()

	lst.utterances <- make([]byte, 320)
	if !waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&tts.frames) > 0 }) {
		t.Fatalf("tts never produced audio")
	}
	sess.BargeIn()

	select {
	case turn := <-turns:
		if turn.AssistantSpoken == "First sentence. Second sentence that never airs." {
			t.Fatalf("spoken text should have been truncated, got %q", turn.AssistantSpoken)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("turn never completed")
	}
	if atomic.LoadInt32(&sink.resets) == 0 {
		t.Fatalf("expected sink reset on barge-in")
	}
	// Model context keeps the full reply even though playback was cut.
	sess.mu.Lock()
	var full bool
	for _, h := range sess.history {
		if h.Role == "ASSISTANT" && h.Text == "First sentence. Second sentence that never airs." {
			full = true
		}
	}
	sess.mu.Unlock()
	if !full {
		t.Fatalf("expected full reply in history")
	}
}

func TestSession_BargeMonitorCancelsOnVoice(t *testing.T) {
	lst := newFakeListener()
	stt := fakeRecognizer{text: "hi"}
	llm := &fakeLLM{reply: "A long reply. Spread over chunks. More still."}
	tts := &fakeTTS{chunkDelay: 30 * time.Millisecond}
	sink := &fakeSink{}

	turns := make(chan Turn, 1)
	sess := NewSession(lst, stt, llm, tts, sink, nil, func(turn Turn) { turns <- turn })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop, err := sess.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stop()

	lst.utterances <- make([]byte, 320)
	if !waitFor(t, time.Second, func() bool { return sess.IsSpeaking() }) {
		t.Fatalf("session never started speaking")
	}
	lst.voice.Store(true)

	select {
	case turn := <-turns:
		if turn.AssistantSpoken == "A long reply. Spread over chunks. More still." {
			t.Fatalf("expected truncation from barge monitor, got %q", turn.AssistantSpoken)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("turn never completed")
	}
}

func TestSession_STTErrorAbandonsTurn(t *testing.T) {
	lst := newFakeListener()
	stt := fakeRecognizer{err: errors.New("gradio unreachable")}
	llm := &fakeLLM{reply: "unused"}
	tts := &fakeTTS{}
	sink := &fakeSink{}

	sess := NewSession(lst, stt, llm, tts, sink, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop, err := sess.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stop()

	lst.utterances <- make([]byte, 320)
	time.Sleep(50 * time.Millisecond)
	if _, ok := llm.lastPrompt.Load().(string); ok {
		t.Fatalf("llm should not be called on stt failure")
	}
	if got := sess.Stats(); got.Turns != 0 {
		t.Fatalf("expected 0 completed turns, got %d", got.Turns)
	}
}

func TestSession_LLMErrorAbandonsTurn(t *testing.T) {
	lst := newFakeListener()
	stt := fakeRecognizer{text: "hi"}
	llm := &fakeLLM{err: errors.New("boom")}
	tts := &fakeTTS{}
	sink := &fakeSink{}

	sess := NewSession(lst, stt, llm, tts, sink, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop, err := sess.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stop()

	lst.utterances <- make([]byte, 320)
	time.Sleep(50 * time.Millisecond)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	for _, h := range sess.history {
		if h.Role == "ASSISTANT" {
			t.Fatalf("no assistant entry expected on llm error")
		}
	}
}

func TestSession_TTSErrorStillRecordsTurn(t *testing.T) {
	lst := newFakeListener()
	stt := fakeRecognizer{text: "hi"}
	llm := &fakeLLM{reply: "hello there."}
	tts := &fakeTTS{err: errors.New("speech backend down")}
	sink := &fakeSink{}

	turns := make(chan Turn, 1)
	sess := NewSession(lst, stt, llm, tts, sink, nil, func(turn Turn) { turns <- turn })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop, err := sess.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stop()

	lst.utterances <- make([]byte, 320)
	select {
	case <-turns:
	case <-time.After(2 * time.Second):
		t.Fatalf("turn never completed despite tts failure")
	}
}

func TestSession_SayRecordsGreeting(t *testing.T) {
	lst := newFakeListener()
	stt := fakeRecognizer{text: "hi"}
	llm := &fakeLLM{reply: "hello."}
	tts := &fakeTTS{}
	sink := &fakeSink{}

	sess := NewSession(lst, stt, llm, tts, sink, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess.Say(ctx, "আসসালামু আলাইকুম! আমি কীভাবে আপনাকে সাহায্য করতে পারি?")

	if atomic.LoadInt32(&sink.wrote) == 0 {
		t.Fatalf("expected greeting audio written")
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if len(sess.history) != 1 || sess.history[0].Role != "ASSISTANT" {
		t.Fatalf("expected single assistant history entry, got %+v", sess.history)
	}
}

// countingTTS records how many syntheses are streaming at once.
type countingTTS struct {
	active  int32
	maxSeen int32
}

func (f *countingTTS) StreamPCM48k(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcm := make(chan []byte, 10)
	errc := make(chan error, 1)
	go func() {
		defer close(pcm)
		defer close(errc)
		cur := atomic.AddInt32(&f.active, 1)
		defer atomic.AddInt32(&f.active, -1)
		for {
			old := atomic.LoadInt32(&f.maxSeen)
			if cur <= old || atomic.CompareAndSwapInt32(&f.maxSeen, old, cur) {
				break
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(60 * time.Millisecond):
		}
		pcm <- []byte{1, 0}
	}()
	return pcm, errc
}

func TestSession_GreetingAndTurnNeverSynthesizeConcurrently(t *testing.T) {
	lst := newFakeListener()
	stt := fakeRecognizer{text: "hi"}
	llm := &fakeLLM{reply: "first reply. second part."}
	tts := &countingTTS{}
	sink := &fakeSink{}

	turns := make(chan Turn, 1)
	sess := NewSession(lst, stt, llm, tts, sink, nil, func(turn Turn) { turns <- turn })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop, err := sess.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stop()

	go sess.Say(ctx, "greeting line one. greeting line two.")
	time.Sleep(30 * time.Millisecond)
	lst.utterances <- make([]byte, 320)

	select {
	case <-turns:
	case <-time.After(3 * time.Second):
		t.Fatalf("turn never completed")
	}
	if got := atomic.LoadInt32(&tts.maxSeen); got != 1 {
		t.Fatalf("expected at most one active synthesis, observed %d", got)
	}
}

func TestSession_StopResetsListener(t *testing.T) {
	lst := newFakeListener()
	sess := NewSession(lst, fakeRecognizer{text: "hi"}, &fakeLLM{reply: "ok."}, &fakeTTS{}, &fakeSink{}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop, err := sess.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	stop()
	if atomic.LoadInt32(&lst.resets) == 0 {
		t.Fatalf("expected listener reset on teardown")
	}
}

func TestChunkReply_SplitsAndTrims(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"  Hello world.  How are you?\nI am fine!  ", []string{"Hello world.", "How are you?", "I am fine!"}},
		{"আজ রোদ। কাল বৃষ্টি হতে পারে।", []string{"আজ রোদ।", "কাল বৃষ্টি হতে পারে।"}},
		{"no punctuation here", []string{"no punctuation here"}},
		{"", nil},
	}
	for _, tc := range cases {
		got := chunkReply(tc.in)
		if len(got) != len(tc.want) {
			t.Fatalf("len mismatch for %q: got %d want %d", tc.in, len(got), len(tc.want))
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("elem %d mismatch: got %q want %q", i, got[i], tc.want[i])
			}
		}
	}
}
