package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voxbotics/verba/pkg/audioio"
	"github.com/voxbotics/verba/pkg/decision"
	"github.com/voxbotics/verba/pkg/dialog"
	"github.com/voxbotics/verba/pkg/llm"
	"github.com/voxbotics/verba/pkg/mode"
	"github.com/voxbotics/verba/pkg/segment"
	"github.com/voxbotics/verba/pkg/stt"
	"github.com/voxbotics/verba/pkg/tts"
	"github.com/voxbotics/verba/pkg/vad"
)

// stubGate answers every transcript the same way.
type stubGate struct {
	respond     bool
	noted       int
	lastHistory []llm.Message
}

func (g *stubGate) Decide(ctx context.Context, transcript string, history []llm.Message) decision.Verdict {
	g.lastHistory = history
	return decision.Verdict{Respond: g.respond, Reason: "stub", Source: "heuristic"}
}

func (g *stubGate) NoteInteraction() { g.noted++ }

type fixture struct {
	orch    *Orchestrator
	sink    *audioio.MockSink
	stt     *stt.Mock
	llm     *llm.Mock
	tts     *tts.Mock
	gate    *stubGate
	history *dialog.History
	modes   *mode.Controller
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	f := &fixture{
		sink:    audioio.NewMockSink(audioio.DefaultConfig(), nil),
		stt:     &stt.Mock{Text: "hello there"},
		llm:     &llm.Mock{Reply: "hi, good to see you"},
		tts:     tts.NewMock(),
		gate:    &stubGate{respond: true},
		history: dialog.NewHistory(0),
	}
	binding := mode.Binding{
		Transcriber: f.stt,
		Responder:   f.llm,
		Synthesizer: f.tts,
	}
	f.modes = mode.NewController(binding, binding)

	if err := f.sink.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	f.orch = New(cfg, nil, f.sink, nil, nil, f.modes, f.gate, f.history)
	return f
}

func speechSegment() *segment.Segment {
	samples := make([]int16, 16000)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 6000
		} else {
			samples[i] = -6000
		}
	}
	return &segment.Segment{
		Frames:     []audioio.Frame{{Samples: samples, SampleRate: 16000, Channels: 1}},
		SampleRate: 16000,
		Channels:   1,
	}
}

func defaultTestConfig() Config {
	return Config{
		SystemPrompt:   "You are a robot.",
		Apology:        "Sorry, I had trouble with that.",
		MaxReplyTokens: 100,
	}
}

func TestHandleTurn_FullExchange(t *testing.T) {
	f := newFixture(t, defaultTestConfig())

	f.orch.handleTurn(context.Background(), speechSegment())

	turns := f.history.Turns()
	if len(turns) != 1 {
		t.Fatalf("history turns = %d, want 1", len(turns))
	}
	if turns[0].UserText != "hello there" || turns[0].ReplyText != "hi, good to see you" {
		t.Errorf("turn = %+v", turns[0])
	}
	if !turns[0].Spoken {
		t.Error("reply should have been spoken")
	}
	if len(f.sink.Written()) == 0 {
		t.Error("no frames reached the sink")
	}
	if f.gate.noted != 1 {
		t.Error("gate not notified of the exchange")
	}
	if f.orch.State() != StateIdle {
		t.Errorf("state = %v after turn", f.orch.State())
	}
}

func TestHandleTurn_IgnoredWhenGateDeclines(t *testing.T) {
	f := newFixture(t, defaultTestConfig())
	f.gate.respond = false

	f.orch.handleTurn(context.Background(), speechSegment())

	if f.history.Len() != 0 {
		t.Error("ignored utterance must not be recorded")
	}
	if f.llm.Calls() != 0 {
		t.Error("generation ran for an ignored utterance")
	}
	if len(f.tts.Calls()) != 0 {
		t.Error("synthesis ran for an ignored utterance")
	}
}

func TestHandleTurn_EmptyTranscriptDiscarded(t *testing.T) {
	f := newFixture(t, defaultTestConfig())
	f.stt.Text = ""

	f.orch.handleTurn(context.Background(), speechSegment())

	if f.history.Len() != 0 {
		t.Error("empty transcript must not produce a turn")
	}
	if f.llm.Calls() != 0 {
		t.Error("generation ran on an empty transcript")
	}
}

func TestHandleTurn_EmptyTranscriptIsNotABackendFailure(t *testing.T) {
	f := newFixture(t, defaultTestConfig())
	f.stt.Text = ""

	// Three consecutive real failures would force a mode flip; silent
	// segments must never count toward that.
	for i := 0; i < 3; i++ {
		f.orch.handleTurn(context.Background(), speechSegment())
	}

	if f.modes.Current() != mode.Online {
		t.Errorf("mode = %v; silent segments forced a flip", f.modes.Current())
	}
}

func TestHandleTurn_ApologyOnGenerationFailure(t *testing.T) {
	cfg := defaultTestConfig()
	f := newFixture(t, cfg)
	f.llm.Err = errors.New("model exploded")

	f.orch.handleTurn(context.Background(), speechSegment())

	turns := f.history.Turns()
	if len(turns) != 1 {
		t.Fatalf("history turns = %d, want 1", len(turns))
	}
	if turns[0].ReplyText != cfg.Apology {
		t.Errorf("reply = %q, want apology", turns[0].ReplyText)
	}
	if !turns[0].Spoken {
		t.Error("apology should have been spoken")
	}
	calls := f.tts.Calls()
	if len(calls) != 1 || calls[0] != cfg.Apology {
		t.Errorf("synthesized = %v", calls)
	}
}

func TestHandleTurn_SynthesisFailureRecordsUnspoken(t *testing.T) {
	f := newFixture(t, defaultTestConfig())
	f.tts.SynthesizeFunc = func(ctx context.Context, text string) (*tts.Result, error) {
		return nil, errors.New("speaker on fire")
	}

	f.orch.handleTurn(context.Background(), speechSegment())

	turns := f.history.Turns()
	if len(turns) != 1 {
		t.Fatalf("history turns = %d, want 1", len(turns))
	}
	if turns[0].Spoken {
		t.Error("turn should be recorded unspoken")
	}
	if turns[0].ReplyText != "hi, good to see you" {
		t.Errorf("reply text = %q", turns[0].ReplyText)
	}
	if len(f.sink.Written()) != 0 {
		t.Error("nothing should have reached the sink")
	}
}

func TestHandleTurn_TranscriptionFailureDropsTurn(t *testing.T) {
	f := newFixture(t, defaultTestConfig())
	f.stt.Err = errors.New("mic gremlins")

	f.orch.handleTurn(context.Background(), speechSegment())

	if f.history.Len() != 0 {
		t.Error("failed transcription must not produce a turn")
	}
}

func TestBargeIn_CancelsInFlightGeneration(t *testing.T) {
	f := newFixture(t, defaultTestConfig())
	f.llm.Delay = 300 * time.Millisecond

	done := make(chan struct{})
	go func() {
		f.orch.handleTurn(context.Background(), speechSegment())
		close(done)
	}()

	// Wait for the turn to reach generation, then interrupt.
	deadline := time.After(time.Second)
	for f.llm.Calls() == 0 {
		select {
		case <-deadline:
			t.Fatal("generation never started")
		case <-time.After(5 * time.Millisecond):
		}
	}
	f.orch.bargeIn()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("turn did not finish after barge-in")
	}

	if f.history.Len() != 0 {
		t.Error("interrupted turn must not record a stale reply")
	}
	if len(f.tts.Calls()) != 0 {
		t.Error("stale reply was synthesized")
	}
}

func TestBargeIn_ClearsSinkWhileSpeaking(t *testing.T) {
	f := newFixture(t, defaultTestConfig())

	f.orch.setTurnCancel(func() {})
	f.orch.setSpeaking(true)
	f.orch.bargeIn()

	if f.sink.Stats().Clears != 1 {
		t.Error("sink not cleared on barge-in during playback")
	}
}

func TestHandleTurn_SessionTimeoutResetsHistory(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.SessionTimeout = time.Millisecond
	f := newFixture(t, cfg)

	f.history.Append(dialog.Turn{UserText: "old topic", ReplyText: "old reply", Spoken: true})
	time.Sleep(5 * time.Millisecond)

	f.orch.handleTurn(context.Background(), speechSegment())

	turns := f.history.Turns()
	if len(turns) != 1 {
		t.Fatalf("history turns = %d, want 1 after reset", len(turns))
	}
	if turns[0].UserText != "hello there" {
		t.Errorf("stale turn survived the reset: %+v", turns[0])
	}
}

func TestHandleTurn_ModeFlipWaitsForTurnBoundary(t *testing.T) {
	f := newFixture(t, defaultTestConfig())
	f.llm.Delay = 50 * time.Millisecond

	done := make(chan struct{})
	go func() {
		f.orch.handleTurn(context.Background(), speechSegment())
		close(done)
	}()

	deadline := time.After(time.Second)
	for f.llm.Calls() == 0 {
		select {
		case <-deadline:
			t.Fatal("generation never started")
		case <-time.After(5 * time.Millisecond):
		}
	}

	f.modes.SetConnectivity(false)
	if f.modes.Current() != mode.Online {
		t.Fatal("mode flipped mid-turn")
	}

	<-done
	if f.modes.Current() != mode.Offline {
		t.Fatal("queued flip not applied at turn end")
	}
}

func TestRun_EndToEndOverMocks(t *testing.T) {
	cfg := defaultTestConfig()

	audioCfg := audioio.DefaultConfig()
	source := audioio.NewMockSource(audioCfg, nil)
	sink := audioio.NewMockSink(audioCfg, nil)

	sttMock := &stt.Mock{Text: "hey, are you awake?"}
	llmMock := &llm.Mock{Reply: "wide awake"}
	ttsMock := tts.NewMock()
	binding := mode.Binding{Transcriber: sttMock, Responder: llmMock, Synthesizer: ttsMock}
	modes := mode.NewController(binding, binding)

	history := dialog.NewHistory(0)
	gate := &stubGate{respond: true}

	detector := vad.New(vad.DefaultConfig(), nil)
	segmenter := segment.NewSegmenter(segment.DefaultConfig(), nil)

	orch := New(cfg, source, sink, detector, segmenter, modes, gate, history)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- orch.Run(ctx) }()

	// Let Run start the source, then feed speech followed by silence.
	time.Sleep(20 * time.Millisecond)
	loudFrame := func() audioio.Frame {
		s := make([]int16, audioCfg.FrameSamples())
		for i := range s {
			if i%2 == 0 {
				s[i] = 8000
			} else {
				s[i] = -8000
			}
		}
		return audioio.Frame{Samples: s, SampleRate: audioCfg.SampleRate, Channels: 1, Timestamp: time.Now()}
	}
	quietFrame := func() audioio.Frame {
		return audioio.Frame{
			Samples:    make([]int16, audioCfg.FrameSamples()),
			SampleRate: audioCfg.SampleRate,
			Channels:   1,
			Timestamp:  time.Now(),
		}
	}

	for i := 0; i < 20; i++ {
		source.Push(loudFrame())
	}
	for i := 0; i < 60; i++ {
		source.Push(quietFrame())
	}

	// Wait for the turn to complete.
	deadline := time.After(2 * time.Second)
	for history.Len() == 0 {
		select {
		case <-deadline:
			t.Fatal("no turn completed")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}

	turn := history.Turns()[0]
	if turn.UserText != "hey, are you awake?" || turn.ReplyText != "wide awake" {
		t.Errorf("turn = %+v", turn)
	}
}
