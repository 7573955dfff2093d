package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fpang/patient-triage/internal/encounter"
	"github.com/fpang/patient-triage/internal/pipeline"
	"github.com/fpang/patient-triage/internal/session"
	"github.com/fpang/patient-triage/internal/stage"
)

// fakeChannel is an in-memory Channel. Tests push inbound frames and inspect
// everything the host sent.
type fakeChannel struct {
	inbound chan Frame

	mu       sync.Mutex
	sent     [][]byte
	failSend bool

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{inbound: make(chan Frame, 16), closed: make(chan struct{})}
}

func (c *fakeChannel) Read(ctx context.Context) (Frame, error) {
	select {
	case f := <-c.inbound:
		return f, nil
	case <-c.closed:
		return Frame{}, ErrChannelClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (c *fakeChannel) Send(_ context.Context, data []byte) error {
	select {
	case <-c.closed:
		return ErrChannelClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSend {
		return errors.New("broken pipe")
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *fakeChannel) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeChannel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeChannel) pushText(t *testing.T, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	c.inbound <- Frame{Kind: FrameText, Data: data}
}

// messages decodes every sent frame into a generic map.
func (c *fakeChannel) messages(t *testing.T) []map[string]interface{} {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]interface{}, 0, len(c.sent))
	for _, data := range c.sent {
		var m map[string]interface{}
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("host sent invalid JSON %q: %v", data, err)
		}
		out = append(out, m)
	}
	return out
}

func (c *fakeChannel) ofType(t *testing.T, typ string) []map[string]interface{} {
	var out []map[string]interface{}
	for _, m := range c.messages(t) {
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type nopSink struct{}

func (nopSink) AlertStaff(context.Context, string, encounter.Action) error    { return nil }
func (nopSink) NotifyPatient(context.Context, string, encounter.Action) error { return nil }

type fakeTranscriber struct {
	text string
	err  error
}

func (f fakeTranscriber) Transcribe(context.Context, []byte) (string, error) {
	return f.text, f.err
}

type fakeVoice struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (v *fakeVoice) Synthesize(_ context.Context, text string) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.texts = append(v.texts, text)
	if v.err != nil {
		return nil, v.err
	}
	return []byte("RIFF-audio"), nil
}

// blockingStage holds every run until release is closed.
type blockingStage struct {
	entered chan struct{}
	release chan struct{}
}

func (blockingStage) Name() string { return "Blocking" }
func (b blockingStage) Process(context.Context, *encounter.Record) error {
	b.entered <- struct{}{}
	<-b.release
	return nil
}

func newTestHost(opts HostOptions) *Host {
	if opts.Pipeline == nil {
		opts.Pipeline = pipeline.Default(pipeline.Deps{Alerts: nopSink{}, Notices: nopSink{}})
	}
	h := NewHost(context.Background(), opts)
	h.newSessionID = func() string { return "sess0001" }
	return h
}

// serve starts h.Serve on ch and returns a function that closes the channel
// and waits for both the loop and any in-flight runs.
func serve(t *testing.T, h *Host, ch *fakeChannel) func() {
	t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- h.Serve(context.Background(), ch) }()
	waitFor(t, "session_started", func() bool { return len(ch.ofType(t, TypeSessionStarted)) == 1 })
	return func() {
		t.Helper()
		_ = ch.Close()
		if err := <-errc; err != nil {
			t.Errorf("Serve returned %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := h.Wait(ctx); err != nil {
			t.Errorf("Wait: %v", err)
		}
	}
}

func TestServe_SessionStarted(t *testing.T) {
	h := newTestHost(HostOptions{})
	ch := newFakeChannel()
	stop := serve(t, h, ch)

	started := ch.ofType(t, TypeSessionStarted)
	if started[0]["session_id"] != "sess0001" {
		t.Errorf("session_id = %v", started[0]["session_id"])
	}
	if h.Hub().Count() != 1 {
		t.Errorf("hub count = %d, want 1", h.Hub().Count())
	}

	stop()
	if h.Hub().Count() != 0 {
		t.Errorf("hub count after close = %d, want 0", h.Hub().Count())
	}
	if !ch.isClosed() {
		t.Error("channel should be closed after Serve returns")
	}
}

func TestServe_ManualTranscriptRunsAllStages(t *testing.T) {
	voice := &fakeVoice{}
	h := newTestHost(HostOptions{Voice: voice})
	ch := newFakeChannel()
	stop := serve(t, h, ch)
	defer stop()

	ch.pushText(t, Inbound{Type: TypeManualTranscript, Text: "I have severe chest pain"})
	waitFor(t, "five agent updates", func() bool { return len(ch.ofType(t, TypeAgentUpdate)) == 5 })

	updates := ch.ofType(t, TypeAgentUpdate)
	want := []string{
		stage.NameSymptomDetector,
		stage.NameRiskAssessor,
		stage.NameActionPlanner,
		stage.NameActionExecutor,
		stage.NameResponseGenerator,
	}
	for i, u := range updates {
		if u["agent"] != want[i] {
			t.Errorf("update %d agent = %v, want %s", i, u["agent"], want[i])
		}
		_, hasAudio := u["audio_alert"]
		if hasAudio != (want[i] == stage.NameActionExecutor) {
			t.Errorf("update %d (%s) audio_alert present = %v", i, u["agent"], hasAudio)
		}
	}

	audio, err := base64.StdEncoding.DecodeString(updates[3]["audio_alert"].(string))
	if err != nil || string(audio) != "RIFF-audio" {
		t.Errorf("audio_alert = %q, %v", audio, err)
	}

	final := updates[4]["state"].(map[string]interface{})
	if final["risk_level"] != string(encounter.RiskCritical) {
		t.Errorf("risk_level = %v", final["risk_level"])
	}
	if final["session_id"] != "sess0001" {
		t.Errorf("session_id = %v", final["session_id"])
	}

	if len(ch.ofType(t, TypeTranscriptionResult)) != 0 {
		t.Error("manual transcripts should not be echoed")
	}

	voice.mu.Lock()
	defer voice.mu.Unlock()
	if len(voice.texts) != 1 || !strings.Contains(voice.texts[0], "CRITICAL") || !strings.Contains(voice.texts[0], stage.MessageAcknowledged) {
		t.Errorf("announcement = %q", voice.texts)
	}
}

func TestServe_InterimAudioStopsAfterAssessment(t *testing.T) {
	h := newTestHost(HostOptions{Transcriber: fakeTranscriber{text: " I feel dizzy "}})
	ch := newFakeChannel()
	stop := serve(t, h, ch)

	interim := false
	ch.pushText(t, Inbound{
		Type:    TypeAudioTranscript,
		Audio:   base64.StdEncoding.EncodeToString([]byte("webm")),
		IsFinal: &interim,
	})
	waitFor(t, "two agent updates", func() bool { return len(ch.ofType(t, TypeAgentUpdate)) == 2 })
	stop()

	if n := len(ch.ofType(t, TypeAgentUpdate)); n != 2 {
		t.Errorf("agent updates = %d, want 2", n)
	}
	results := ch.ofType(t, TypeTranscriptionResult)
	if len(results) != 1 {
		t.Fatalf("transcription results = %d, want 1", len(results))
	}
	if results[0]["text"] != "I feel dizzy" || results[0]["is_final"] != false {
		t.Errorf("transcription result = %v", results[0])
	}
}

func TestServe_BinaryFrameIsFinalAudio(t *testing.T) {
	h := newTestHost(HostOptions{Transcriber: fakeTranscriber{text: "I need water"}})
	ch := newFakeChannel()
	stop := serve(t, h, ch)

	ch.inbound <- Frame{Kind: FrameBinary, Data: []byte("webm")}
	waitFor(t, "five agent updates", func() bool { return len(ch.ofType(t, TypeAgentUpdate)) == 5 })
	stop()

	results := ch.ofType(t, TypeTranscriptionResult)
	if len(results) != 1 || results[0]["is_final"] != true {
		t.Errorf("transcription results = %v", results)
	}
}

func TestServe_TranscriptionErrorStillRuns(t *testing.T) {
	h := newTestHost(HostOptions{Transcriber: fakeTranscriber{err: errors.New("quota exceeded")}})
	ch := newFakeChannel()
	stop := serve(t, h, ch)

	ch.pushText(t, Inbound{Type: TypeAudioTranscript, Audio: base64.StdEncoding.EncodeToString([]byte("x"))})
	waitFor(t, "five agent updates", func() bool { return len(ch.ofType(t, TypeAgentUpdate)) == 5 })
	stop()

	results := ch.ofType(t, TypeTranscriptionResult)
	if len(results) != 1 || results[0]["text"] != "Error transcribing audio: quota exceeded" {
		t.Errorf("transcription results = %v", results)
	}
}

func TestServe_ErrorReplies(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
		code  string
	}{
		{"invalid json", []byte("{not json"), CodeMalformedMessage},
		{"missing type", []byte(`{"text":"hi"}`), CodeMalformedMessage},
		{"unknown type", []byte(`{"type":"ping"}`), CodeUnknownType},
		{"bad audio", []byte(`{"type":"audio_transcript","audio":"!!!"}`), CodeInvalidAudio},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHost(HostOptions{Transcriber: fakeTranscriber{text: "hi"}})
			ch := newFakeChannel()
			stop := serve(t, h, ch)

			ch.inbound <- Frame{Kind: FrameText, Data: tt.frame}
			waitFor(t, "error reply", func() bool { return len(ch.ofType(t, TypeError)) == 1 })
			stop()

			if got := ch.ofType(t, TypeError)[0]["code"]; got != tt.code {
				t.Errorf("code = %v, want %s", got, tt.code)
			}
			if n := len(ch.ofType(t, TypeAgentUpdate)); n != 0 {
				t.Errorf("agent updates = %d, want 0", n)
			}
		})
	}
}

func TestServe_AudioWithoutTranscriber(t *testing.T) {
	h := newTestHost(HostOptions{})
	ch := newFakeChannel()
	stop := serve(t, h, ch)

	ch.inbound <- Frame{Kind: FrameBinary, Data: []byte("webm")}
	waitFor(t, "error reply", func() bool { return len(ch.ofType(t, TypeError)) == 1 })
	stop()

	if got := ch.ofType(t, TypeError)[0]["code"]; got != CodeTranscriptionUnavailable {
		t.Errorf("code = %v", got)
	}
}

func TestRun_InterimDroppedWhileSessionBusy(t *testing.T) {
	block := blockingStage{entered: make(chan struct{}, 4), release: make(chan struct{})}
	sessions := session.NewRegistry()
	h := newTestHost(HostOptions{Pipeline: pipeline.New(block), Sessions: sessions})

	done := make(chan struct{})
	go func() {
		h.run("busy0001", "first", true)
		close(done)
	}()
	<-block.entered

	// The session is held, so an interim run returns immediately.
	h.run("busy0001", "second", false)
	select {
	case <-block.entered:
		t.Fatal("interim run should have been dropped")
	default:
	}

	close(block.release)
	<-done
	if sessions.Busy("busy0001") {
		t.Error("session should be released after the run")
	}
}

func TestRun_FinalWaitsForSession(t *testing.T) {
	block := blockingStage{entered: make(chan struct{}, 4), release: make(chan struct{})}
	h := newTestHost(HostOptions{Pipeline: pipeline.New(block)})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); h.run("wait0001", "first", true) }()
	<-block.entered
	go func() { defer wg.Done(); h.run("wait0001", "second", true) }()

	select {
	case <-block.entered:
		t.Fatal("second final run entered while the first held the session")
	case <-time.After(50 * time.Millisecond):
	}

	close(block.release)
	select {
	case <-block.entered:
	case <-time.After(3 * time.Second):
		t.Fatal("second final run never started")
	}
	wg.Wait()
}

func TestBroadcast_ReachesAllObserversAndPrunesDead(t *testing.T) {
	h := newTestHost(HostOptions{})
	speaker := newFakeChannel()
	watcher := newFakeChannel()
	dead := newFakeChannel()
	dead.failSend = true

	stopWatcher := serve(t, h, watcher)
	defer stopWatcher()
	h.Hub().Add(dead)
	stopSpeaker := serve(t, h, speaker)
	defer stopSpeaker()

	speaker.pushText(t, Inbound{Type: TypeManualTranscript, Text: "my stomach hurts"})
	waitFor(t, "watcher updates", func() bool { return len(watcher.ofType(t, TypeAgentUpdate)) == 5 })
	waitFor(t, "speaker updates", func() bool { return len(speaker.ofType(t, TypeAgentUpdate)) == 5 })

	if !dead.isClosed() {
		t.Error("observer with failing sends should be closed")
	}
	if h.Hub().Count() != 2 {
		t.Errorf("hub count = %d, want 2", h.Hub().Count())
	}
}

func TestAnnouncement(t *testing.T) {
	rec := encounter.New("s", "")
	rec.ExecutedActions = []encounter.ExecutedAction{
		{Action: encounter.Action{Kind: encounter.ActionAlertStaff, Message: "Alert A."}},
		{Action: encounter.Action{Kind: encounter.ActionNotifyPatient, Message: "Stay calm."}},
		{Action: encounter.Action{Kind: encounter.ActionNotifyPatient, Message: "Stay calm."}},
		{Action: encounter.Action{Kind: encounter.ActionAlertStaff}},
	}
	if got := Announcement(rec); got != "Alert A. Stay calm." {
		t.Errorf("Announcement = %q", got)
	}
	if got := Announcement(encounter.New("s", "")); got != "" {
		t.Errorf("empty record announcement = %q", got)
	}
}

func TestWait_HonoursContext(t *testing.T) {
	block := blockingStage{entered: make(chan struct{}, 1), release: make(chan struct{})}
	h := newTestHost(HostOptions{Pipeline: pipeline.New(block)})
	h.spawn(func() { h.run("slow0001", "x", true) })
	<-block.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := h.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait = %v, want deadline exceeded", err)
	}

	close(block.release)
	if err := h.Wait(context.Background()); err != nil {
		t.Errorf("Wait after release = %v", err)
	}
}

type panickingStage struct{}

func (panickingStage) Name() string { return "Panicking" }
func (panickingStage) Process(context.Context, *encounter.Record) error {
	panic("reasoner returned garbage")
}

type panickingVoice struct{}

func (panickingVoice) Synthesize(context.Context, string) ([]byte, error) {
	panic("codec exploded")
}

// hungSpeech blocks every call until its context ends.
type hungSpeech struct{}

func (hungSpeech) Transcribe(ctx context.Context, _ []byte) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (hungSpeech) Synthesize(ctx context.Context, _ string) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRun_StagePanicReleasesSession(t *testing.T) {
	sessions := session.NewRegistry()
	h := newTestHost(HostOptions{
		Pipeline: pipeline.New(stage.NewSymptomDetector(stage.DefaultVocabulary()), panickingStage{}),
		Sessions: sessions,
	})
	ch := newFakeChannel()
	stop := serve(t, h, ch)

	ch.pushText(t, Inbound{Type: TypeManualTranscript, Text: "I have chest pain"})
	ch.pushText(t, Inbound{Type: TypeManualTranscript, Text: "still hurts"})
	waitFor(t, "both runs to reach detection", func() bool { return len(ch.ofType(t, TypeAgentUpdate)) == 2 })
	stop()

	if sessions.Busy("sess0001") {
		t.Error("session should be released after a stage panic")
	}
}

func TestRun_PublishPanicIsContained(t *testing.T) {
	sessions := session.NewRegistry()
	h := newTestHost(HostOptions{Voice: panickingVoice{}, Sessions: sessions})
	ch := newFakeChannel()
	stop := serve(t, h, ch)

	ch.pushText(t, Inbound{Type: TypeManualTranscript, Text: "I have severe chest pain"})
	waitFor(t, "updates before execution", func() bool { return len(ch.ofType(t, TypeAgentUpdate)) == 3 })
	stop()

	if sessions.Busy("sess0001") {
		t.Error("session should be released after a publish panic")
	}
}

func TestServe_SpeechTimeout(t *testing.T) {
	sessions := session.NewRegistry()
	h := newTestHost(HostOptions{
		Transcriber:   hungSpeech{},
		Voice:         hungSpeech{},
		SpeechTimeout: 20 * time.Millisecond,
		Sessions:      sessions,
	})
	ch := newFakeChannel()
	stop := serve(t, h, ch)

	ch.inbound <- Frame{Kind: FrameBinary, Data: []byte("webm")}
	waitFor(t, "five agent updates", func() bool { return len(ch.ofType(t, TypeAgentUpdate)) == 5 })
	stop()

	results := ch.ofType(t, TypeTranscriptionResult)
	if len(results) != 1 || !strings.Contains(results[0]["text"].(string), context.DeadlineExceeded.Error()) {
		t.Errorf("transcription results = %v", results)
	}
	for _, u := range ch.ofType(t, TypeAgentUpdate) {
		if _, ok := u["audio_alert"]; ok {
			t.Errorf("%v carried audio after synthesis timed out", u["agent"])
		}
	}
	if sessions.Busy("sess0001") {
		t.Error("session should be released once synthesis times out")
	}
}
