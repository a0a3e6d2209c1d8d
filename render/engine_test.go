package render_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/dawg/vusic"
	"github.com/dawg/vusic/analysis"
	"github.com/dawg/vusic/config"
	"github.com/dawg/vusic/render"
	"github.com/dawg/vusic/scheduler"
)

func newScore(t *testing.T, waveform float64) (*vusic.Score, *vusic.Track) {
	t.Helper()
	score, err := vusic.NewScore("render", 120)
	if err != nil {
		t.Fatalf("NewScore failed: %v", err)
	}
	instr, _ := vusic.NewInstrument("synth")
	instr.Params["waveform"] = waveform
	track, err := score.AddTrack("lead", instr)
	if err != nil {
		t.Fatalf("AddTrack failed: %v", err)
	}
	return score, track
}

func addNote(t *testing.T, track *vusic.Track, pitch float64, start, dur vusic.Beats) {
	t.Helper()
	if _, err := track.AddNote(vusic.Note{Pitch: pitch, Velocity: 1, Start: start, Duration: dur}); err != nil {
		t.Fatalf("AddNote failed: %v", err)
	}
}

func TestOfflineIsDeterministic(t *testing.T) {
	score, track := newScore(t, vusic.Noise)
	addNote(t, track, 60, 0, 1)
	addNote(t, track, 64, 0.5, 1)
	if _, err := track.AddEffect("delay", map[string]float64{"time": 0.1, "feedback": 0.5, "mix": 0.5}); err != nil {
		t.Fatalf("AddEffect failed: %v", err)
	}
	if _, err := track.AddAutomation(vusic.AutomationClip{
		Target:   vusic.ParamRef{Param: "pan"},
		Duration: 2,
		Points:   []vusic.Point{{Time: 0, Value: -1, Curve: vusic.Linear}, {Time: 2, Value: 1}},
	}); err != nil {
		t.Fatalf("AddAutomation failed: %v", err)
	}
	a, err := render.Offline(score, config.Default(), 1, 42)
	if err != nil {
		t.Fatalf("Offline failed: %v", err)
	}
	b, err := render.Offline(score, config.Default(), 1, 42)
	if err != nil {
		t.Fatalf("Offline failed: %v", err)
	}
	if len(a) != 44100 {
		t.Fatalf("expected 44100 frames, got %d", len(a))
	}
	if a.Peak() == 0 {
		t.Fatalf("the render is silent")
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("renders differ at frame %d: %v != %v", i, a[i], b[i])
		}
	}
	c, _ := render.Offline(score, config.Default(), 1, 43)
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Errorf("renders with different seeds should differ")
	}
}

func TestOfflineNeedsLoadedSamples(t *testing.T) {
	score, _ := newScore(t, vusic.Sine)
	if _, err := score.AddSample(vusic.NewSampleHandle("kick.wav")); err != nil {
		t.Fatalf("AddSample failed: %v", err)
	}
	if _, err := render.Offline(score, config.Default(), 1, 0); !errors.Is(err, vusic.ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
}

// removeGainMidNote renders a sustained note through a gain effect and
// removes the effect from the document half a second in.
func removeGainMidNote(t *testing.T, crossfade int) vusic.AudioBuffer {
	t.Helper()
	score, track := newScore(t, vusic.Sine)
	addNote(t, track, 60, 0, 4)
	id, err := track.AddEffect("gain", map[string]float64{"gain": 0.25})
	if err != nil {
		t.Fatalf("AddEffect failed: %v", err)
	}
	cfg := config.Default()
	cfg.Crossfade = crossfade
	e, err := render.NewEngine(score, cfg, render.Options{Offline: true})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	if err := e.Play(0); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	out := e.Bounce(0.5)
	if err := track.RemoveEffect(id); err != nil {
		t.Fatalf("RemoveEffect failed: %v", err)
	}
	return append(out, e.Bounce(0.5)...)
}

// highBand returns the largest magnitude above about 4 kHz in the
// spectrogram of buf.
func highBand(t *testing.T, buf vusic.AudioBuffer) float32 {
	t.Helper()
	s, err := analysis.NewSpectrogram(buf, 1024, 64)
	if err != nil {
		t.Fatalf("NewSpectrogram failed: %v", err)
	}
	var ret float32
	for _, col := range s {
		for _, v := range col[100:] {
			ret = max(ret, v)
		}
	}
	return ret
}

func TestEffectRemovalHasNoClick(t *testing.T) {
	smooth := removeGainMidNote(t, 256)
	abrupt := removeGainMidNote(t, 1)
	around := func(b vusic.AudioBuffer) vusic.AudioBuffer { return b[22050-1050 : 22050+1050] }
	s, a := highBand(t, around(smooth)), highBand(t, around(abrupt))
	if s*10 > a {
		t.Errorf("the crossfaded removal should not spread energy to high frequencies: %v, abrupt removal %v", s, a)
	}
	// once the crossfade is over, the track sounds as if it never had the effect
	score, track := newScore(t, vusic.Sine)
	addNote(t, track, 60, 0, 4)
	reference, err := render.Offline(score, config.Default(), 1, 0)
	if err != nil {
		t.Fatalf("Offline failed: %v", err)
	}
	d, err := analysis.CompareBuffers(reference[23000:], smooth[23000:], 1024, 64)
	if err != nil {
		t.Fatalf("CompareBuffers failed: %v", err)
	}
	if d > 1e-3 {
		t.Errorf("after the removal the output differs from a render without the effect by %v", d)
	}
}

func TestEffectRemovalMatchesReference(t *testing.T) {
	analysis.CompareToFile(t, removeGainMidNote(t, 256), "testdata/splice.raw", 1e-3)
}

func resolveSilence(ref vusic.SampleRef) *vusic.SampleHandle {
	h := vusic.NewSampleHandle(ref.Source)
	h.Resolve(&vusic.Sample{
		Name: ref.Name,
		Data: &vusic.SampleData{Channels: 1, SampleRate: 100, Frames: make([]float32, 100)},
		Gain: ref.Gain,
	})
	return h
}

// The fixture song exercises patterns, track notes, a filter sweep, a delay
// and pan automation on the lead track; the drums track is muted.
func TestSongMatchesReference(t *testing.T) {
	data, err := os.ReadFile("../testdata/song.yml")
	if err != nil {
		t.Fatal(err)
	}
	score, err := vusic.LoadScore(data, resolveSilence)
	if err != nil {
		t.Fatalf("LoadScore failed: %v", err)
	}
	out, err := render.Offline(score, config.Default(), 4, 0)
	if err != nil {
		t.Fatalf("Offline failed: %v", err)
	}
	analysis.CompareToFile(t, out, "testdata/song.raw", 1e-3)
}

func TestStopSilencesLongReleases(t *testing.T) {
	score, track := newScore(t, vusic.Sine)
	if err := track.SetInstrumentParam("release", 5); err != nil {
		t.Fatalf("SetInstrumentParam failed: %v", err)
	}
	addNote(t, track, 69, 0, 16)
	e, err := render.NewEngine(score, config.Default(), render.Options{Offline: true})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	if err := e.Play(0); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	if e.Bounce(1).Peak() == 0 {
		t.Fatalf("the note should be sounding before the stop")
	}
	e.Stop()
	after := e.Bounce(1)
	if p := after[441:].Peak(); p != 0 {
		t.Errorf("the output should be silent 10 ms after Stop, peak %v", p)
	}
}

func TestTrackScheduledAheadOfTheTrackList(t *testing.T) {
	score, _ := newScore(t, vusic.Sine)
	e, err := render.NewEngine(score, config.Default(), render.Options{Offline: true})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	if err := e.Play(0); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	instr, _ := vusic.NewInstrument("synth")
	late, err := score.AddTrack("late", instr)
	if err != nil {
		t.Fatalf("AddTrack failed: %v", err)
	}
	addNote(t, late, 69, 0, 4)
	// the real-time lane has not been told about the track yet
	if _, err := e.Session().Schedule(scheduler.Sequence{Track: late}); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if e.Bounce(0.1).Peak() == 0 {
		t.Errorf("the note of a track scheduled in the same period should sound")
	}
}

func TestRequestsReachTheRealTimeLane(t *testing.T) {
	score, track := newScore(t, vusic.Sine)
	e, err := render.NewEngine(score, config.Default(), render.Options{})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	if err := e.SetParameter(track.ID(), vusic.ParamRef{Param: "gain"}, 5); err != nil {
		t.Fatalf("SetParameter failed: %v", err)
	}
	e.Process(make(vusic.AudioBuffer, 512))
	found := false
	for len(e.Broker().Warnings) > 0 {
		// a slow machine may also report an overrun
		if w := <-e.Broker().Warnings; w.Kind == vusic.RangeViolation {
			found = true
			if w.Applied != 2 {
				t.Errorf("gain 5 should be held to 2, got %v", w.Applied)
			}
		}
	}
	if !found {
		t.Fatalf("expected a RangeViolation warning on the broker")
	}
	if track.Snapshot().Channel.Gain != 1 {
		t.Errorf("a live parameter write should not change the document")
	}
}

func TestReaderMatchesBounce(t *testing.T) {
	render1 := func() *render.Engine {
		score, track := newScore(t, vusic.Saw)
		addNote(t, track, 57, 0, 1)
		e, err := render.NewEngine(score, config.Default(), render.Options{Offline: true})
		if err != nil {
			t.Fatalf("NewEngine failed: %v", err)
		}
		if err := e.Play(0); err != nil {
			t.Fatalf("Play failed: %v", err)
		}
		return e
	}
	const frames = 3 * 512
	raw := make([]byte, frames*8)
	if _, err := io.ReadFull(render1().Reader(), raw); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	live := make(vusic.AudioBuffer, frames)
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, live); err != nil {
		t.Fatal(err)
	}
	offline := render1().Bounce(vusic.Seconds(frames) / 44100)
	for i := range offline {
		if live[i] != offline[i] {
			t.Fatalf("frame %d: reader %v, bounce %v", i, live[i], offline[i])
		}
	}
}

func TestLogWarnings(t *testing.T) {
	var out bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&out, nil))
	b := render.NewBroker()
	go render.LogWarnings(b, logger)
	b.Warn(vusic.Warning{Kind: vusic.UnitFault, Track: 3, Param: "delay"})
	deadline := time.After(3 * time.Second)
	for len(b.Warnings) > 0 {
		select {
		case <-deadline:
			t.Fatal("the warning was never consumed")
		case <-time.After(time.Millisecond):
		}
	}
	render.TrySend(b.CloseWarnings, struct{}{})
	select {
	case <-b.FinishedWarnings:
	case <-time.After(3 * time.Second):
		t.Fatal("LogWarnings did not finish")
	}
	if s := out.String(); !strings.Contains(s, "kind=UnitFault") || !strings.Contains(s, "unit=delay") {
		t.Errorf("unexpected log output %q", s)
	}
}

func TestMonitorMeasuresOutput(t *testing.T) {
	score, track := newScore(t, vusic.Square)
	addNote(t, track, 69, 0, 64)
	e, err := render.NewEngine(score, config.Default(), render.Options{Offline: true})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	if err := e.Play(0); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	m := render.NewMonitor(e.Broker())
	go m.Run()
	defer func() {
		render.TrySend(e.Broker().CloseMonitor, struct{}{})
		<-e.Broker().FinishedMonitor
	}()
	buf := make(vusic.AudioBuffer, 512)
	for range 2000 {
		e.Process(buf)
		if l, ok := m.Levels(); ok && !math.IsInf(l.Peak[0], -1) {
			if l.Peak[0] > 0 {
				t.Errorf("peak %v dBFS above full scale", l.Peak[0])
			}
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("the monitor never measured a period")
}
