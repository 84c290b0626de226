package faceid_test

import (
	"context"
	"errors"
	"image"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/camera"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/checkpoint/types"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/clock"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/events"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/faceid"
)

var (
	adaEmbedding = []float64{0.1, 0.2, 0.3, 0.4}
	eveEmbedding = []float64{0.9, 0.8, 0.7, 0.6}
	farEmbedding = []float64{5, 5, 5, 5}
)

type frameSource struct {
	err error
}

func (f frameSource) Read(ctx context.Context) (image.Image, error) {
	if f.err != nil {
		return nil, f.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for i := range img.Pix {
		img.Pix[i] = 0x40
	}
	return img, nil
}

type overlayRecorder struct {
	mu       sync.Mutex
	statuses []string
}

func (o *overlayRecorder) Publish(_ image.Image, status string) {
	o.mu.Lock()
	o.statuses = append(o.statuses, status)
	o.mu.Unlock()
}

func (o *overlayRecorder) seen(status string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, s := range o.statuses {
		if s == status {
			return true
		}
	}
	return false
}

func newRegistry(t *testing.T, ids ...faceid.Identity) *faceid.Registry {
	t.Helper()
	r := faceid.NewRegistry(t.TempDir(), nil)
	for _, id := range ids {
		r.Add(id)
	}
	return r
}

func ada() faceid.Identity {
	return faceid.Identity{Label: "123_Ada", CardID: "123", Name: "Ada", Embedding: adaEmbedding}
}

func face(emb []float64, open bool) faceid.ScriptStep {
	return faceid.ScriptStep{Faces: []faceid.Face{faceid.SyntheticFace(emb, open)}}
}

func noFace() faceid.ScriptStep { return faceid.ScriptStep{} }

func newVerifier(reg *faceid.Registry, src camera.FrameSource, an faceid.Analyzer, ov faceid.OverlaySink, rec events.Emitter, timeout time.Duration) *faceid.Verifier {
	return faceid.NewVerifier(faceid.VerifierDeps{
		Registry: reg,
		Frames:   src,
		Analyzer: an,
		Overlay:  ov,
		Emitter:  rec,
		Clock:    clock.Real(),
	}, faceid.VerifierConfig{Timeout: timeout, FrameInterval: time.Millisecond})
}

func interactions(rec *events.Recorder) []string {
	var out []string
	for _, ev := range rec.Events() {
		if ev.Event == types.EventInteraction {
			out = append(out, ev.Payload.(types.Interaction).Msg)
		}
	}
	return out
}

func TestDistance(t *testing.T) {
	require.InDelta(t, 0, faceid.Distance(adaEmbedding, adaEmbedding), 1e-12)
	require.InDelta(t, 5, faceid.Distance([]float64{0, 0}, []float64{3, 4}), 1e-12)
	require.True(t, math.IsInf(faceid.Distance([]float64{1}, []float64{1, 2}), 1))
}

func TestEyeAspectRatio(t *testing.T) {
	ear, ok := faceid.EyeAspectRatio(faceid.OpenEye)
	require.True(t, ok)
	require.InDelta(t, 0.3, ear, 1e-9)

	ear, ok = faceid.EyeAspectRatio(faceid.ClosedEye)
	require.True(t, ok)
	require.InDelta(t, 0.1, ear, 1e-9)

	_, ok = faceid.EyeAspectRatio(faceid.OpenEye[:4])
	require.False(t, ok)
}

func TestVerify_MatchThenBlinkSucceeds(t *testing.T) {
	rec := events.NewRecorder()
	ov := &overlayRecorder{}
	an := faceid.NewScriptedAnalyzer(
		face(adaEmbedding, true),
		face(adaEmbedding, false),
		face(adaEmbedding, true),
	)
	v := newVerifier(newRegistry(t, ada()), frameSource{}, an, ov, rec, 5*time.Second)

	res := v.Verify(context.Background(), "123")
	require.True(t, res.OK, "reason %q", res.Reason)
	require.Equal(t, "123_Ada", res.Label)
	require.Equal(t, 3, an.Calls(), "only every other frame is analyzed")
	require.Equal(t, []string{
		"Verifying Face... Please look at camera",
		"Identity verified. Please blink once.",
	}, interactions(rec))
	require.True(t, ov.seen(faceid.StatusBlinking))
	require.True(t, ov.seen(faceid.StatusBlinkConfirmed))
}

func TestVerify_NoBlinkTimesOut(t *testing.T) {
	rec := events.NewRecorder()
	an := faceid.NewScriptedAnalyzer(face(adaEmbedding, true))
	v := newVerifier(newRegistry(t, ada()), frameSource{}, an, nil, rec, 60*time.Millisecond)

	res := v.Verify(context.Background(), "123")
	require.False(t, res.OK)
	require.Equal(t, faceid.ReasonTimeout, res.Reason)
	msgs := interactions(rec)
	require.Equal(t, "Verification timeout", msgs[len(msgs)-1])
}

func TestVerify_TimeoutWithFakeClock(t *testing.T) {
	fc := clock.Fake(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	an := faceid.NewScriptedAnalyzer(face(adaEmbedding, true))
	v := faceid.NewVerifier(faceid.VerifierDeps{
		Registry: newRegistry(t, ada()),
		Frames:   frameSource{},
		Analyzer: an,
		Clock:    fc,
	}, faceid.VerifierConfig{})

	done := make(chan faceid.Result, 1)
	go func() { done <- v.Verify(context.Background(), "123") }()

	for {
		select {
		case res := <-done:
			require.Equal(t, faceid.ReasonTimeout, res.Reason)
			// 45s of 33ms frames, half of them analyzed.
			require.InDelta(t, 45000/33/2, an.Calls(), 2)
			return
		default:
		}
		if fc.PendingCount() > 0 {
			fc.Advance(33 * time.Millisecond)
		} else {
			time.Sleep(50 * time.Microsecond)
		}
	}
}

func TestVerify_WrongCardNeverVerifies(t *testing.T) {
	ov := &overlayRecorder{}
	eve := faceid.Identity{Label: "999_Eve", CardID: "999", Name: "Eve", Embedding: eveEmbedding}
	an := faceid.NewScriptedAnalyzer(face(eveEmbedding, true), face(eveEmbedding, false), face(eveEmbedding, true))
	v := newVerifier(newRegistry(t, ada(), eve), frameSource{}, an, ov, events.NewRecorder(), 60*time.Millisecond)

	res := v.Verify(context.Background(), "123")
	require.Equal(t, faceid.ReasonTimeout, res.Reason)
	require.True(t, ov.seen(faceid.StatusWrongCard))
}

func TestVerify_FarFaceAsksToAlign(t *testing.T) {
	ov := &overlayRecorder{}
	an := faceid.NewScriptedAnalyzer(face(farEmbedding, true))
	v := newVerifier(newRegistry(t, ada()), frameSource{}, an, ov, events.NewRecorder(), 40*time.Millisecond)

	res := v.Verify(context.Background(), "123")
	require.Equal(t, faceid.ReasonTimeout, res.Reason)
	require.True(t, ov.seen(faceid.StatusAlignBetter))
}

func TestVerify_MissesBelowLimitKeepIdentity(t *testing.T) {
	steps := []faceid.ScriptStep{face(adaEmbedding, true)}
	for i := 0; i < 14; i++ {
		steps = append(steps, noFace())
	}
	// The closed-eye frame carries an unknown embedding: it only counts as
	// a blink if identity survived the misses.
	steps = append(steps, face(farEmbedding, false), face(farEmbedding, true))

	v := newVerifier(newRegistry(t, ada()), frameSource{}, faceid.NewScriptedAnalyzer(steps...), nil, events.NewRecorder(), 5*time.Second)
	res := v.Verify(context.Background(), "123")
	require.True(t, res.OK, "reason %q", res.Reason)
}

func TestVerify_MissLimitResetsIdentity(t *testing.T) {
	steps := []faceid.ScriptStep{face(adaEmbedding, true)}
	for i := 0; i < 15; i++ {
		steps = append(steps, noFace())
	}
	steps = append(steps, face(farEmbedding, false), face(farEmbedding, true))

	ov := &overlayRecorder{}
	v := newVerifier(newRegistry(t, ada()), frameSource{}, faceid.NewScriptedAnalyzer(steps...), ov, events.NewRecorder(), 150*time.Millisecond)
	res := v.Verify(context.Background(), "123")
	require.False(t, res.OK)
	require.Equal(t, faceid.ReasonTimeout, res.Reason)
}

func TestVerify_NoKnownFaces(t *testing.T) {
	rec := events.NewRecorder()
	v := newVerifier(newRegistry(t), frameSource{}, nil, nil, rec, time.Second)

	res := v.Verify(context.Background(), "123")
	require.Equal(t, faceid.ReasonNoKnownFaces, res.Reason)
	require.Equal(t, []string{"No faces registered"}, interactions(rec))
}

func TestVerify_CameraUnavailable(t *testing.T) {
	rec := events.NewRecorder()
	v := newVerifier(newRegistry(t, ada()), frameSource{err: camera.ErrUnavailable}, nil, nil, rec, time.Second)

	res := v.Verify(context.Background(), "123")
	require.Equal(t, faceid.ReasonCameraUnavailable, res.Reason)
	msgs := interactions(rec)
	require.Equal(t, "Camera unavailable", msgs[len(msgs)-1])
}

func TestVerify_AnalyzerErrorIsError(t *testing.T) {
	an := faceid.NewScriptedAnalyzer(faceid.ScriptStep{Err: errors.New("model crashed")})
	v := newVerifier(newRegistry(t, ada()), frameSource{}, an, nil, events.NewRecorder(), time.Second)

	res := v.Verify(context.Background(), "123")
	require.Equal(t, faceid.ReasonError, res.Reason)
}

type panicAnalyzer struct{}

func (panicAnalyzer) Detect(image.Image) ([]faceid.Face, error) { panic("landmark model crashed") }

func TestVerify_AnalyzerPanicIsError(t *testing.T) {
	v := newVerifier(newRegistry(t, ada()), frameSource{}, panicAnalyzer{}, nil, events.NewRecorder(), time.Second)

	var res faceid.Result
	require.NotPanics(t, func() { res = v.Verify(context.Background(), "123") })
	require.False(t, res.OK)
	require.Equal(t, faceid.ReasonError, res.Reason)
}

func TestVerify_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	v := newVerifier(newRegistry(t, ada()), frameSource{}, nil, nil, events.NewRecorder(), time.Second)

	res := v.Verify(ctx, "123")
	require.Equal(t, faceid.ReasonCancelled, res.Reason)
}

func TestRegistry_EnrollLoadHasCard(t *testing.T) {
	dir := t.TempDir()
	r := faceid.NewRegistry(dir, nil)
	require.NoError(t, r.Load())
	require.False(t, r.HasCard("123"))

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	id, err := r.Enroll("123", " Ada ", adaEmbedding, at)
	require.NoError(t, err)
	require.Equal(t, "123_Ada", id.Label)
	require.FileExists(t, filepath.Join(dir, "123_Ada.json"))
	require.True(t, r.HasCard("123"))
	require.False(t, r.HasCard("12"), "prefix must end at the separator")

	// A stray file and a broken record are ignored on reload.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "777_Bad.json"), []byte("{"), 0o644))

	fresh := faceid.NewRegistry(dir, nil)
	require.NoError(t, fresh.Load())
	require.Equal(t, 1, fresh.Len())
	got := fresh.Identities()[0]
	require.Equal(t, "Ada", got.Name)
	require.Equal(t, adaEmbedding, got.Embedding)
	require.True(t, got.CreatedAt.Equal(at))

	for _, name := range []string{"  ", "Ada\nB", "A|B", "a/b", "tab\there"} {
		_, err = r.Enroll("123", name, adaEmbedding, at)
		require.ErrorIs(t, err, faceid.ErrInvalidName, "%q", name)
	}
	_, err = r.Enroll("123", "Bob", nil, at)
	require.ErrorIs(t, err, faceid.ErrNoEmbedding)
}

func TestRegistry_WatchReloadsOnExternalChange(t *testing.T) {
	dir := t.TempDir()
	r := faceid.NewRegistry(dir, nil)
	require.NoError(t, r.Load())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Watch(ctx, 20*time.Millisecond) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	writer := faceid.NewRegistry(dir, nil)
	require.Eventually(t, func() bool {
		// Re-enroll until the watcher is registered and picks the file up.
		if _, err := writer.Enroll("555", "Bob", eveEmbedding, time.Now()); err != nil {
			return false
		}
		return r.HasCard("555")
	}, 5*time.Second, 50*time.Millisecond)
}

func TestNameFromLabel(t *testing.T) {
	require.Equal(t, "Ada Lovelace", faceid.NameFromLabel("123_Ada Lovelace", "123"))
	require.Equal(t, "999_Eve", faceid.NameFromLabel("999_Eve", "123"))
}

func TestEnroller_CapturesFirstUsableFace(t *testing.T) {
	reg := newRegistry(t)
	ov := &overlayRecorder{}
	an := faceid.NewScriptedAnalyzer(noFace(), noFace(), face(adaEmbedding, true))
	e := faceid.NewEnroller(faceid.VerifierDeps{
		Registry: reg,
		Frames:   frameSource{},
		Analyzer: an,
		Overlay:  ov,
		Clock:    clock.Real(),
	}, faceid.EnrollerConfig{Interval: time.Millisecond})

	id, err := e.Enroll(context.Background(), "123", "Ada")
	require.NoError(t, err)
	require.Equal(t, "123_Ada", id.Label)
	require.Equal(t, 3, an.Calls())
	require.True(t, reg.HasCard("123"))
	require.True(t, ov.seen("Enroll: Ada"))
}

func TestEnroller_Timeout(t *testing.T) {
	e := faceid.NewEnroller(faceid.VerifierDeps{
		Registry: newRegistry(t),
		Frames:   frameSource{},
		Clock:    clock.Real(),
	}, faceid.EnrollerConfig{Attempts: 3, Interval: time.Millisecond})

	_, err := e.Enroll(context.Background(), "123", "Ada")
	require.ErrorIs(t, err, faceid.ErrEnrollTimeout)
}

func TestLoopingAnalyzer_Wraps(t *testing.T) {
	open := faceid.ScriptStep{Faces: []faceid.Face{faceid.SyntheticFace(adaEmbedding, true)}}
	closed := faceid.ScriptStep{Faces: []faceid.Face{faceid.SyntheticFace(adaEmbedding, false)}}
	a := faceid.NewLoopingAnalyzer(open, closed)

	var ears []float64
	for i := 0; i < 4; i++ {
		faces, err := a.Detect(nil)
		require.NoError(t, err)
		ear, ok := faceid.EyeAspectRatio(faces[0].LeftEye)
		require.True(t, ok)
		ears = append(ears, math.Round(ear*10)/10)
	}
	require.Equal(t, []float64{0.3, 0.1, 0.3, 0.1}, ears)
	require.Equal(t, 4, a.Calls())
}
