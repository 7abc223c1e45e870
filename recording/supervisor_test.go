package recording

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vaultkeeperirl-design/PiCAM/camera"
	"github.com/vaultkeeperirl-design/PiCAM/catalog"
)

type fakeProcess struct {
	mu        sync.Mutex
	startErr  error
	quitErr   error
	exitErr   error
	killCount int
	quitCount int
	exited    bool
	done      chan struct{}

	// exitOnQuit makes SignalQuit behave like a cooperative encoder.
	exitOnQuit bool
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{done: make(chan struct{}), exitOnQuit: true}
}

func (p *fakeProcess) Start() error {
	return p.startErr
}

func (p *fakeProcess) SignalQuit() error {
	p.mu.Lock()
	p.quitCount++
	quitErr := p.quitErr
	exitOnQuit := p.exitOnQuit
	p.mu.Unlock()

	if quitErr != nil {
		return quitErr
	}
	if exitOnQuit {
		p.exit(nil)
	}
	return nil
}

func (p *fakeProcess) Kill() {
	p.mu.Lock()
	p.killCount++
	p.mu.Unlock()
	p.exit(errors.New("signal: killed"))
}

func (p *fakeProcess) exit(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return
	}
	p.exited = true
	p.exitErr = err
	close(p.done)
}

func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) ExitErr() error {
	select {
	case <-p.done:
		return p.exitErr
	default:
		return nil
	}
}

func (p *fakeProcess) kills() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killCount
}

type fakeRepo struct {
	mu    sync.Mutex
	clips []*catalog.Clip
}

func (r *fakeRepo) Add(ctx context.Context, clip *catalog.Clip) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clips = append(r.clips, clip)
	return nil
}

func (r *fakeRepo) GetByID(ctx context.Context, id string) (*catalog.Clip, error) {
	return nil, nil
}

func (r *fakeRepo) Recent(ctx context.Context, n int) ([]*catalog.Clip, error) {
	return nil, nil
}

func (r *fakeRepo) TotalBytes(ctx context.Context) (int64, error) { return 0, nil }

func (r *fakeRepo) last(t *testing.T) *catalog.Clip {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.clips) == 0 {
		t.Fatal("no clip was catalogued")
	}
	return r.clips[len(r.clips)-1]
}

type fakeProber struct {
	result ProbeResult
	err    error
}

func (p *fakeProber) Probe(path string) (ProbeResult, error) { return p.result, p.err }

func newTestSupervisor(t *testing.T, proc *fakeProcess) (*Supervisor, *camera.State, *fakeRepo) {
	t.Helper()

	snap := camera.Snapshot{
		Device:      "/dev/video0",
		Resolution:  "3840x2160",
		FPS:         30,
		OutputDir:   t.TempDir(),
		ClipCounter: 1,
		Limits:      camera.DefaultLimits(),
	}
	state := camera.NewState(snap)
	repo := &fakeRepo{}

	s := NewSupervisor(state, repo, &fakeProber{result: ProbeResult{DurationSeconds: 12.5}}, nil)
	s.StartupGrace = time.Millisecond
	s.StopTimeout = time.Second
	s.newProcess = func(args []string) encoderProcess { return proc }
	return s, state, repo
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartStop_CleanLifecycle(t *testing.T) {
	proc := newFakeProcess()
	s, state, repo := newTestSupervisor(t, proc)

	id, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected a session id")
	}

	snap := state.Get()
	if !snap.Recording || snap.RecordingStarted.IsZero() {
		t.Errorf("state not marked recording: %+v", snap)
	}
	if got := s.Status(); got.Phase != PhaseRecording || got.SessionID != id {
		t.Errorf("unexpected status %+v", got)
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if state.Get().Recording {
		t.Error("state still marked recording after stop")
	}
	if got := s.Status().Phase; got != PhaseIdle {
		t.Errorf("expected idle after stop, got %s", got)
	}
	if proc.kills() != 0 {
		t.Errorf("clean stop must not kill, got %d kills", proc.kills())
	}

	clip := repo.last(t)
	if clip.ID != id || clip.Number != 1 || clip.ForcedStop || clip.Truncated {
		t.Errorf("unexpected catalog row %+v", clip)
	}
	if clip.Duration != 12500*time.Millisecond {
		t.Errorf("probe duration not recorded, got %v", clip.Duration)
	}
}

func TestStart_WhileActiveReturnsError(t *testing.T) {
	proc := newFakeProcess()
	s, _, _ := newTestSupervisor(t, proc)

	if _, err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyRecording) {
		t.Errorf("expected ErrAlreadyRecording, got %v", err)
	}
}

func TestStop_WhileIdleReturnsError(t *testing.T) {
	s, _, _ := newTestSupervisor(t, newFakeProcess())

	if err := s.Stop(context.Background()); !errors.Is(err, ErrNotRecording) {
		t.Errorf("expected ErrNotRecording, got %v", err)
	}
}

func TestStart_ConsumesClipNumberOnFailure(t *testing.T) {
	proc := newFakeProcess()
	proc.startErr = errors.New("exec: ffmpeg not found")
	s, state, _ := newTestSupervisor(t, proc)

	if _, err := s.Start(context.Background()); err == nil {
		t.Fatal("expected start failure")
	}

	if got := s.Status().Phase; got != PhaseIdle {
		t.Errorf("expected idle after failed start, got %s", got)
	}
	snap := state.Get()
	if snap.LastError == "" {
		t.Error("expected error flag on state")
	}
	if snap.ClipCounter != 2 {
		t.Errorf("failed start must still consume its clip number, counter=%d", snap.ClipCounter)
	}

	// The number is burnt; a retry must get the next one.
	proc2 := newFakeProcess()
	s.newProcess = func(args []string) encoderProcess { return proc2 }
	if _, err := s.Start(context.Background()); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if state.Get().ClipCounter != 3 {
		t.Errorf("expected counter 3 after retry, got %d", state.Get().ClipCounter)
	}
}

func TestStart_DeathDuringGraceFails(t *testing.T) {
	proc := newFakeProcess()
	s, state, _ := newTestSupervisor(t, proc)
	s.StartupGrace = 50 * time.Millisecond
	proc.exit(errors.New("exit status 1"))

	if _, err := s.Start(context.Background()); err == nil {
		t.Fatal("expected error when encoder dies during startup")
	}
	if got := s.Status().Phase; got != PhaseIdle {
		t.Errorf("expected idle, got %s", got)
	}
	if state.Get().LastError == "" {
		t.Error("expected error flag set")
	}
}

func TestStart_WaitsForDeviceYieldBeforeLaunch(t *testing.T) {
	proc := newFakeProcess()
	s, _, _ := newTestSupervisor(t, proc)

	var mu sync.Mutex
	var order []string
	s.newProcess = func(args []string) encoderProcess {
		mu.Lock()
		order = append(order, "launch")
		mu.Unlock()
		return proc
	}
	s.DeviceYield = func(ctx context.Context) error {
		if got := s.Status().Phase; got != PhaseStarting {
			t.Errorf("device holder must observe starting phase, saw %s", got)
		}
		mu.Lock()
		order = append(order, "yield")
		mu.Unlock()
		return nil
	}

	if _, err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "yield" || order[1] != "launch" {
		t.Errorf("expected yield before launch, got %v", order)
	}
}

func TestStart_PhaseVisibleBeforeEncoderLaunch(t *testing.T) {
	proc := newFakeProcess()
	s, _, _ := newTestSupervisor(t, proc)

	gate := make(chan struct{})
	launched := make(chan struct{}, 1)
	s.newProcess = func(args []string) encoderProcess {
		launched <- struct{}{}
		return proc
	}
	s.DeviceYield = func(ctx context.Context) error {
		<-gate
		return nil
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Start(context.Background())
		errCh <- err
	}()

	// The device holder polls Recording the same way the preview loop
	// does; it must see the start before the encoder exists, or it can
	// never release the camera in time.
	waitFor(t, "non-idle phase", s.Recording)
	select {
	case <-launched:
		t.Fatal("encoder launched before the device was yielded")
	default:
	}

	close(gate)
	if err := <-errCh; err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	select {
	case <-launched:
	default:
		t.Fatal("encoder was never launched")
	}
}

func TestStart_YieldFailureReturnsToIdle(t *testing.T) {
	proc := newFakeProcess()
	s, state, _ := newTestSupervisor(t, proc)
	s.DeviceYield = func(ctx context.Context) error {
		return errors.New("capture device still busy")
	}

	if _, err := s.Start(context.Background()); err == nil {
		t.Fatal("expected start failure when the device is not yielded")
	}
	if got := s.Status().Phase; got != PhaseIdle {
		t.Errorf("expected idle after yield failure, got %s", got)
	}
	snap := state.Get()
	if snap.LastError == "" {
		t.Error("expected error flag on state")
	}
	if snap.ClipCounter != 2 {
		t.Errorf("failed start must still consume its clip number, counter=%d", snap.ClipCounter)
	}
}

func TestStop_TimeoutKills(t *testing.T) {
	proc := newFakeProcess()
	proc.exitOnQuit = false // encoder ignores "q"
	s, _, repo := newTestSupervisor(t, proc)
	s.StopTimeout = 20 * time.Millisecond

	if _, err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if proc.kills() == 0 {
		t.Error("expected kill after quit timeout")
	}
	if clip := repo.last(t); !clip.ForcedStop {
		t.Errorf("expected forced_stop flag, got %+v", clip)
	}
}

func TestStop_QuitErrorKills(t *testing.T) {
	proc := newFakeProcess()
	proc.quitErr = errors.New("broken pipe")
	s, _, repo := newTestSupervisor(t, proc)

	if _, err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if proc.kills() == 0 {
		t.Error("expected kill when quit signal fails")
	}
	if clip := repo.last(t); !clip.ForcedStop {
		t.Errorf("expected forced_stop flag, got %+v", clip)
	}
}

func TestStop_ForcedKillMarksTruncatedWhenProbeFails(t *testing.T) {
	proc := newFakeProcess()
	proc.exitOnQuit = false
	s, _, repo := newTestSupervisor(t, proc)
	s.StopTimeout = 10 * time.Millisecond
	s.prober = &fakeProber{err: errors.New("moov atom not found")}

	if _, err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	clip := repo.last(t)
	if !clip.Truncated || !clip.ForcedStop {
		t.Errorf("expected truncated forced clip, got %+v", clip)
	}
}

func TestUnexpectedDeath_ReturnsToIdleWithError(t *testing.T) {
	proc := newFakeProcess()
	s, state, repo := newTestSupervisor(t, proc)

	if _, err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	proc.exit(errors.New("exit status 1"))

	waitFor(t, "supervisor to reclaim", func() bool {
		return s.Status().Phase == PhaseIdle
	})

	snap := state.Get()
	if snap.Recording {
		t.Error("state still marked recording after encoder death")
	}
	if snap.LastError == "" {
		t.Error("expected error flag after unexpected death")
	}
	if clip := repo.last(t); clip.ForcedStop {
		t.Errorf("unexpected death is not a forced stop: %+v", clip)
	}

	// The supervisor is usable again.
	proc2 := newFakeProcess()
	s.newProcess = func(args []string) encoderProcess { return proc2 }
	if _, err := s.Start(context.Background()); err != nil {
		t.Fatalf("restart after death failed: %v", err)
	}
}

func TestStop_ConcurrentSecondStopWaits(t *testing.T) {
	proc := newFakeProcess()
	proc.exitOnQuit = false
	s, _, _ := newTestSupervisor(t, proc)
	s.StopTimeout = 100 * time.Millisecond

	if _, err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Stop(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil && !errors.Is(err, ErrNotRecording) {
			t.Errorf("unexpected stop error: %v", err)
		}
	}
	if got := s.Status().Phase; got != PhaseIdle {
		t.Errorf("expected idle, got %s", got)
	}
}

func TestSessionIDs_UniquePerRecording(t *testing.T) {
	proc := newFakeProcess()
	s, _, _ := newTestSupervisor(t, proc)

	id1, err := s.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}

	proc2 := newFakeProcess()
	s.newProcess = func(args []string) encoderProcess { return proc2 }
	id2, err := s.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if id1 == id2 {
		t.Error("session ids must be unique")
	}
}
