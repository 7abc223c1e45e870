package recording

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vaultkeeperirl-design/PiCAM/camera"
	"github.com/vaultkeeperirl-design/PiCAM/catalog"
	"github.com/vaultkeeperirl-design/PiCAM/common"
)

// Phase is the supervisor lifecycle state.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseStarting  Phase = "starting"
	PhaseRecording Phase = "recording"
	PhaseStopping  Phase = "stopping"
)

var (
	// ErrAlreadyRecording is returned by Start while a session is active.
	ErrAlreadyRecording = errors.New("recording already in progress")
	// ErrNotRecording is returned by Stop when nothing is running.
	ErrNotRecording = errors.New("no recording in progress")
)

// encoderProcess abstracts the external encoder so the supervisor's state
// machine can be exercised without a real ffmpeg binary.
type encoderProcess interface {
	Start() error
	// SignalQuit asks the encoder to finish the container and exit.
	SignalQuit() error
	// Kill terminates the process immediately. Safe to call more than
	// once and after exit.
	Kill()
	// Done is closed when the process has exited.
	Done() <-chan struct{}
	// ExitErr reports the wait result. Only meaningful once Done is
	// closed.
	ExitErr() error
}

type processFactory func(args []string) encoderProcess

// Session identifies one recording from Start to catalog row.
type Session struct {
	ID        string
	Number    int
	Path      string
	FormatKey string
	StartedAt time.Time

	proc encoderProcess
}

// Status is a point-in-time view of the supervisor for UIs and the API.
type Status struct {
	Phase     Phase     `json:"phase"`
	SessionID string    `json:"session_id,omitempty"`
	ClipPath  string    `json:"clip_path,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

// Supervisor owns the encoder process lifecycle. Start and Stop are
// serialized; at most one session exists at a time. The process handle
// never leaves this package — everything else observes recordings through
// the camera state flag and Status.
type Supervisor struct {
	state  *camera.State
	repo   catalog.ClipRepository
	prober Prober
	logger common.Logger

	// StopTimeout bounds the graceful-quit wait before the encoder is
	// killed. StartupGrace is how long a freshly started encoder gets to
	// prove it didn't die on its first frames.
	StopTimeout  time.Duration
	StartupGrace time.Duration

	// DeviceYield, when set, is called after the phase moves to Starting
	// and must return once the capture device has been released. The
	// encoder is only launched after it returns, so it never races the
	// preview for the camera. Set before the first Start.
	DeviceYield func(ctx context.Context) error

	newProcess processFactory

	mu      sync.Mutex
	phase   Phase
	current *Session
	stopped chan struct{}
}

// NewSupervisor creates a supervisor. repo and prober may be nil, which
// disables cataloguing and clip validation respectively; logger nil means
// no logging.
func NewSupervisor(state *camera.State, repo catalog.ClipRepository, prober Prober, logger common.Logger) *Supervisor {
	if logger == nil {
		logger = common.NopLogger
	}
	return &Supervisor{
		state:        state,
		repo:         repo,
		prober:       prober,
		logger:       logger,
		StopTimeout:  10 * time.Second,
		StartupGrace: 800 * time.Millisecond,
		newProcess:   newFFmpegProcess,
		phase:        PhaseIdle,
	}
}

// Status returns the current phase and session identity.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{Phase: s.phase}
	if s.current != nil {
		st.SessionID = s.current.ID
		st.ClipPath = s.current.Path
		st.StartedAt = s.current.StartedAt
	}
	return st
}

// Recording reports whether a session is active in any phase past Idle.
func (s *Supervisor) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase != PhaseIdle
}

// Start launches the encoder for a new clip. The clip number is consumed
// immediately, so a failed launch still burns its number and the next
// attempt gets a fresh file name. Returns the session ID.
func (s *Supervisor) Start(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.phase != PhaseIdle {
		s.mu.Unlock()
		return "", ErrAlreadyRecording
	}
	s.phase = PhaseStarting
	s.mu.Unlock()

	snap := s.state.Get()
	number := s.state.NextClipNumber()
	snap.ClipCounter = number

	startedAt := time.Now()
	path := filepath.Join(snap.OutputDir, snap.ClipNameAt(startedAt))

	proc, err := s.launch(ctx, snap, path)
	if err != nil {
		s.mu.Lock()
		s.phase = PhaseIdle
		s.mu.Unlock()
		s.state.SetError(err.Error())
		return "", err
	}

	session := &Session{
		ID:        uuid.NewString(),
		Number:    number,
		Path:      path,
		FormatKey: snap.Format().Key,
		StartedAt: startedAt,
		proc:      proc,
	}

	s.mu.Lock()
	s.current = session
	s.stopped = make(chan struct{})
	s.phase = PhaseRecording
	s.mu.Unlock()

	s.state.SetError("")
	s.state.SetRecording(true, startedAt)

	s.logger.Info("Recording started",
		"session", session.ID, "clip", path, "format", session.FormatKey, "number", number)

	go s.watch(session)
	return session.ID, nil
}

// launch waits for the capture device, spawns the encoder and holds it
// through the startup grace. The mutex is not held here: the Starting
// phase is what tells the device holder to let go, so it has to be
// observable while we wait, and Status must answer during the grace.
func (s *Supervisor) launch(ctx context.Context, snap camera.Snapshot, path string) (encoderProcess, error) {
	if s.DeviceYield != nil {
		if err := s.DeviceYield(ctx); err != nil {
			return nil, fmt.Errorf("capture device was not released for the encoder: %w", err)
		}
	}

	if err := os.MkdirAll(snap.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", snap.OutputDir, err)
	}

	proc := s.newProcess(BuildArgs(snap, path))
	if err := proc.Start(); err != nil {
		return nil, fmt.Errorf("failed to launch encoder: %w", err)
	}

	// A camera held by another process or a bad ALSA device makes ffmpeg
	// exit within the first few hundred milliseconds. Catch that here so
	// Start fails loudly instead of reporting a recording that is
	// already dead.
	select {
	case <-proc.Done():
		proc.Kill()
		return nil, fmt.Errorf("encoder exited during startup: %w", exitOrUnknown(proc))
	case <-time.After(s.StartupGrace):
	}
	return proc, nil
}

// watch notices the encoder dying without a Stop. Disk-full, USB drop or
// an OOM kill all land here: flag the error, reclaim, return to Idle so
// the preview can take the device back.
func (s *Supervisor) watch(session *Session) {
	<-session.proc.Done()

	s.mu.Lock()
	if s.phase != PhaseRecording || s.current == nil || s.current.ID != session.ID {
		// A Stop owns the shutdown; nothing to do here.
		s.mu.Unlock()
		return
	}
	s.current = nil
	s.phase = PhaseIdle
	stopped := s.stopped
	s.mu.Unlock()

	exitErr := exitOrUnknown(session.proc)
	s.logger.Error("Encoder exited unexpectedly",
		"session", session.ID, "clip", session.Path, "error", exitErr)

	s.state.SetRecording(false, time.Time{})
	s.state.SetError(fmt.Sprintf("recording stopped unexpectedly: %v", exitErr))

	s.finalize(session, false)
	close(stopped)
}

// Stop ends the active recording: ask the encoder to finish the container,
// wait up to StopTimeout, then kill. Every non-clean path also kills, so
// the device is guaranteed free when Stop returns. A concurrent Stop during
// Stopping waits for the first one and returns nil.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	switch s.phase {
	case PhaseIdle, PhaseStarting:
		s.mu.Unlock()
		return ErrNotRecording
	case PhaseStopping:
		stopped := s.stopped
		s.mu.Unlock()
		select {
		case <-stopped:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	session := s.current
	stopped := s.stopped
	s.phase = PhaseStopping
	s.mu.Unlock()

	forced := false
	if err := session.proc.SignalQuit(); err != nil {
		s.logger.Warn("Failed to signal encoder, killing",
			"session", session.ID, "error", err)
		session.proc.Kill()
		forced = true
	}

	select {
	case <-session.proc.Done():
	case <-time.After(s.StopTimeout):
		s.logger.Warn("Encoder ignored quit request, killing",
			"session", session.ID, "timeout", s.StopTimeout)
		session.proc.Kill()
		forced = true
		<-session.proc.Done()
	}

	if exitErr := session.proc.ExitErr(); exitErr != nil && !forced {
		s.logger.Warn("Encoder exited uncleanly on stop",
			"session", session.ID, "error", exitErr)
		session.proc.Kill()
		forced = true
	}

	s.mu.Lock()
	s.current = nil
	s.phase = PhaseIdle
	s.mu.Unlock()

	s.state.SetRecording(false, time.Time{})
	s.logger.Info("Recording stopped",
		"session", session.ID, "clip", session.Path, "forced", forced)

	s.finalize(session, forced)
	close(stopped)
	return nil
}

// finalize probes the finished clip and writes its catalog row. Failures
// here are logged, never propagated: the clip file on disk is the source
// of truth and must not be endangered by bookkeeping.
func (s *Supervisor) finalize(session *Session, forced bool) {
	var size int64
	if info, err := os.Stat(session.Path); err == nil {
		size = info.Size()
	}

	var duration time.Duration
	truncated := false
	if s.prober != nil {
		result, err := s.prober.Probe(session.Path)
		if err != nil {
			truncated = true
			s.logger.Warn("Clip failed container probe",
				"session", session.ID, "clip", session.Path, "error", err)
		} else {
			duration = time.Duration(result.DurationSeconds * float64(time.Second))
		}
	}

	if s.repo == nil {
		return
	}
	clip := &catalog.Clip{
		ID:         session.ID,
		Number:     session.Number,
		Path:       session.Path,
		FormatKey:  session.FormatKey,
		StartedAt:  session.StartedAt,
		Duration:   duration,
		SizeBytes:  size,
		Truncated:  truncated,
		ForcedStop: forced,
	}
	if err := s.repo.Add(context.Background(), clip); err != nil {
		s.logger.Error("Failed to catalog clip",
			"session", session.ID, "clip", session.Path, "error", err)
	}
}

func exitOrUnknown(proc encoderProcess) error {
	if err := proc.ExitErr(); err != nil {
		return err
	}
	return errors.New("exit status 0")
}

// ffmpegProcess is the real encoder behind the process interface.
type ffmpegProcess struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	done    chan struct{}
	exitErr error
}

func newFFmpegProcess(args []string) encoderProcess {
	return &ffmpegProcess{
		cmd:  exec.Command("ffmpeg", args...),
		done: make(chan struct{}),
	}
}

func (p *ffmpegProcess) Start() error {
	stdin, err := p.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open encoder stdin: %w", err)
	}
	p.stdin = stdin

	if err := p.cmd.Start(); err != nil {
		return err
	}

	go func() {
		p.exitErr = p.cmd.Wait()
		close(p.done)
	}()
	return nil
}

// SignalQuit writes "q" to ffmpeg's stdin, its documented way to finish
// the output file cleanly.
func (p *ffmpegProcess) SignalQuit() error {
	if _, err := io.WriteString(p.stdin, "q"); err != nil {
		return fmt.Errorf("failed to write quit to encoder: %w", err)
	}
	return nil
}

func (p *ffmpegProcess) Kill() {
	if p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
}

func (p *ffmpegProcess) Done() <-chan struct{} {
	return p.done
}

func (p *ffmpegProcess) ExitErr() error {
	select {
	case <-p.done:
		return p.exitErr
	default:
		return nil
	}
}
