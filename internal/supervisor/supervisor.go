// Package supervisor launches and babysits the role processes: it restarts
// crashed workers within a sliding budget, emits heartbeats and tears the
// tree down gracefully on shutdown.
package supervisor

import (
	"context"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/runnelsdev/copybridge/internal/core"
)

// RoleState is a supervised process's lifecycle state.
type RoleState string

const (
	RoleStarting   RoleState = "starting"
	RoleRunning    RoleState = "running"
	RoleRestarting RoleState = "restarting"
	RoleCrashed    RoleState = "crashed"
	RoleStopped    RoleState = "stopped"
)

// RoleSpec names one child worker. The supervisor re-invokes its own binary
// with --role so every worker ships in the same artifact.
type RoleSpec struct {
	Name string
	Args []string
	Env  []string
}

// Config holds the restart and heartbeat policy.
type Config struct {
	Binary            string // defaults to the current executable
	RestartDelay      time.Duration
	MaxRestarts       int
	RestartWindow     time.Duration
	HeartbeatInterval time.Duration
	GracePeriod       time.Duration
}

// RoleStatus is a heartbeat snapshot of one role.
type RoleStatus struct {
	Name   string
	State  RoleState
	PID    int
	Uptime time.Duration
}

type roleProcess struct {
	spec    RoleSpec
	tracker *restartTracker

	mu        sync.Mutex
	cmd       *exec.Cmd
	state     RoleState
	startedAt time.Time
}

// Supervisor owns the role processes. All shared state lives here; roles
// never talk to each other except through the broker stream.
type Supervisor struct {
	cfg    Config
	clock  core.Clock
	logger core.ILogger

	mu    sync.Mutex
	roles []*roleProcess
}

func New(cfg Config, clock core.Clock, logger core.ILogger) *Supervisor {
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = 5 * time.Second
	}
	if cfg.MaxRestarts <= 0 {
		cfg.MaxRestarts = 10
	}
	if cfg.RestartWindow <= 0 {
		cfg.RestartWindow = 5 * time.Minute
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 5 * time.Second
	}
	if cfg.Binary == "" {
		if exe, err := os.Executable(); err == nil {
			cfg.Binary = exe
		}
	}
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &Supervisor{cfg: cfg, clock: clock, logger: logger.WithField("component", "supervisor")}
}

// Add registers a role to supervise. Must be called before Run.
func (s *Supervisor) Add(spec RoleSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles = append(s.roles, &roleProcess{
		spec:    spec,
		state:   RoleStarting,
		tracker: newRestartTracker(s.cfg.RestartWindow, s.cfg.MaxRestarts, s.clock),
	})
}

// Run launches every role and blocks until ctx is cancelled and the tree has
// been torn down.
func (s *Supervisor) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	s.mu.Lock()
	roles := append([]*roleProcess(nil), s.roles...)
	s.mu.Unlock()

	for _, role := range roles {
		role := role
		group.Go(func() error {
			s.superviseRole(ctx, role)
			return nil
		})
	}
	group.Go(func() error {
		s.heartbeatLoop(ctx)
		return nil
	})

	return group.Wait()
}

// superviseRole runs one role in a restart loop until ctx is done or the
// restart budget is exhausted.
func (s *Supervisor) superviseRole(ctx context.Context, role *roleProcess) {
	for ctx.Err() == nil {
		err := s.runOnce(ctx, role)
		if ctx.Err() != nil {
			s.setState(role, RoleStopped)
			return
		}
		if err == nil {
			s.logger.Info("Role exited cleanly", "role", role.spec.Name)
			s.setState(role, RoleStopped)
			return
		}

		s.logger.Warn("Role exited with error", "role", role.spec.Name, "error", err)
		if !role.tracker.allow() {
			s.logger.Error("Role exceeded restart budget, giving up",
				"role", role.spec.Name,
				"restarts", role.tracker.count(),
				"window", s.cfg.RestartWindow.String())
			s.setState(role, RoleCrashed)
			return
		}

		s.setState(role, RoleRestarting)
		core.SleepCtx(ctx, s.clock, s.cfg.RestartDelay)
	}
}

// runOnce starts the role's process and waits for it to exit. A SIGTERM is
// delivered on ctx cancellation, then SIGKILL after the grace period.
func (s *Supervisor) runOnce(ctx context.Context, role *roleProcess) error {
	cmd := exec.Command(s.cfg.Binary, role.spec.Args...)
	cmd.Env = append(os.Environ(), role.spec.Env...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return err
	}

	role.mu.Lock()
	role.cmd = cmd
	role.state = RoleRunning
	role.startedAt = s.clock.Now()
	role.mu.Unlock()

	s.logger.Info("Role started", "role", role.spec.Name, "pid", cmd.Process.Pid)

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	select {
	case err := <-waitDone:
		return err
	case <-ctx.Done():
		s.terminate(role, cmd)
		<-waitDone
		return ctx.Err()
	}
}

// terminate asks the process to stop, escalating to SIGKILL after the grace
// period.
func (s *Supervisor) terminate(role *roleProcess, cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	s.logger.Info("Stopping role", "role", role.spec.Name, "pid", cmd.Process.Pid)
	_ = cmd.Process.Signal(syscall.SIGTERM)

	deadline := time.NewTimer(s.cfg.GracePeriod)
	defer deadline.Stop()
	probe := time.NewTicker(100 * time.Millisecond)
	defer probe.Stop()

	for {
		select {
		case <-deadline.C:
			s.logger.Warn("Role did not stop in time, killing", "role", role.spec.Name)
			_ = cmd.Process.Kill()
			return
		case <-probe.C:
			// Signal 0 probes liveness without delivering anything.
			if cmd.Process.Signal(syscall.Signal(0)) != nil {
				return
			}
		}
	}
}

func (s *Supervisor) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, status := range s.Statuses() {
				s.logger.Info("Role heartbeat",
					"role", status.Name,
					"state", string(status.State),
					"pid", status.PID,
					"uptime", status.Uptime.Round(time.Second).String())
			}
		}
	}
}

// Statuses reports a snapshot of every role, probing liveness with signal 0.
func (s *Supervisor) Statuses() []RoleStatus {
	s.mu.Lock()
	roles := append([]*roleProcess(nil), s.roles...)
	s.mu.Unlock()

	now := s.clock.Now()
	out := make([]RoleStatus, 0, len(roles))
	for _, role := range roles {
		role.mu.Lock()
		status := RoleStatus{Name: role.spec.Name, State: role.state}
		if role.cmd != nil && role.cmd.Process != nil {
			status.PID = role.cmd.Process.Pid
			if role.state == RoleRunning {
				status.Uptime = now.Sub(role.startedAt)
				if role.cmd.Process.Signal(syscall.Signal(0)) != nil {
					status.State = RoleCrashed
				}
			}
		}
		role.mu.Unlock()
		out = append(out, status)
	}
	return out
}

func (s *Supervisor) setState(role *roleProcess, state RoleState) {
	role.mu.Lock()
	role.state = state
	role.mu.Unlock()
}
