// Package supervisor owns the worker-process pool: one process per core,
// replacement of crashed workers behind a restart-rate limiter, and
// coordinated graceful shutdown over each child's stdin control pipe.
package supervisor

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"
	"time"
)

// ShutdownMessage is the single control message a worker receives on stdin.
// The worker stops accepting new work, drains in-flight jobs and exits.
const ShutdownMessage = "shutdown"

// WorkerEnv marks a spawned process as a pool worker.
const WorkerEnv = "WORKER_PROCESS"

type child struct {
	id       int
	stdin    io.WriteCloser
	kill     func() error
	done     chan struct{} // closed when the process has exited
	stopping bool          // guarded by Supervisor.mu
}

type Supervisor struct {
	DrainTimeout time.Duration
	Limiter      *RestartLimiter
	ExtraEnv     []string

	mu       sync.Mutex
	procs    map[int]*child
	nextID   int
	draining bool

	// startFn spawns one worker process; replaced in tests.
	startFn func(id int) (*child, error)
}

func New(drainTimeout time.Duration, limiter *RestartLimiter) *Supervisor {
	s := &Supervisor{
		DrainTimeout: drainTimeout,
		Limiter:      limiter,
		procs:        make(map[int]*child),
	}
	s.startFn = s.spawn
	return s
}

// Start brings the pool up to n workers.
func (s *Supervisor) Start(n int) error {
	for i := 0; i < n; i++ {
		if err := s.startOne(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Supervisor) startOne() error {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return nil
	}
	s.nextID++
	id := s.nextID
	s.mu.Unlock()

	c, err := s.startFn(id)
	if err != nil {
		return fmt.Errorf("start worker %d: %w", id, err)
	}

	s.mu.Lock()
	s.procs[id] = c
	s.mu.Unlock()

	go s.watch(c)
	log.Printf("worker %d started", id)
	return nil
}

// watch reforks a worker that exits unexpectedly, unless the restart limiter
// says the pool is crash-looping.
func (s *Supervisor) watch(c *child) {
	<-c.done

	s.mu.Lock()
	delete(s.procs, c.id)
	expected := s.draining || c.stopping
	s.mu.Unlock()

	if expected {
		return
	}

	log.Printf("worker %d exited unexpectedly", c.id)
	if s.Limiter != nil && !s.Limiter.Allow() {
		log.Printf("restart limit reached, not replacing worker %d", c.id)
		return
	}
	if err := s.startOne(); err != nil {
		log.Printf("replace worker %d: %v", c.id, err)
	}
}

// Size returns the current pool size.
func (s *Supervisor) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

// Resize grows the pool by spawning or shrinks it by gracefully stopping
// surplus workers.
func (s *Supervisor) Resize(n int) {
	s.mu.Lock()
	draining := s.draining
	s.mu.Unlock()
	if n < 0 || draining {
		return
	}
	for s.Size() < n {
		if err := s.startOne(); err != nil {
			log.Printf("scale up: %v", err)
			return
		}
	}

	s.mu.Lock()
	var extra []*child
	for _, c := range s.procs {
		if len(s.procs)-len(extra) <= n {
			break
		}
		c.stopping = true
		extra = append(extra, c)
	}
	s.mu.Unlock()

	for _, c := range extra {
		s.stop(c)
	}
}

// Shutdown broadcasts the shutdown message to every worker, waits up to
// DrainTimeout for each to drain and exit, then force-terminates stragglers.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	s.draining = true
	all := make([]*child, 0, len(s.procs))
	for _, c := range s.procs {
		all = append(all, c)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range all {
		wg.Add(1)
		go func(c *child) {
			defer wg.Done()
			s.stop(c)
		}(c)
	}
	wg.Wait()
}

func (s *Supervisor) stop(c *child) {
	_, _ = fmt.Fprintln(c.stdin, ShutdownMessage)
	select {
	case <-c.done:
		log.Printf("worker %d drained and exited", c.id)
	case <-time.After(s.DrainTimeout):
		log.Printf("worker %d did not exit within %s, killing", c.id, s.DrainTimeout)
		_ = c.kill()
		<-c.done
	}
	s.mu.Lock()
	delete(s.procs, c.id)
	s.mu.Unlock()
}

// spawn re-executes this binary as a worker process. Control channel is the
// child's stdin; stdout/stderr are inherited.
func (s *Supervisor) spawn(id int) (*child, error) {
	bin, err := os.Executable()
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(bin)
	cmd.Env = append(os.Environ(), WorkerEnv+"=1")
	cmd.Env = append(cmd.Env, s.ExtraEnv...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()

	return &child{
		id:    id,
		stdin: stdin,
		kill:  func() error { return cmd.Process.Kill() },
		done:  done,
	}, nil
}
