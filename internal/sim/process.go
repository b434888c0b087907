package sim

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"movesetlab/internal/model"
)

// ProcessConfig describes an external simulator speaking JSON lines on
// stdin/stdout.
type ProcessConfig struct {
	Command string
	Args    []string
	Env     []string
	// Format is passed through on every request, e.g. gen1customgame.
	Format string
	// Stderr receives the process's stderr. Nil discards it.
	Stderr io.Writer
	// ShutdownTimeout bounds Close before the process is killed.
	ShutdownTimeout time.Duration
}

type processRequest struct {
	ID     uint64 `json:"id"`
	P1     string `json:"p1"`
	P2     string `json:"p2"`
	Seed   int64  `json:"seed"`
	Format string `json:"format,omitempty"`
}

type processResponse struct {
	ID     uint64 `json:"id"`
	Winner string `json:"winner"`
	Error  string `json:"error,omitempty"`
}

// ProcessSimulator owns one simulator process. Calls are serialized.
type ProcessSimulator struct {
	cfg ProcessConfig

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	enc    *json.Encoder
	nextID uint64
	lost   error

	closeOnce sync.Once
}

// StartProcess launches the simulator process.
func StartProcess(cfg ProcessConfig) (*ProcessSimulator, error) {
	if cfg.Command == "" {
		return nil, errors.New("simulator command is required")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	if len(cfg.Env) > 0 {
		cmd.Env = cfg.Env
	}
	cmd.Stderr = cfg.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("simulator stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("simulator stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start simulator %s: %w", cfg.Command, err)
	}

	p := &ProcessSimulator{
		cfg:    cfg,
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReaderSize(stdout, 64*1024),
		enc:    json.NewEncoder(stdin),
	}
	return p, nil
}

// ProcessFactory starts one process per worker.
func ProcessFactory(cfg ProcessConfig) Factory {
	return func() (Simulator, error) {
		return StartProcess(cfg)
	}
}

func (p *ProcessSimulator) Simulate(ctx context.Context, a, b model.PackedTeam, seed int64) (model.Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lost != nil {
		return 0, p.lost
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	// A blocked read can only be interrupted by killing the process.
	stop := context.AfterFunc(ctx, p.kill)
	defer stop()

	p.nextID++
	req := processRequest{ID: p.nextID, P1: string(a), P2: string(b), Seed: seed, Format: p.cfg.Format}
	if err := p.enc.Encode(req); err != nil {
		return 0, p.markLost(ctx, fmt.Errorf("write request: %w", err))
	}
	line, err := p.stdout.ReadBytes('\n')
	if err != nil {
		return 0, p.markLost(ctx, fmt.Errorf("read response: %w", err))
	}

	var resp processResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return 0, p.markLost(ctx, fmt.Errorf("decode response: %w", err))
	}
	if resp.ID != req.ID {
		return 0, p.markLost(ctx, fmt.Errorf("response id %d for request %d", resp.ID, req.ID))
	}
	if resp.Error != "" {
		return 0, fmt.Errorf("%w: seed %d: %s", ErrSimulation, seed, resp.Error)
	}
	return ParseWinner(resp.Winner)
}

func (p *ProcessSimulator) markLost(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		p.lost = fmt.Errorf("%w: %v", ErrWorkerLost, ctxErr)
		return ctxErr
	}
	p.lost = fmt.Errorf("%w: %v", ErrWorkerLost, err)
	p.kill()
	return p.lost
}

func (p *ProcessSimulator) kill() {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
}

// Close asks the process to exit by closing stdin and kills it if it does not
// exit within the shutdown timeout.
func (p *ProcessSimulator) Close() error {
	p.closeOnce.Do(func() {
		_ = p.stdin.Close()
		exited := make(chan struct{})
		go func() {
			_ = p.cmd.Wait()
			close(exited)
		}()
		select {
		case <-exited:
		case <-time.After(p.cfg.ShutdownTimeout):
			p.kill()
			<-exited
		}
	})
	return nil
}
