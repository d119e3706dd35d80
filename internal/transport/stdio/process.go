package stdio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// Spec describes how to launch an out-of-process controller.
type Spec struct {
	Command string
	Args    []string
	Env     []string
	Dir     string
}

// Process is a controller running as a child process speaking JSON lines on
// stdin/stdout. Its stderr is forwarded to the log.
type Process struct {
	*Conn
	cmd *exec.Cmd
}

const closeGrace = 2 * time.Second

// Start launches the process and waits for its HELLO under ctx.
func Start(ctx context.Context, name string, spec Spec, logger *zap.Logger) (*Process, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = &logWriter{logger: logger.With(zap.String("controller", name))}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}
	p := &Process{Conn: NewConn(name, stdout, stdin, logger), cmd: cmd}
	if _, err := p.Hello(ctx); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

// Close ends stdin and gives the process a moment to exit before killing it.
func (p *Process) Close() error {
	_ = p.Conn.Close()
	exited := make(chan error, 1)
	go func() { exited <- p.cmd.Wait() }()
	select {
	case err := <-exited:
		return ignoreExit(err)
	case <-time.After(closeGrace):
		_ = p.cmd.Process.Kill()
		<-exited
		return nil
	}
}

func ignoreExit(err error) error {
	if _, ok := err.(*exec.ExitError); ok {
		return nil
	}
	return err
}

type logWriter struct {
	logger *zap.Logger
}

func (w *logWriter) Write(b []byte) (int, error) {
	w.logger.Info("controller stderr", zap.ByteString("line", b))
	return len(b), nil
}
