package localchains

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	apperrors "github.com/chainsafe/cubist/pkg/app/errors"
)

// killTimeout is how long a child gets to exit after SIGTERM.
const killTimeout = 5 * time.Second

// process is a supervised child process. Its output is logged line by line.
type process struct {
	name string
	cmd  *exec.Cmd
	done chan struct{}
	err  error

	killOnce sync.Once
	logger   *zap.Logger
}

// startProcess starts path with args. The child is not bound to a context:
// it runs until kill is called or it exits on its own.
func startProcess(name string, logger *zap.Logger, path string, args ...string) (*process, error) {
	cmd := exec.Command(path, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, apperrors.SupervisionError(err, fmt.Sprintf("unable to start %s", name))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, apperrors.SupervisionError(err, fmt.Sprintf("unable to start %s", name))
	}
	logger = logger.With(zap.String("chain", name))
	logger.Debug("Starting process", zap.String("path", path), zap.Strings("args", redactArgs(args)))
	if err := cmd.Start(); err != nil {
		return nil, apperrors.SupervisionError(err, fmt.Sprintf("unable to start %s (at %s)", name, path))
	}

	p := &process{name: name, cmd: cmd, done: make(chan struct{}), logger: logger}
	var pipes sync.WaitGroup
	pipes.Add(2)
	go p.logLines(&pipes, stdout, "stdout")
	go p.logLines(&pipes, stderr, "stderr")
	go func() {
		pipes.Wait()
		p.err = cmd.Wait()
		logger.Debug("Process exited", zap.Int("pid", p.pid()), zap.Error(p.err))
		close(p.done)
	}()
	return p, nil
}

func (p *process) logLines(wg *sync.WaitGroup, r io.Reader, stream string) {
	defer wg.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		p.logger.Debug(sc.Text(), zap.String("stream", stream))
	}
}

func (p *process) pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// exited is closed once the process is gone.
func (p *process) exited() <-chan struct{} { return p.done }

// whileRunning runs f until it returns or the process exits, whichever
// comes first.
func (p *process) whileRunning(ctx context.Context, f func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	res := make(chan error, 1)
	go func() { res <- f(ctx) }()
	select {
	case err := <-res:
		return err
	case <-p.done:
		return apperrors.SupervisionError(p.err, fmt.Sprintf("process %s terminated", p.name))
	}
}

// kill sends SIGTERM and, if the process does not exit in time, SIGKILL.
func (p *process) kill() error {
	var err error
	p.killOnce.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}
		if sigErr := p.cmd.Process.Signal(unix.SIGTERM); sigErr != nil && !errors.Is(sigErr, unix.ESRCH) {
			p.logger.Debug("SIGTERM failed", zap.Error(sigErr))
		}
		select {
		case <-p.done:
		case <-time.After(killTimeout):
			p.logger.Warn("Process did not exit, killing it", zap.Int("pid", p.pid()))
			err = p.cmd.Process.Kill()
			<-p.done
		}
	})
	return err
}

// redactArgs hides the value following --mnemonic.
func redactArgs(args []string) []string {
	out := make([]string, len(args))
	copy(out, args)
	for i := 0; i+1 < len(out); i++ {
		if out[i] == "--mnemonic" {
			out[i+1] = "***"
		}
	}
	return out
}

// nextAvailablePort returns the first port above after that nothing listens on.
func nextAvailablePort(after int) (int, error) {
	for port := after + 1; port < 65536; port++ {
		ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err != nil {
			continue
		}
		_ = ln.Close()
		return port, nil
	}
	return 0, apperrors.SupervisionError(nil, fmt.Sprintf("no available port above %d", after))
}
