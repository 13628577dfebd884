package dls

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"sync"
)

// Process is a running instance of the hardware command service
type Process interface {
	// Stdout and Stderr must both be drained before Wait
	Stdout() io.Reader
	Stderr() io.Reader

	// Wait blocks until the process exits
	Wait() error

	// Kill terminates the process
	Kill() error
}

// Launcher starts the hardware command service with one command argument
type Launcher interface {
	Launch(ctx context.Context, arg string) (Process, error)
}

// ExecLauncher runs the service as an operating system process, for example
// Executable "ipy" with Args ["IronPythonDLS.py"]
type ExecLauncher struct {
	Executable string
	Args       []string
	Dir        string
}

// Launch satisfies Launcher
func (l ExecLauncher) Launch(ctx context.Context, arg string) (Process, error) {
	args := make([]string, 0, len(l.Args)+1)
	args = append(args, l.Args...)
	args = append(args, arg)
	cmd := exec.CommandContext(ctx, l.Executable, args...)
	cmd.Dir = l.Dir
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	log.Debugf("launched %s %q, pid %d", l.Executable, arg, cmd.Process.Pid)
	return &execProcess{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdout io.Reader
	stderr io.Reader
}

func (p *execProcess) Stdout() io.Reader { return p.stdout }
func (p *execProcess) Stderr() io.Reader { return p.stderr }
func (p *execProcess) Wait() error       { return p.cmd.Wait() }
func (p *execProcess) Kill() error       { return p.cmd.Process.Kill() }

// drain reads both output streams of p.  Every stdout line is passed to
// onLine; every stderr line is logged as an error.  The returned WaitGroup
// is done once both streams reach EOF
func drain(p Process, arg string, onLine func(string)) *sync.WaitGroup {
	wg := &sync.WaitGroup{}
	wg.Add(2)
	go func() {
		defer wg.Done()
		sc := bufio.NewScanner(p.Stderr())
		for sc.Scan() {
			if line := sc.Text(); line != "" {
				log.Errorf("%s: %s", arg, line)
			}
		}
	}()
	go func() {
		defer wg.Done()
		sc := bufio.NewScanner(p.Stdout())
		for sc.Scan() {
			onLine(sc.Text())
		}
	}()
	return wg
}
