package ttsserver

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/hpcloud/tail"
	process "github.com/mudler/go-processmanager"
)

// Process is an inference server started and owned by the service
type Process struct {
	command string
	proc    *process.Process
	tails   []*tail.Tail
	logger  *slog.Logger

	stopOnce sync.Once
	stopErr  error
}

// ExpandArgs substitutes {port}, {model} and {language} in args
func ExpandArgs(args []string, port int, model, language string) []string {
	r := strings.NewReplacer(
		"{port}", strconv.Itoa(port),
		"{model}", model,
		"{language}", language,
	)

	expanded := make([]string, len(args))
	for i, arg := range args {
		expanded[i] = r.Replace(arg)
	}
	return expanded
}

// StartProcess launches command with args and forwards its output to logger
func StartProcess(command string, args []string, logger *slog.Logger) (*Process, error) {
	if command == "" {
		return nil, fmt.Errorf("command cannot be empty")
	}

	if logger == nil {
		logger = slog.Default()
	}

	p := &Process{
		command: command,
		proc: process.New(
			process.WithTemporaryStateDir(),
			process.WithName(command),
			process.WithArgs(args...),
			process.WithEnvironment(os.Environ()...),
		),
		logger: logger.With(slog.String("component", "ttsserver_process"), slog.String("command", command)),
	}

	if err := p.proc.Run(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", command, err)
	}

	p.logger.Info("Inference server process started",
		slog.String("pid", p.proc.PID),
		slog.String("args", strings.Join(args, " ")),
	)

	p.follow("stdout", p.proc.StdoutPath())
	p.follow("stderr", p.proc.StderrPath())

	return p, nil
}

// follow tails one of the process output files into the log
func (p *Process) follow(stream, path string) {
	t, err := tail.TailFile(path, tail.Config{Follow: true, ReOpen: true, MustExist: false, Logger: tail.DiscardingLogger})
	if err != nil {
		p.logger.Warn("Could not tail process output", slog.String("stream", stream), slog.String("error", err.Error()))
		return
	}
	p.tails = append(p.tails, t)

	go func() {
		for line := range t.Lines {
			if line.Err != nil {
				continue
			}
			p.logger.Debug(line.Text, slog.String("stream", stream))
		}
	}()
}

// Alive reports whether the process is still running
func (p *Process) Alive() bool {
	return p.proc.IsAlive()
}

// Stop terminates the process and stops following its output
func (p *Process) Stop() error {
	p.stopOnce.Do(func() {
		p.stopErr = p.proc.Stop()
		for _, t := range p.tails {
			t.Stop()
			t.Cleanup()
		}
		p.logger.Info("Inference server process stopped")
	})
	return p.stopErr
}
