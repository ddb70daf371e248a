package sandbox

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"strings"
)

// Ambient is the table of host facilities a snippet may reach when the
// ambient environment is reused. Values are exposed as they are, so a
// snippet sees the same Go value the host holds. A value implementing the
// goja_nodejs console.Printer is exposed as a console object printing to it.
type Ambient map[string]any

// DefaultAmbient returns a table with a console writing to logger and a
// process description of the current process.
func DefaultAmbient(logger *slog.Logger) Ambient {
	return Ambient{
		"console": NewConsole(logger),
		"process": NewProcess(),
	}
}

// Console is the printer behind the default console. The runtime formats
// console arguments the way Node does and hands it one line per call.
type Console struct {
	logger *slog.Logger
}

// NewConsole creates a console logging to logger.
func NewConsole(logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{logger: logger}
}

// Log also receives console.info and console.debug.
func (c *Console) Log(s string) {
	c.write(slog.LevelInfo, s)
}

func (c *Console) Warn(s string) {
	c.write(slog.LevelWarn, s)
}

func (c *Console) Error(s string) {
	c.write(slog.LevelError, s)
}

func (c *Console) write(level slog.Level, s string) {
	c.logger.Log(context.Background(), level, s, "source", "console")
}

// Process describes the host process.
type Process struct {
	Env      map[string]string
	Platform string
	Arch     string
	Argv     []string
	Pid      int
	cwd      string
}

// NewProcess snapshots the current process.
func NewProcess() *Process {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	cwd, _ := os.Getwd()
	return &Process{
		Env:      env,
		Platform: runtime.GOOS,
		Arch:     runtime.GOARCH,
		Argv:     append([]string(nil), os.Args...),
		Pid:      os.Getpid(),
		cwd:      cwd,
	}
}

// Cwd returns the working directory at the time the snapshot was taken.
func (p *Process) Cwd() string {
	return p.cwd
}
