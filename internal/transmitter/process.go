package transmitter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/nexad/internal/radio"
)

// DefaultBroadcastArg is the address argument the sender script treats as a
// HomeEasy group command.
const DefaultBroadcastArg = "16"

// Settings are passed through unchanged to every invocation.
type Settings struct {
	Script         string
	TransmitterPin int
	EmitterID      int
	BroadcastArg   string
}

// Process runs the sender script once per sequence:
//
//	<script> <pin> <emitter> <address> on|off [<address> on|off ...]
type Process struct {
	mu       sync.RWMutex
	settings Settings
}

// NewProcess creates a Process transmitter.
func NewProcess(settings Settings) *Process {
	if settings.BroadcastArg == "" {
		settings.BroadcastArg = DefaultBroadcastArg
	}
	return &Process{settings: settings}
}

// Settings returns the current settings.
func (p *Process) Settings() Settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settings
}

// SetSettings replaces the settings used by later invocations.
func (p *Process) SetSettings(settings Settings) {
	if settings.BroadcastArg == "" {
		settings.BroadcastArg = DefaultBroadcastArg
	}
	p.mu.Lock()
	p.settings = settings
	p.mu.Unlock()
}

// Args renders the positional arguments for seq.
func (p *Process) Args(seq radio.Sequence) []string {
	return renderArgs(p.Settings(), seq)
}

func renderArgs(s Settings, seq radio.Sequence) []string {
	args := make([]string, 0, 2+2*len(seq))
	args = append(args, strconv.Itoa(s.TransmitterPin), strconv.Itoa(s.EmitterID))
	for _, c := range seq {
		addr := c.Address.String()
		if c.Address == radio.Broadcast {
			addr = s.BroadcastArg
		}
		args = append(args, addr, radio.OnOff(c.On))
	}
	return args
}

// Transmit starts the script, streams its output to the log and waits for it
// to exit. A started process is always reaped, whatever the outcome.
// There is no timeout: a hanging script blocks the caller.
func (p *Process) Transmit(ctx context.Context, seq radio.Sequence) (Result, error) {
	s := p.Settings()
	res := Result{Args: renderArgs(s, seq), ExitCode: -1}

	if err := ctx.Err(); err != nil {
		return res, err
	}

	name := filepath.Base(s.Script)
	cmd := exec.Command(s.Script, res.Args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return res, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return res, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return res, fmt.Errorf("failed to start transmitter %s: %w", s.Script, err)
	}

	log.Debug().
		Str("script", name).
		Int("pid", cmd.Process.Pid).
		Strs("args", res.Args).
		Msg("Transmitter started")

	var wg sync.WaitGroup
	wg.Add(2)
	go streamLines(&wg, stdout, name, zerolog.InfoLevel)
	go streamLines(&wg, stderr, name, zerolog.ErrorLevel)

	// Pipes must be drained before Wait closes them.
	wg.Wait()
	err = cmd.Wait()
	res.Duration = time.Since(start)

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, &ExitError{Code: res.ExitCode, Commands: seq}
		}
		return res, fmt.Errorf("transmitter %s failed: %w", s.Script, err)
	}

	res.ExitCode = 0
	log.Debug().
		Str("script", name).
		Dur("duration", res.Duration).
		Msg("Transmitter exited")
	return res, nil
}

func streamLines(wg *sync.WaitGroup, r io.Reader, name string, level zerolog.Level) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		log.WithLevel(level).Str("script", name).Msg(line)
	}
	if err := scanner.Err(); err != nil {
		log.Warn().Err(err).Str("script", name).Msg("Failed to read transmitter output")
		// Keep draining so the child never blocks on a full pipe.
		io.Copy(io.Discard, r)
	}
}
