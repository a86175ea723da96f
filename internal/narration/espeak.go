package narration

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Espeak speaks through an espeak-ng (or espeak) process per utterance.
type Espeak struct {
	binary string

	mu  sync.Mutex
	cmd *exec.Cmd
}

func NewEspeak(binary string) *Espeak {
	if binary == "" {
		binary = "espeak-ng"
	}
	return &Espeak{binary: binary}
}

// Available checks the binary is on PATH
func (e *Espeak) Available() error {
	if _, err := exec.LookPath(e.binary); err != nil {
		return fmt.Errorf("%s not found in PATH: %w", e.binary, err)
	}
	return nil
}

// voice maps a BCP 47 tag to an espeak voice name (en-US -> en-us).
func voice(tag string) string { return strings.ToLower(tag) }

func (e *Espeak) Speak(u Utterance, cb Callbacks) error {
	amplitude := int(u.Volume*100 + 0.5)
	cmd := exec.Command(e.binary, "-v", voice(u.Language), "-a", fmt.Sprint(amplitude), "--stdin")
	cmd.Stdin = strings.NewReader(u.Text)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", e.binary, err)
	}
	e.cmd = cmd
	log.Debug().Str("voice", voice(u.Language)).Int("amplitude", amplitude).Int("pid", cmd.Process.Pid).Msg("espeak started")

	go func() {
		if cb.OnStart != nil {
			cb.OnStart()
		}
		err := cmd.Wait()
		e.mu.Lock()
		if e.cmd == cmd {
			e.cmd = nil
		}
		e.mu.Unlock()
		if err != nil {
			if cb.OnError != nil {
				cb.OnError(fmt.Errorf("%s: %w", e.binary, err))
			}
			return
		}
		if cb.OnEnd != nil {
			cb.OnEnd()
		}
	}()
	return nil
}

var errNotSpeaking = errors.New("no utterance in progress")

func (e *Espeak) current() (*exec.Cmd, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cmd == nil || e.cmd.Process == nil {
		return nil, errNotSpeaking
	}
	return e.cmd, nil
}

func (e *Espeak) Pause() error {
	cmd, err := e.current()
	if err != nil {
		return err
	}
	return suspend(cmd.Process)
}

func (e *Espeak) Resume() error {
	cmd, err := e.current()
	if err != nil {
		return err
	}
	return resume(cmd.Process)
}

// Cancel kills the running utterance, if any.
func (e *Espeak) Cancel() error {
	cmd, err := e.current()
	if err != nil {
		return nil
	}
	_ = resume(cmd.Process)
	return cmd.Process.Kill()
}
