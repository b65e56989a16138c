package playback

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
)

// ExecPlayer is a Player backed by a host audio command (mpg123, afplay,
// ffplay). Each clip is written to a temp file and handed to one process;
// completion is the process exiting.
type ExecPlayer struct {
	command string
	args    []string
}

var _ Player = (*ExecPlayer)(nil)

// NewExecPlayer returns a Player that runs command with args plus the clip
// path appended.
func NewExecPlayer(command string, args ...string) *ExecPlayer {
	return &ExecPlayer{command: command, args: args}
}

// Load writes the audio to a temp file and prepares a clip around it.
func (p *ExecPlayer) Load(_ context.Context, data []byte) (Clip, error) {
	f, err := os.CreateTemp("", "cvchat-clip-*.mp3")
	if err != nil {
		return nil, fmt.Errorf("create clip file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("write clip file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("close clip file: %w", err)
	}
	return &execClip{
		path:    f.Name(),
		command: p.command,
		args:    p.args,
	}, nil
}

type execClip struct {
	mu         sync.Mutex
	path       string
	command    string
	args       []string
	cmd        *exec.Cmd
	onComplete func()
	released   bool
}

func (c *execClip) Play() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	args := append(append([]string{}, c.args...), c.path)
	cmd := exec.Command(c.command, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", c.command, err)
	}
	c.cmd = cmd

	go func() {
		cmd.Wait()
		c.mu.Lock()
		fn := c.onComplete
		c.mu.Unlock()
		if fn != nil {
			fn()
		}
	}()
	return nil
}

func (c *execClip) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cmd != nil && c.cmd.Process != nil {
		c.cmd.Process.Kill()
	}
}

// SetVolume is a no-op: process players own their volume. The manager's
// fades degrade to plain start/stop.
func (c *execClip) SetVolume(float64) error { return nil }

func (c *execClip) OnComplete(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onComplete = fn
}

func (c *execClip) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return
	}
	c.released = true
	os.Remove(c.path)
}
