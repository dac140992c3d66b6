// Package externalcmd runs the hook commands of the gateway.
package externalcmd

import (
	"errors"
	"os"
	"time"
)

const restartPause = 5 * time.Second

var errStopped = errors.New("stopped")

// Environment is the set of additional variables passed to a command.
type Environment map[string]string

// Cmd is a hook command. When Restart is false, the command runs once
// and the Cmd becomes inert as soon as the process exits.
type Cmd struct {
	Pool    *Pool
	Command string
	Restart bool
	Env     Environment
	OnExit  func(error)

	expanded  string
	mergedEnv []string

	// in
	stop chan struct{}
}

// Initialize starts the command.
func (c *Cmd) Initialize() {
	// $VAR placeholders are expanded on every platform, so that the
	// same command line works on both Linux and Windows.
	c.expanded = os.Expand(c.Command, func(name string) string {
		if v, ok := c.Env[name]; ok {
			return v
		}
		return os.Getenv(name)
	})

	c.mergedEnv = append([]string(nil), os.Environ()...)
	for k, v := range c.Env {
		c.mergedEnv = append(c.mergedEnv, k+"="+v)
	}

	c.stop = make(chan struct{})

	c.Pool.wg.Add(1)
	go c.loop()
}

// Close stops the command. It doesn't wait for the process to exit.
func (c *Cmd) Close() {
	close(c.stop)
}

func (c *Cmd) loop() {
	defer c.Pool.wg.Done()

	for {
		err := c.execute()
		if errors.Is(err, errStopped) {
			return
		}

		if !c.Restart {
			if err != nil && c.OnExit != nil {
				c.OnExit(err)
			}
			return
		}

		if c.OnExit != nil {
			if err == nil {
				err = errors.New("command exited with code 0")
			}
			c.OnExit(err)
		}

		select {
		case <-time.After(restartPause):
		case <-c.stop:
			return
		}
	}
}
