//go:build !windows

package externalcmd

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

func (c *Cmd) execute() error {
	// "exec" avoids leaving an intermediate shell between us and the
	// process, so the signal below reaches the command itself.
	cmd := exec.Command("/bin/sh", "-c", "exec "+c.expanded)
	cmd.Env = c.mergedEnv
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Start()
	if err != nil {
		return err
	}

	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
	}()

	select {
	case <-c.stop:
		syscall.Kill(cmd.Process.Pid, syscall.SIGINT) //nolint:errcheck
		<-exited
		return errStopped

	case err := <-exited:
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return fmt.Errorf("command exited with code %d", ee.ExitCode())
		}
		return nil
	}
}
