//go:build windows

package externalcmd

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"unsafe"

	"github.com/kballard/go-shellquote"
	"golang.org/x/sys/windows"
)

// a job object with KILL_ON_JOB_CLOSE lets us terminate the command
// together with every subprocess it spawned.
func newJobObject() (windows.Handle, error) {
	h, err := windows.CreateJobObject(nil, nil)
	if err != nil {
		return 0, err
	}

	info := windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION{
		BasicLimitInformation: windows.JOBOBJECT_BASIC_LIMIT_INFORMATION{
			LimitFlags: windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE,
		},
	}
	_, err = windows.SetInformationJobObject(
		h,
		windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&info)),
		uint32(unsafe.Sizeof(info)))
	if err != nil {
		windows.CloseHandle(h) //nolint:errcheck
		return 0, err
	}

	return h, nil
}

func assignToJobObject(h windows.Handle, p *os.Process) error {
	access := uint32(windows.PROCESS_SET_QUOTA | windows.PROCESS_TERMINATE)

	ph, err := windows.OpenProcess(access, false, uint32(p.Pid))
	if err != nil {
		return err
	}
	defer windows.CloseHandle(ph) //nolint:errcheck

	return windows.AssignProcessToJobObject(h, ph)
}

func buildCommand(cmdline string) (*exec.Cmd, error) {
	// cmd.exe parses its own command line with rules incompatible with
	// CommandLineToArgvW; in that case the raw line is handed over
	// through SysProcAttr.CmdLine.
	if after, ok := strings.CutPrefix(cmdline, "cmd "); ok {
		cmd := exec.Command("cmd.exe")
		cmd.SysProcAttr = &syscall.SysProcAttr{CmdLine: after}
		return cmd, nil
	}
	if after, ok := strings.CutPrefix(cmdline, "cmd.exe "); ok {
		cmd := exec.Command("cmd.exe")
		cmd.SysProcAttr = &syscall.SysProcAttr{CmdLine: after}
		return cmd, nil
	}

	parts, err := shellquote.Split(cmdline)
	if err != nil {
		return nil, err
	}
	return exec.Command(parts[0], parts[1:]...), nil
}

func (c *Cmd) execute() error {
	cmd, err := buildCommand(c.expanded)
	if err != nil {
		return err
	}

	cmd.Env = c.mergedEnv
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	job, err := newJobObject()
	if err != nil {
		return err
	}

	err = cmd.Start()
	if err != nil {
		windows.CloseHandle(job) //nolint:errcheck
		return err
	}

	err = assignToJobObject(job, cmd.Process)
	if err != nil {
		windows.CloseHandle(job) //nolint:errcheck
		return err
	}

	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
	}()

	select {
	case <-c.stop:
		windows.CloseHandle(job) //nolint:errcheck
		<-exited
		return errStopped

	case err := <-exited:
		windows.CloseHandle(job) //nolint:errcheck
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return fmt.Errorf("command exited with code %d", ee.ExitCode())
		}
		return nil
	}
}
