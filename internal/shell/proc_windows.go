//go:build windows

package shell

import (
	"errors"
	"os"
	"os/exec"
)

const lineTerminator = "\r\n"

func configureProcess(cmd *exec.Cmd) {}

func terminate(p *os.Process) error {
	return forceKill(p)
}

func forceKill(p *os.Process) error {
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func signalOf(state *os.ProcessState) string {
	return ""
}

func signalNumber(string) int {
	return 0
}
