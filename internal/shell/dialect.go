package shell

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// Dialect describes how a shell command string is handed to an interpreter
// and how it is presented in the output header.
type Dialect struct {
	Name      string
	Path      string
	Args      []string
	PS1       string
	Highlight string
}

// Argv returns the argument vector that runs script under the dialect.
func (d Dialect) Argv(script string) []string {
	argv := make([]string, 0, len(d.Args)+2)
	argv = append(argv, d.Path)
	argv = append(argv, d.Args...)
	return append(argv, script)
}

// POSIX reports whether the interpreter understands POSIX shell quoting.
func (d Dialect) POSIX() bool {
	return d.Name != "powershell" && d.Name != "cmd"
}

// DefaultDialect is the platform shell: powershell on Windows, otherwise
// $SHELL, falling back to /bin/bash and then /bin/sh.
func DefaultDialect() Dialect {
	if runtime.GOOS == "windows" {
		return powershellDialect()
	}
	return posixDialect(defaultShellPath())
}

// ResolveDialect maps a dialect name, alias or executable path to a Dialect.
// Unknown names are treated as POSIX-compatible shells invoked with -c.
func ResolveDialect(name string) Dialect {
	name = strings.TrimSpace(name)
	switch strings.ToLower(name) {
	case "", "sh", "shell", "terminal":
		return DefaultDialect()
	case "bash":
		if path, err := exec.LookPath("bash"); err == nil {
			return posixDialect(path)
		}
		return DefaultDialect()
	case "powershell", "pwsh", "ps1", "ps":
		return powershellDialect()
	case "cmd":
		if runtime.GOOS == "windows" {
			return Dialect{Name: "cmd", Path: "cmd", Args: []string{"/C"}, PS1: ">", Highlight: "bat"}
		}
		return DefaultDialect()
	default:
		return posixDialect(name)
	}
}

// DialectFor derives the prompt and highlight of a raw argv from its command
// name.
func DialectFor(command string) Dialect {
	base := strings.ToLower(strings.TrimSuffix(filepath.Base(command), ".exe"))
	switch base {
	case "powershell", "pwsh":
		return powershellDialect()
	case "cmd":
		return Dialect{Name: "cmd", Path: command, PS1: ">", Highlight: "bat"}
	default:
		return Dialect{Name: base, Path: command, PS1: "$", Highlight: "sh"}
	}
}

func posixDialect(path string) Dialect {
	return Dialect{
		Name:      filepath.Base(path),
		Path:      path,
		Args:      []string{"-c"},
		PS1:       "$",
		Highlight: "sh",
	}
}

func powershellDialect() Dialect {
	path := "powershell"
	if runtime.GOOS != "windows" {
		if _, err := exec.LookPath("pwsh"); err == nil {
			path = "pwsh"
		}
	}
	return Dialect{
		Name:      "powershell",
		Path:      path,
		Args:      []string{"-NoProfile", "-Command"},
		PS1:       "PS >",
		Highlight: "powershell",
	}
}

func defaultShellPath() string {
	if shell := strings.TrimSpace(os.Getenv("SHELL")); shell != "" {
		return shell
	}
	if _, err := os.Stat("/bin/bash"); err == nil {
		return "/bin/bash"
	}
	return "/bin/sh"
}
