package commands

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"al.essio.dev/pkg/shellescape"

	"github.com/ship-commander/livesh/internal/runner"
	"github.com/ship-commander/livesh/internal/shell"
)

// ShellGroup runs arbitrary shell text. The alias used picks the dialect:
// bash, powershell/ps1/ps and cmd force that interpreter, sh and terminal use
// the configured shell. A single argument is taken as script text; several
// arguments are quoted back into one command line for POSIX shells.
type ShellGroup struct {
	// Shell is the configured default shell; empty means $SHELL.
	Shell string
}

func (g ShellGroup) Commands() []Descriptor {
	return []Descriptor{{
		Name:    "sh",
		Aliases: []string{"bash", "powershell", "ps1", "ps", "cmd", "terminal"},
		Short:   "Run a shell command with live output",
		Build: func(invokedAs string, args []string) (runner.Request, error) {
			dialect := g.dialectFor(invokedAs)
			block, err := blockFromArgs(dialect, args)
			if err != nil {
				return runner.Request{}, err
			}
			return runner.Request{
				Command:   block.Content,
				Shell:     dialect,
				Highlight: block.Language,
			}, nil
		},
	}}
}

func (g ShellGroup) dialectFor(invokedAs string) string {
	switch invokedAs {
	case "bash", "cmd":
		return invokedAs
	case "powershell", "ps1", "ps":
		return "powershell"
	default:
		return g.Shell
	}
}

// GitGroup runs git with the given arguments through the shell.
type GitGroup struct {
	Shell string
}

func (g GitGroup) Commands() []Descriptor {
	return []Descriptor{{
		Name:  "git",
		Short: "Run git with live output",
		Build: func(_ string, args []string) (runner.Request, error) {
			block := ParseCodeBlock(commandLine(g.Shell, args))
			return runner.Request{
				Command: strings.TrimSpace("git " + block.Content),
				Shell:   g.Shell,
			}, nil
		},
	}}
}

// PipGroup runs pip belonging to the active Python environment.
type PipGroup struct {
	Shell string
	// LookPath is exec.LookPath when nil.
	LookPath func(string) (string, error)
	// Getenv is os.Getenv when nil.
	Getenv func(string) string
}

func (g PipGroup) Commands() []Descriptor {
	return []Descriptor{{
		Name:  "pip",
		Short: "Run the environment's pip with live output",
		Build: func(_ string, args []string) (runner.Request, error) {
			block := ParseCodeBlock(commandLine(g.Shell, args))
			return runner.Request{
				Command: strings.TrimSpace(g.pipCommand() + " " + block.Content),
				Shell:   g.Shell,
			}, nil
		},
	}}
}

// pipCommand prefers the interpreter of an active virtualenv, then python3
// and python on PATH, running pip as a module so it matches the interpreter.
func (g PipGroup) pipCommand() string {
	lookPath, getenv := g.LookPath, g.Getenv
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	if getenv == nil {
		getenv = os.Getenv
	}

	if venv := strings.TrimSpace(getenv("VIRTUAL_ENV")); venv != "" {
		python := filepath.Join(venv, "bin", "python")
		if runtime.GOOS == "windows" {
			python = filepath.Join(venv, "Scripts", "python.exe")
		}
		if _, err := os.Stat(python); err == nil {
			return shellescape.Quote(python) + " -m pip"
		}
	}
	for _, candidate := range []string{"python3", "python"} {
		if path, err := lookPath(candidate); err == nil {
			return shellescape.Quote(path) + " -m pip"
		}
	}
	return "pip"
}

// AliasGroup exposes user-defined command templates from configuration.
// Arguments are appended to the template.
type AliasGroup struct {
	Shell   string
	Aliases map[string]string
}

func (g AliasGroup) Commands() []Descriptor {
	names := make([]string, 0, len(g.Aliases))
	for name := range g.Aliases {
		names = append(names, name)
	}
	sort.Strings(names)

	descriptors := make([]Descriptor, 0, len(names))
	for _, name := range names {
		template := g.Aliases[name]
		descriptors = append(descriptors, Descriptor{
			Name:  name,
			Short: "Alias for: " + template,
			Build: func(_ string, args []string) (runner.Request, error) {
				command := template
				if len(args) > 0 {
					command += " " + commandLine(g.Shell, args)
				}
				return runner.Request{Command: command, Shell: g.Shell}, nil
			},
		})
	}
	return descriptors
}

// Builtin returns the shell, git and pip groups bound to shellPath.
func Builtin(shellPath string) []CommandGroup {
	return []CommandGroup{
		ShellGroup{Shell: shellPath},
		GitGroup{Shell: shellPath},
		PipGroup{Shell: shellPath},
	}
}

func blockFromArgs(shellName string, args []string) (CodeBlock, error) {
	block := ParseCodeBlock(commandLine(shellName, args))
	if block.Content == "" {
		return CodeBlock{}, errors.New("command must not be empty")
	}
	return block, nil
}

// commandLine keeps a single argument verbatim and quotes several with POSIX
// rules when the target shell accepts them.
func commandLine(shellName string, args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	if !shell.ResolveDialect(shellName).POSIX() {
		return strings.Join(args, " ")
	}
	return shellescape.QuoteCommand(args)
}
