package commands

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ship-commander/livesh/internal/runner"
)

// Descriptor is one invocable command.
type Descriptor struct {
	Name    string
	Aliases []string
	Short   string
	// Build turns the name the user typed and its arguments into a request.
	Build func(invokedAs string, args []string) (runner.Request, error)
}

// CommandGroup contributes related commands to a Registry.
type CommandGroup interface {
	Commands() []Descriptor
}

// Registry merges command groups into one lookup table keyed by name and alias.
type Registry struct {
	descriptors []Descriptor
	index       map[string]int
}

// NewRegistry builds a registry, rejecting names or aliases claimed twice.
func NewRegistry(groups ...CommandGroup) (*Registry, error) {
	r := &Registry{index: map[string]int{}}
	for _, group := range groups {
		if group == nil {
			continue
		}
		for _, descriptor := range group.Commands() {
			if err := r.add(descriptor); err != nil {
				return nil, err
			}
		}
	}
	return r, nil
}

func (r *Registry) add(descriptor Descriptor) error {
	name := normalizeName(descriptor.Name)
	if name == "" {
		return errors.New("command name must not be empty")
	}
	if descriptor.Build == nil {
		return fmt.Errorf("command %q has no builder", name)
	}
	descriptor.Name = name

	keys := append([]string{name}, descriptor.Aliases...)
	for _, key := range keys {
		key = normalizeName(key)
		if _, taken := r.index[key]; taken {
			return fmt.Errorf("command %q already registered", key)
		}
	}
	position := len(r.descriptors)
	r.descriptors = append(r.descriptors, descriptor)
	for _, key := range keys {
		r.index[normalizeName(key)] = position
	}
	return nil
}

// Lookup finds a command by name or alias.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	position, ok := r.index[normalizeName(name)]
	if !ok {
		return Descriptor{}, false
	}
	return r.descriptors[position], true
}

// Build resolves name and builds its request.
func (r *Registry) Build(name string, args []string) (runner.Request, error) {
	descriptor, ok := r.Lookup(name)
	if !ok {
		return runner.Request{}, fmt.Errorf("unknown command %q", name)
	}
	return descriptor.Build(normalizeName(name), args)
}

// Descriptors returns every command sorted by name.
func (r *Registry) Descriptors() []Descriptor {
	out := append([]Descriptor(nil), r.descriptors...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
