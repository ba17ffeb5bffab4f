package job

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/shlex"
)

// Descriptor is the scheduler-native representation of a validated
// submission. Built once per request and never mutated after handoff to a
// backend; the impersonated backend works on its own copy.
type Descriptor struct {
	Argv         []string
	NumTasks     int
	NumNodes     int
	CoresPerTask int
	GPUsPerTask  int
	Exclusive    bool
	Options      map[string]string
	Environment  map[string]string
	Workdir      string
	Duration     int
	Owner        string
}

// Build constructs a Descriptor from a validated request.
//
// A string command is split with shell-word semantics: quoting is respected
// but no expansion of any kind is performed. A list command is used
// verbatim. The environment is the gateway's own process environment
// overlaid with the caller's overrides; the impersonated backend later
// replaces HOME/LOGNAME/USER from the OS account record, which must win
// over anything merged here.
func Build(req SubmitRequest, owner string) (Descriptor, error) {
	argv := req.Command.list
	if argv == nil {
		var err error
		argv, err = shlex.Split(req.Command.raw)
		if err != nil {
			return Descriptor{}, fmt.Errorf("tokenize command: %w", err)
		}
	}
	if len(argv) == 0 {
		return Descriptor{}, fmt.Errorf("command is empty after normalization")
	}

	environment := processEnvironment()
	for key, value := range req.Envars {
		environment[key] = value
	}

	options := make(map[string]string, len(req.OptionFlags))
	for key, value := range req.OptionFlags {
		options[key] = value
	}

	return Descriptor{
		Argv:         argv,
		NumTasks:     req.NumTasks,
		NumNodes:     req.NumNodes,
		CoresPerTask: req.CoresPerTask,
		GPUsPerTask:  req.GPUsPerTask,
		Exclusive:    req.Exclusive,
		Options:      options,
		Environment:  environment,
		Workdir:      req.Workdir,
		// Zero means unlimited, a scheduler convention.
		Duration: req.Runtime,
		Owner:    owner,
	}, nil
}

func processEnvironment() map[string]string {
	environment := make(map[string]string)
	for _, entry := range os.Environ() {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		environment[key] = value
	}
	return environment
}
