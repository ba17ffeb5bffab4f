package job

import (
	"fmt"
	"sort"
	"strings"
)

// reservedFlagPrefix is the scheduler CLI's shell-option flag. Option keys
// are passed bare; a key still carrying the prefix is a caller mistake.
const reservedFlagPrefix = "-o"

// Validate checks a submission request against the server-declared limits.
// It is pure and total: every violation is collected so the caller can
// report all problems in one response. An empty result means the request is
// acceptable for descriptor building.
//
// Map-shaped fields (option_flags, envars) are typed at the decoding
// boundary, so their shape needs no re-checking here.
func Validate(req SubmitRequest, limits Limits) []string {
	var errs []string

	if req.Command.IsEmpty() {
		errs = append(errs, "'command' is required.")
	}

	if req.NumNodes > limits.Nodes {
		errs = append(errs, fmt.Sprintf("The server only has %d nodes, you requested %d", limits.Nodes, req.NumNodes))
	}

	if req.GPUsPerTask != 0 && !limits.HasGPUs {
		errs = append(errs, "This server does not support gpus: gpus_per_task cannot be set.")
	}

	if req.Runtime < 0 {
		errs = append(errs, fmt.Sprintf("Runtime must be >= 0, found %d", req.Runtime))
	}

	for _, minimum := range []struct {
		key   string
		value int
	}{
		{"cores_per_task", req.CoresPerTask},
		{"gpus_per_task", req.GPUsPerTask},
	} {
		if minimum.value != 0 && minimum.value < 1 {
			errs = append(errs, fmt.Sprintf("Parameter %s must be >= 1", minimum.key))
		}
	}

	var badKeys []string
	for key := range req.OptionFlags {
		if strings.HasPrefix(strings.TrimSpace(key), reservedFlagPrefix) {
			badKeys = append(badKeys, key)
		}
	}
	sort.Strings(badKeys)
	for _, key := range badKeys {
		errs = append(errs, fmt.Sprintf("Please provide keys without %s, %s is invalid.", reservedFlagPrefix, key))
	}

	return errs
}
