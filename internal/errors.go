package internal

import (
	"errors"

	"github.com/NYCU-SDC/summer/pkg/problem"
)

var (
	// ErrJobNotFound means the scheduler has no record of the referenced job id.
	ErrJobNotFound = errors.New("job not found")

	// ErrUnknownUser means the requested OS account does not exist.
	ErrUnknownUser = errors.New("unknown user")

	// ErrPrivilege means the gateway process lacks the rights to demote to
	// another account, i.e. it is not running as the flux instance owner.
	ErrPrivilege = errors.New("insufficient privilege to impersonate")

	ErrUserInactive = errors.New("user is deactivated")
)

func NewProblemWriter() *problem.HttpWriter {
	return problem.NewWithMapping(ErrorHandler)
}

func ErrorHandler(err error) problem.Problem {
	switch {
	case errors.Is(err, ErrJobNotFound):
		return problem.NewNotFoundProblem("job not found")
	case errors.Is(err, ErrUnknownUser):
		return problem.NewNotFoundProblem("user not found")
	}
	return problem.Problem{}
}
