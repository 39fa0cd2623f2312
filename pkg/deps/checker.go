// Package deps verifies that the external binaries this service shells out
// to are present before it tries to use them — in particular the mixer
// sidecar binary named in startup preflight.
package deps

import (
	"fmt"
	"os/exec"

	"github.com/rs/zerolog"
)

// Checker verifies that required dependencies are available in PATH.
type Checker struct {
	dependencies []string
}

// NewChecker creates a checker for the given dependency names.
func NewChecker(deps ...string) *Checker {
	return &Checker{dependencies: deps}
}

// CheckAll verifies every dependency is available, returning a
// MissingDepsError listing all that aren't.
func (c *Checker) CheckAll() error {
	var missing []string
	for _, dep := range c.dependencies {
		if !c.IsAvailable(dep) {
			missing = append(missing, dep)
		}
	}
	if len(missing) > 0 {
		return &MissingDepsError{Dependencies: missing}
	}
	return nil
}

// IsAvailable reports whether name is resolvable in PATH.
func (c *Checker) IsAvailable(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// CheckAndLog checks every dependency and logs each one's status at Info or
// Error before returning the same result as CheckAll.
func (c *Checker) CheckAndLog(logger zerolog.Logger) error {
	var missing []string
	for _, dep := range c.dependencies {
		if c.IsAvailable(dep) {
			logger.Info().Str("dependency", dep).Msg("dependency ok")
		} else {
			logger.Error().Str("dependency", dep).Msg("dependency not found in PATH")
			missing = append(missing, dep)
		}
	}
	if len(missing) > 0 {
		return &MissingDepsError{Dependencies: missing}
	}
	return nil
}

// MissingDepsError is returned when required dependencies are missing.
type MissingDepsError struct {
	Dependencies []string
}

func (e *MissingDepsError) Error() string {
	return fmt.Sprintf("missing dependencies: %v", e.Dependencies)
}
