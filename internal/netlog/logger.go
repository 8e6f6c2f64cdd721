// Package netlog builds the per-component loggers used across the
// network core. It generalizes the teacher's log.New(os.Stdout,
// "COMPONENT: ", ...) convention to structured zap logging: every
// component gets its own *zap.Logger tagged with a "component" field
// instead of a string prefix.
package netlog

import "go.uber.org/zap"

var base = newDefault()

func newDefault() *zap.Logger {
	l, err := zap.NewProduction()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// SetBase overrides the process-wide base logger. Tests install an
// observer core; production wiring installs a configured logger once
// at startup, before any Component() call.
func SetBase(l *zap.Logger) {
	base = l
}

// Component returns a logger scoped to a single network-core
// component (peerset, swarm, manager, ...), mirroring the teacher's
// one-logger-per-component pattern.
func Component(name string) *zap.Logger {
	return base.With(zap.String("component", name))
}
