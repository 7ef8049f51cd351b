package scenario

import (
	"github.com/ghjm/golib/pkg/syncro"
	log "github.com/sirupsen/logrus"
)

// LogReporter reports expectation failures to the log, for running scenarios outside of go test
type LogReporter struct {
	failures syncro.Var[int]
}

func (r *LogReporter) Helper() {}

func (r *LogReporter) Errorf(format string, args ...any) {
	r.failures.WorkWith(func(n *int) {
		*n++
	})
	log.Errorf(format, args...)
}

// Failures returns the number of failures reported so far
func (r *LogReporter) Failures() int {
	return r.failures.Get()
}
