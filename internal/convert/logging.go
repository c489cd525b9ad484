package convert

import (
	"log"
	"os"
)

// Logger is the narrow logging seam the converter's diagnostics go
// through (TimestampRegression, FormatUnsupported, errors from individual
// record handlers, ...). A plain *log.Logger satisfies it; tests can substitute their own
// to assert on emitted diagnostics.
type Logger interface {
	Printf(format string, args ...interface{})
}

// NewLogger returns the default stderr logger cmd/perfconv wires up.
func NewLogger() *log.Logger {
	return log.New(os.Stderr, "perfconv: ", log.LstdFlags)
}
