package idx

import (
	"fmt"
	"log/slog"
	"os"
)

// logger is the package-level sink for diagnostics emitted by the
// opener's skip-and-continue policy and by recoverable decode
// failures. Swap it with SetLogger to redirect into a host process's
// own logging setup.
var logger = slog.New(slog.NewTextHandler(os.Stderr, nil))

// SetLogger replaces the logger used for debugf/infof/errorf.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}

func debugf(format string, args ...any) {
	logger.Debug(fmt.Sprintf(format, args...))
}

func infof(format string, args ...any) {
	logger.Info(fmt.Sprintf(format, args...))
}

func errorf(format string, args ...any) {
	logger.Error(fmt.Sprintf(format, args...))
}
