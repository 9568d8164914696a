package vss

import (
	"fmt"

	"github.com/golang/glog"
)

// Logging convention for this package, following the `connect` lineage:
// Error:
//     unrecoverable-to-the-request failures: schema errors at init,
//     listener bind failures, recovered panics.
// Info:
//     essential events for abnormal behavior: auth failures, daemon
//     timeouts, malformed requests. Silent on normal operation.
// Verbose:
//     per-request trace: dispatch, subscription delivery, tree writes.

type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelInfo
	LogLevelVerbose
)

func ParseLogLevel(s string) (LogLevel, error) {
	switch s {
	case "error":
		return LogLevelError, nil
	case "info":
		return LogLevelInfo, nil
	case "verbose":
		return LogLevelVerbose, nil
	default:
		return LogLevelError, fmt.Errorf("unknown log level %q", s)
	}
}

// GlobalLogLevel gates Infof and Verbosef; Errorf always reaches glog.
var GlobalLogLevel = LogLevelInfo

func Errorf(format string, args ...any) {
	glog.Errorf(format, args...)
}

func Infof(format string, args ...any) {
	if GlobalLogLevel >= LogLevelInfo {
		glog.Infof(format, args...)
	}
}

func Verbosef(format string, args ...any) {
	if GlobalLogLevel >= LogLevelVerbose {
		glog.Infof(format, args...)
	}
}

// HandleError recovers a panic from do, logs it, and runs handler with the
// recovered error. It never re-panics.
func HandleError(do func(), handler func(error)) {
	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("%v", r)
			}
			Errorf("recovered panic: %s", err)
			if handler != nil {
				handler(err)
			}
		}
	}()
	do()
}
