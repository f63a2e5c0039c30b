package mediarx

import (
	"github.com/go-logr/logr"
	protoLogger "github.com/livekit/protocol/logger"
)

var logger protoLogger.Logger = protoLogger.LogRLogger(logr.Discard())

// SetLogger overrides the default logger, which discards all output. To route
// logs through logr, wrap with logger.LogRLogger(logrLogger).
func SetLogger(l protoLogger.Logger) {
	logger = l
}
