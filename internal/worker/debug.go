package worker

import (
	"os"
	"strings"

	"edurag/internal/logger"
)

var workerDebugEnabled = strings.EqualFold(os.Getenv("EDURAG_WORKER_DEBUG"), "1")

func debugLog(log *logger.Logger, msg string, kv ...interface{}) {
	if workerDebugEnabled && log != nil {
		log.Debug(msg, kv...)
	}
}
