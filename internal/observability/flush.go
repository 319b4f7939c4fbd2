package observability

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// FlushTelemetry flushes buffered logs before process exit. Prometheus is pull-based,
// so there is nothing to push. Sync errors on non-syncable stderr are ignored.
func FlushTelemetry(logger *zap.Logger) error {
	if logger == nil {
		return nil
	}
	if err := logger.Sync(); err != nil && !isUnsyncableStderr(err) {
		return fmt.Errorf("flush logs: %w", err)
	}
	return nil
}

func isUnsyncableStderr(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "invalid argument") || strings.Contains(msg, "inappropriate ioctl")
}
