package monitoring

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

const defaultDatabaseTimeout = 2 * time.Second

// DatabaseCheck returns a probe that pings the configured database handle.
func DatabaseCheck(db *gorm.DB, timeout time.Duration) Check {
	if timeout <= 0 {
		timeout = defaultDatabaseTimeout
	}

	return Check{Name: "database", Run: func(ctx context.Context) ProbeResult {
		start := time.Now()
		if db == nil {
			return ProbeResult{
				Status:   StatusDown,
				Details:  "database not configured",
				Duration: time.Since(start),
			}
		}

		sqlDB, err := db.DB()
		if err != nil {
			return ResultFromError("database", err, time.Since(start))
		}

		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if err := sqlDB.PingContext(probeCtx); err != nil {
			return ResultFromError("database", err, time.Since(start))
		}

		return ProbeResult{
			Status:   StatusUp,
			Duration: time.Since(start),
		}
	}}
}

// StreamObserver exposes the minimal hub state needed to evaluate realtime
// health.
type StreamObserver interface {
	ActiveStreams() int
}

// RealtimeCheck reports whether the realtime hub is reachable and how many
// party streams currently have subscribers.
func RealtimeCheck(observer StreamObserver) Check {
	return Check{Name: "realtime", Run: func(ctx context.Context) ProbeResult {
		start := time.Now()
		if observer == nil {
			return ProbeResult{
				Status:   StatusDegraded,
				Details:  "realtime hub unavailable",
				Duration: time.Since(start),
			}
		}

		return ProbeResult{
			Status:   StatusUp,
			Details:  fmt.Sprintf("%d active party streams", observer.ActiveStreams()),
			Duration: time.Since(start),
		}
	}}
}
