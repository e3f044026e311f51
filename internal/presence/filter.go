package presence

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// filterLive reduces the raw presence table to the countable active set:
// valid, active, unblocked records inside the active window, deduplicated by
// visitor id with the freshest heartbeat winning. A blocklist error is
// logged and treated as not blocked; counting must keep degrading to a
// best-effort answer.
func filterLive(ctx context.Context, records []Record, now time.Time, activeWindow time.Duration, blocklist Blocklist, logger *zap.Logger) []Record {
	freshest := make(map[string]Record)
	for _, record := range records {
		if !record.Live(now, activeWindow) {
			continue
		}
		if existing, ok := freshest[record.VisitorID]; ok && existing.LastHeartbeatMs >= record.LastHeartbeatMs {
			continue
		}
		freshest[record.VisitorID] = record
	}

	live := make([]Record, 0, len(freshest))
	for _, record := range freshest {
		blocked, err := blocklist.IsBlocked(ctx, record.VisitorID, record.IPAddress, record.Country)
		if err != nil {
			logger.Warn("blocklist check failed during count",
				zap.String("visitor_id", record.VisitorID),
				zap.Error(err))
		}
		if blocked {
			continue
		}
		live = append(live, record)
	}
	return live
}
