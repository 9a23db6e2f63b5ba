package scan

import (
	"runtime"

	"github.com/dustin/go-humanize"

	"github.com/nnnkkk7/tds-bridge/pkg/logging"
)

// StatsOptions selects when a scan logs runtime memory statistics.
type StatsOptions struct {
	BeforeRow bool
	AfterRow  bool
	Finished  bool
}

// Enabled reports whether any statistics are logged.
func (o StatsOptions) Enabled() bool {
	return o.BeforeRow || o.AfterRow || o.Finished
}

func logMemoryStats(table, event string, rows int64) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	logging.Info().
		Str("table", table).
		Str("event", event).
		Str("rows", humanize.Comma(rows)).
		Str("heapAlloc", humanize.IBytes(m.HeapAlloc)).
		Str("heapInuse", humanize.IBytes(m.HeapInuse)).
		Str("totalAlloc", humanize.IBytes(m.TotalAlloc)).
		Str("mallocs", humanize.Comma(int64(m.Mallocs))).
		Uint32("gcCycles", m.NumGC).
		Msg("scan memory statistics")
}
