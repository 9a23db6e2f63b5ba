package estimate

import "strings"

// RemoteStartupCost is the startup cost charged for a server reached over
// the network.
const RemoteStartupCost = 25.0

// Costs is the planner facing estimate for a foreign table.
type Costs struct {
	StartupCost float64
	TotalCost   float64
	Rows        float64
}

// StartupCost returns the cost of establishing a session with server.
// Loopback servers cost nothing.
func StartupCost(server string) float64 {
	switch strings.ToLower(strings.TrimSpace(server)) {
	case "127.0.0.1", "localhost":
		return 0
	default:
		return RemoteStartupCost
	}
}

// TotalCost charges one unit per estimated row on top of the startup cost.
func TotalCost(rows, startup float64) float64 {
	return rows + startup
}

// CostsFor combines a row estimate with the startup cost of server.
func CostsFor(server string, est RowCountEstimate) Costs {
	startup := StartupCost(server)
	return Costs{
		StartupCost: startup,
		TotalCost:   TotalCost(est.Rows, startup),
		Rows:        est.Rows,
	}
}
