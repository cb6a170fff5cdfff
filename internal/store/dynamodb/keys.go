package dynamodb

import (
	"time"
)

const (
	prefixPipeline = "PIPELINE#"
	prefixRun      = "RUN#"

	skReport  = "REPORT"
	skCounter = "BUILDCOUNTER"

	gsi1         = "GSI1"
	gsi1Reports  = "REPORTS"
	attrReport   = "report"
	attrBuildNum = "buildNumber"
)

func pipelinePK(name string) string { return prefixPipeline + name }
func runPK(runID string) string     { return prefixRun + runID }

// runListSK sorts lexically by start time, so a descending query is newest first.
func runListSK(startedAt time.Time, runID string) string {
	return prefixRun + startedAt.UTC().Format("2006-01-02T15:04:05.000000000Z") + "#" + runID
}

func ttlEpoch(d time.Duration) int64 {
	return time.Now().Add(d).Unix()
}

func isExpired(epoch int64) bool {
	return epoch > 0 && time.Now().Unix() > epoch
}
