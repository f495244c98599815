package chainstore

import "fmt"

// Redis key patterns. Everything is namespaced by instance so several
// deployments can share one Redis server.
//
// Key pattern: exofit:{instance}:{entity}:{id}
// Channel pattern: exofit:{instance}:{event_type}_events

// RunKey returns the hash key holding a run's metadata.
// Pattern: exofit:{instance}:run:{run_id}
func RunKey(instance, runID string) string {
	return fmt.Sprintf("exofit:%s:run:%s", instance, runID)
}

// ChainKey returns the string key holding one parameter's packed chain.
// Pattern: exofit:{instance}:run:{run_id}:chain:{param}
func ChainKey(instance, runID, param string) string {
	return fmt.Sprintf("exofit:%s:run:%s:chain:%s", instance, runID, param)
}

// RunsKey returns the sorted set indexing runs by creation time.
// Pattern: exofit:{instance}:runs
func RunsKey(instance string) string {
	return fmt.Sprintf("exofit:%s:runs", instance)
}

// ProgressEventsChannel returns the Pub/Sub channel for sampler progress.
// Pattern: exofit:{instance}:progress_events
func ProgressEventsChannel(instance string) string {
	return fmt.Sprintf("exofit:%s:progress_events", instance)
}
