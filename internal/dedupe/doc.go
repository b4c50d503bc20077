// Package dedupe provides event deduplication using a time-based cache.
// Slack redelivers events when an ack is slow, so handlers check each
// event key here before processing.
package dedupe
