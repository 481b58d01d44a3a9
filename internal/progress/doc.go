// Package progress carries run milestones (items, manifest lines, archive
// batches) from the crawler and compactor to pluggable sinks. Events are
// batched on a background goroutine so emitters never block.
package progress
