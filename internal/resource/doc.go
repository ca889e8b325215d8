// Package resource bounds background work: how many compactions run at once
// and how fast they may write segment bytes.
package resource
