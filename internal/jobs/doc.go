// Package jobs triggers periodic maintenance work on cron schedules:
// the CPU benchmark poll and history retention.
//
// Specs accept 5- or 6-field cron expressions and descriptors such as
// "@daily" or "@every 5m". A job never overlaps with itself; a trigger that
// fires while the previous run is still going is skipped.
package jobs
