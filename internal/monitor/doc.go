// Package monitor runs the periodic TCP health checks.
//
// Every tick the scheduler makes sure each subscribed chat has a customer
// row, loads all customers with their targets and probes the targets that are
// due. A target is due when at least max(customer interval, MinInterval)
// seconds have passed since its last check; targets never checked are always
// due. All probes share one process-wide semaphore.
//
// Target state is derived from the consecutive failure count and never
// stored:
//
//	OK        failures == 0
//	DEGRADED  0 < failures < threshold
//	ALERTING  failures >= threshold
//
// A failing probe that leaves the count at or above the threshold enqueues an
// alert, so an outage re-alerts on every check. A successful probe after any
// failure enqueues a recovery notice, even if the threshold was never reached.
package monitor
