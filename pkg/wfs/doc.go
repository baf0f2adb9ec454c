// Package wfs is a resilient client session for a WFS file-storage service.
//
// Open connects, authenticates and returns a Handle. The Handle is safe for
// concurrent use: every operation takes the session's single lock for the
// duration of one round trip, and a background health monitor takes the same
// lock to probe liveness and, after repeated probe failures, to replace the
// connection with a freshly authenticated one.
//
// After Open succeeds no operation returns a transport error. Mutating calls
// report failure as a negative Ack; Fetch reports it as ok=false. Repairing
// the connection is the monitor's job, not the caller's.
package wfs
