// Package pool implements a bounded, self-healing pool of connections to a
// single backend, guarded by a circuit breaker.
//
// Architecture
//
// A Pool owns every connection it creates. Connections sit in one of three
// places: the idle stack (most recently used on top), the active set
// (borrowed by exactly one caller) or the pending count (a creation in
// flight). Their sum never exceeds max_size.
//
// Bookkeeping is guarded by one mutex. Factory I/O (create, validate, close)
// never runs under that lock; creates and probes are dispatched through a
// weighted semaphore of max_concurrent_io slots so a slow backend cannot
// pile up unbounded goroutines.
//
// Acquisition
//
//	conn, err := p.Acquire(ctx)
//	if err != nil {
//		// errors.ErrCircuitOpen: fail fast, back off for the recovery window
//		// errors.ErrPoolExhausted: nothing freed up within connection_timeout
//		return err
//	}
//	defer p.Release(conn)
//
//	db := conn.Raw().(*sql.Conn)
//
// Acquire reuses an idle connection when one is fresh (a hit), creates one
// when capacity allows (a miss) and otherwise waits with a short backoff
// that releases cut short. Create failures feed the circuit breaker; once it
// opens, Acquire fails immediately until the recovery timeout lets a single
// trial through.
//
// Callers that saw the connection fail hand it back with Invalidate instead
// of Release so it is destroyed rather than reused.
//
// Health Monitoring
//
// Initialize opens min_size connections and starts a HealthMonitor. Every
// health_check_interval it sweeps connections idle for longer than
// idle_timeout, replenishes toward min_size while the circuit is closed and
// runs CheckHealth. Shutdown stops the monitor and closes every connection.
package pool
