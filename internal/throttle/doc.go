// Package throttle locks out clients that keep failing authentication.
//
// Lockout tracks one token bucket per client key (the remote address):
//
//	lock := throttle.New(10, 15*time.Minute, 10000)
//	defer lock.Close()
//
//	if lock.Locked(addr) {
//	    // reject before doing any crypto
//	}
//	if !verified {
//	    lock.Fail(addr)
//	}
//
// With maxFailures=10 and window=15m a client may fail ten times in a burst,
// then regains one attempt every 90 seconds.
package throttle
