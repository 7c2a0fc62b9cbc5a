package client

import "sync"

// TryGetEmptyBuffer scans the buffer set in ascending index order and
// returns the first empty buffer whose mutex could be acquired without
// blocking, still locked, together with its index.
//
// The fixed scan order is deliberate: consumers drain a buffer fully before
// releasing its mutex, so ascending order cannot starve anyone under the
// expected workload and keeps the acquisition easy to reason about.
func TryGetEmptyBuffer(buffers []*JSONBuffer, mutexes []*sync.Mutex) (*JSONBuffer, int, bool) {
	for i := range buffers {
		if !buffers[i].Empty() {
			continue
		}
		if mutexes[i].TryLock() {
			// The emptiness check raced with the lock; re-check
			// under the mutex.
			if buffers[i].Empty() {
				return buffers[i], i, true
			}
			mutexes[i].Unlock()
		}
	}
	return nil, 0, false
}
