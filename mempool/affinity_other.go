//go:build !linux

package mempool

// pinToCPU is a no-op where thread affinity is unavailable.
func pinToCPU(int) error {
	return nil
}
