//go:build !linux && !darwin

package poller

func newBackend() (backend, error) { return nil, ErrUnsupported }

func createWakeFd() (int, int, error) { return -1, -1, ErrUnsupported }

func closeWakeFd(int, int) {}

func writeWake(int) error { return ErrUnsupported }

func drainWake(int) {}
