package document

import (
	"fmt"
	"os"
	"time"

	"github.com/joemooney/req/internal/apperr"
	"github.com/joemooney/req/internal/metrics"
)

const lockRetryInterval = 50 * time.Millisecond

// fileLock is an advisory lock held on <file>.lock.
type fileLock struct {
	f *os.File
}

// acquire retries a non-blocking lock until timeout. Writers record their
// PID and the time in the lock file so a stuck holder can be identified.
func acquire(path string, exclusive bool, timeout time.Duration) (*fileLock, error) {
	mode := "shared"
	if exclusive {
		mode = "exclusive"
	}
	start := time.Now()
	defer func() { metrics.LockWait.WithLabelValues(mode).Observe(time.Since(start).Seconds()) }()

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("document: open lock file: %w", err)
	}
	for {
		ok, err := tryLock(f, exclusive)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("document: lock %s: %w", path, err)
		}
		if ok {
			break
		}
		if time.Since(start) >= timeout {
			holder, _ := os.ReadFile(path)
			f.Close()
			return nil, fmt.Errorf("document: %s lock busy after %s (%s): %w",
				mode, timeout, holderInfo(holder), apperr.ErrBackendUnavailable)
		}
		time.Sleep(lockRetryInterval)
	}

	if exclusive {
		_ = f.Truncate(0)
		_, _ = fmt.Fprintf(f, "Locked by PID %d at %s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	}
	return &fileLock{f: f}, nil
}

func holderInfo(b []byte) string {
	if len(b) == 0 {
		return "holder unknown"
	}
	s := string(b)
	if s[len(s)-1] == '\n' {
		s = s[:len(s)-1]
	}
	return s
}

func (l *fileLock) release() error {
	if l == nil {
		return nil
	}
	err := unlock(l.f)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	return err
}
