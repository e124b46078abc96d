package web

// upload_limiter.go bounds how many uploads are forwarded to the cohort API
// at once. Each forwarded upload holds the whole file in memory, so the
// bound is also a memory bound. When all slots are taken a request waits up
// to maxWait before failing with ErrTooManyUploads.
//
// WaitForDrain lets shutdown wait for uploads already in flight.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTooManyUploads is returned when no upload slot frees up in time.
var ErrTooManyUploads = errors.New("too many uploads in progress, please try again later")

const (
	defaultMaxConcurrentUploads = 5
	defaultMaxWaitTime          = 30 * time.Second
)

// UploadLimiter is a counting semaphore for forwarded uploads.
type UploadLimiter struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu      sync.Mutex
	active  int
	drained chan struct{} // closed while active == 0
}

// NewUploadLimiter allows at most maxConcurrent simultaneous uploads.
func NewUploadLimiter(maxConcurrent int, maxWait time.Duration) *UploadLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrentUploads
	}
	if maxWait <= 0 {
		maxWait = defaultMaxWaitTime
	}
	drained := make(chan struct{})
	close(drained)
	return &UploadLimiter{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
		drained:   drained,
	}
}

// Acquire takes a slot. The caller must Release it.
func (l *UploadLimiter) Acquire(ctx context.Context) error {
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		if l.active == 0 {
			l.drained = make(chan struct{})
		}
		l.active++
		l.mu.Unlock()
		return nil
	case <-timer.C:
		return ErrTooManyUploads
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a slot taken by Acquire.
func (l *UploadLimiter) Release() {
	l.mu.Lock()
	l.active--
	if l.active == 0 {
		close(l.drained)
	}
	l.mu.Unlock()

	<-l.semaphore
}

// UploadLimiterStatus is a snapshot for health reporting.
type UploadLimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Status returns the current limiter state.
func (l *UploadLimiter) Status() UploadLimiterStatus {
	l.mu.Lock()
	active := l.active
	l.mu.Unlock()

	return UploadLimiterStatus{
		Active:        active,
		Available:     cap(l.semaphore) - active,
		MaxConcurrent: cap(l.semaphore),
	}
}

// WaitForDrain blocks until no upload is active or ctx is done.
func (l *UploadLimiter) WaitForDrain(ctx context.Context) error {
	l.mu.Lock()
	drained := l.drained
	l.mu.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
