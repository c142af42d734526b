package runner

import "errors"

var (
	ErrStopped     = errors.New("runner stopped")
	ErrStopping    = errors.New("runner stopping")
	ErrQueueFull   = errors.New("runner queue full")
	ErrOverlapSkip = errors.New("task skipped: previous run still in flight")
)
