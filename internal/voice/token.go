package voice

import "sync/atomic"

// CancelToken is the single source of truth for "should this still happen?".
// The orchestrator sets it on barge-in and teardown; capture and synthesis
// read it before committing any externally observable action. It is cleared
// only once an abort has been confirmed or a brand-new turn begins.
type CancelToken struct {
	flag atomic.Bool
}

func (t *CancelToken) Set()           { t.flag.Store(true) }
func (t *CancelToken) Clear()         { t.flag.Store(false) }
func (t *CancelToken) Canceled() bool { return t.flag.Load() }
