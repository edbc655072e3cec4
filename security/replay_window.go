package security

// replayWindow implements the replay-rejection algorithm: a nonce
// is rejected if it falls too far below the largest observed nonce, or if
// it has already been observed within the window; otherwise it is
// recorded and the window is pruned to its configured size.
type replayWindow struct {
	size            int
	largestObserved uint64
	hasObserved     bool
	seen            map[uint64]struct{}
}

func newReplayWindow(size int) *replayWindow {
	return &replayWindow{size: size, seen: make(map[uint64]struct{})}
}

func (w *replayWindow) validate(nonce uint64) bool {
	if w.hasObserved && nonce < w.largestObserved {
		if w.largestObserved-nonce > uint64(w.size) {
			return false
		}
	}
	if _, dup := w.seen[nonce]; dup {
		return false
	}

	w.seen[nonce] = struct{}{}
	if !w.hasObserved || nonce > w.largestObserved {
		w.largestObserved = nonce
		w.hasObserved = true
	}
	w.prune()
	return true
}

// prune drops any recorded nonce that has fallen outside the current
// window, so the seen set cannot grow without bound over a long
// connection lifetime.
func (w *replayWindow) prune() {
	floor := int64(w.largestObserved) - int64(w.size)
	if floor <= 0 {
		return
	}
	for n := range w.seen {
		if int64(n) < floor {
			delete(w.seen, n)
		}
	}
}
