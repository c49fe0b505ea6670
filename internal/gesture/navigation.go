package gesture

import "sync"

// PullToRefreshDistancePx is the downward swipe distance that triggers a
// refresh.
const PullToRefreshDistancePx = 100

// PullToRefresh returns an OnSwipe callback that calls refresh on a long
// enough downward swipe.
func PullToRefresh(refresh func()) func(Event) {
	return func(ev Event) {
		if ev.Kind == KindSwipe && ev.Direction == DirectionDown && ev.Distance > PullToRefreshDistancePx {
			refresh()
		}
	}
}

// SwipeNavigator moves through a fixed number of pages: a left swipe goes to
// the next page, a right swipe to the previous one. The index is clamped to
// [0, pages).
type SwipeNavigator struct {
	mu       sync.Mutex
	pages    int
	current  int
	onChange func(page int)
}

// NewSwipeNavigator returns a navigator positioned at page 0.
func NewSwipeNavigator(pages int, onChange func(page int)) *SwipeNavigator {
	if pages < 1 {
		pages = 1
	}
	return &SwipeNavigator{pages: pages, onChange: onChange}
}

// Handlers returns the callbacks to install on a Recognizer.
func (n *SwipeNavigator) Handlers() Handlers {
	return Handlers{
		OnSwipeLeft:  func() { n.move(1) },
		OnSwipeRight: func() { n.move(-1) },
	}
}

// Current returns the current page index.
func (n *SwipeNavigator) Current() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

func (n *SwipeNavigator) move(delta int) {
	n.mu.Lock()
	next := min(max(n.current+delta, 0), n.pages-1)
	changed := next != n.current
	n.current = next
	n.mu.Unlock()

	if changed && n.onChange != nil {
		n.onChange(next)
	}
}
