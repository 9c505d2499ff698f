package consume

import "sync"

// pathLocks serializes consumption per source path so the same file is
// never processed by two workers at once. Entries are reference counted
// and removed when the last holder releases.
type pathLocks struct {
	mu sync.Mutex
	m  map[string]*pathLock
}

type pathLock struct {
	mu   sync.Mutex
	refs int
}

func newPathLocks() *pathLocks {
	return &pathLocks{m: make(map[string]*pathLock)}
}

// acquire blocks until the path is free and returns the release func.
func (p *pathLocks) acquire(path string) func() {
	p.mu.Lock()
	l, ok := p.m[path]
	if !ok {
		l = &pathLock{}
		p.m[path] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.m, path)
		}
		p.mu.Unlock()
	}
}
