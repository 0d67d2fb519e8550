package engine

import (
	"fmt"
	"sync"

	"github.com/fyrsmithlabs/fixd/internal/vcs"
)

// branchLocks serializes publishing per target branch within this process.
// Two concurrent sessions aiming at the same branch would otherwise race on
// branch creation and ref updates. Cross-process exclusion is left to the
// deployment.
type branchLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newBranchLocks() *branchLocks {
	return &branchLocks{locks: make(map[string]*sync.Mutex)}
}

func branchKey(repo vcs.Repo, branch string) string {
	return fmt.Sprintf("%s/%s#%s", repo.Owner, repo.Name, branch)
}

// Acquire blocks until the named branch lock is held and returns its release
// function.
func (b *branchLocks) Acquire(repo vcs.Repo, branch string) func() {
	key := branchKey(repo, branch)

	b.mu.Lock()
	l, ok := b.locks[key]
	if !ok {
		l = &sync.Mutex{}
		b.locks[key] = l
	}
	b.mu.Unlock()

	l.Lock()
	return l.Unlock
}
