package ledger

import (
	"context"
	"sort"
	"sync"
)

// CustomerKey, ProductKey and InvoiceKey name the scope of one aggregate.
func CustomerKey(id string) string { return "customer:" + id }
func ProductKey(id string) string  { return "product:" + id }
func InvoiceKey(id string) string  { return "invoice:" + id }

type heldKeysCtxKey struct{}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// Locker hands out exclusive per-aggregate scopes.
//
// Acquire records the keys it took in the returned context. Passing that
// context to a nested Acquire skips keys already held, which lets a workflow
// hold a customer and its products while calling engine methods that lock the
// same entities. The context must not be shared with other goroutines while
// the scope is held.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

// NewLocker creates an empty Locker.
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*keyLock)}
}

// Acquire blocks until every key is held. Keys are locked in sorted order so
// two callers asking for overlapping sets cannot deadlock. The returned
// release func is safe to call more than once.
func (l *Locker) Acquire(ctx context.Context, keys ...string) (context.Context, func()) {
	held := HeldKeys(ctx)

	wanted := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := held[k]; ok {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		wanted = append(wanted, k)
	}
	if len(wanted) == 0 {
		return ctx, func() {}
	}
	sort.Strings(wanted)

	acquired := make([]*keyLock, 0, len(wanted))
	for _, k := range wanted {
		kl := l.ref(k)
		kl.mu.Lock()
		acquired = append(acquired, kl)
	}

	next := make(map[string]struct{}, len(held)+len(wanted))
	for k := range held {
		next[k] = struct{}{}
	}
	for _, k := range wanted {
		next[k] = struct{}{}
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			for i := len(acquired) - 1; i >= 0; i-- {
				acquired[i].mu.Unlock()
				l.unref(wanted[i])
			}
		})
	}
	return context.WithValue(ctx, heldKeysCtxKey{}, next), release
}

// HeldKeys returns the scope keys recorded in ctx.
func HeldKeys(ctx context.Context) map[string]struct{} {
	if held, ok := ctx.Value(heldKeysCtxKey{}).(map[string]struct{}); ok {
		return held
	}
	return nil
}

func (l *Locker) ref(key string) *keyLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{}
		l.locks[key] = kl
	}
	kl.refs++
	return kl
}

func (l *Locker) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl, ok := l.locks[key]
	if !ok {
		return
	}
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}
