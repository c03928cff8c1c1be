package eventbus

import (
	"reflect"
	"runtime"
	"sort"
	"sync"
)

type subscription struct {
	token   Token
	name    string
	handler Handler
	label   string
}

// registry maps event names to their subscriptions in registration order.
// Buckets are removed once empty so names() only reports live events.
type registry struct {
	mu      sync.RWMutex
	buckets map[string][]subscription
	index   map[Token]string
	next    Token
}

func newRegistry() *registry {
	return &registry{
		buckets: make(map[string][]subscription),
		index:   make(map[Token]string),
	}
}

func (r *registry) add(name string, h Handler, label string) Token {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	token := r.next
	r.buckets[name] = append(r.buckets[name], subscription{
		token:   token,
		name:    name,
		handler: h,
		label:   label,
	})
	r.index[token] = name
	return token
}

func (r *registry) remove(token Token) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	name, ok := r.index[token]
	if !ok {
		return false
	}
	delete(r.index, token)

	subs := r.buckets[name]
	for i, s := range subs {
		if s.token != token {
			continue
		}
		// Copy so snapshots taken before this call keep their view.
		rest := make([]subscription, 0, len(subs)-1)
		rest = append(rest, subs[:i]...)
		rest = append(rest, subs[i+1:]...)
		if len(rest) == 0 {
			delete(r.buckets, name)
		} else {
			r.buckets[name] = rest
		}
		break
	}
	return true
}

// list returns a copy that later add/remove calls do not affect.
func (r *registry) list(name string) []subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := r.buckets[name]
	if len(subs) == 0 {
		return nil
	}
	return append([]subscription(nil), subs...)
}

func (r *registry) has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.buckets[name]) > 0
}

func (r *registry) clear(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.buckets[name]
	for _, s := range subs {
		delete(r.index, s.token)
	}
	delete(r.buckets, name)
	return len(subs)
}

func (r *registry) clearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buckets = make(map[string][]subscription)
	r.index = make(map[Token]string)
}

func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.index)
}

func (r *registry) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.buckets))
	for name := range r.buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func handlerLabel(h Handler) string {
	if fn := runtime.FuncForPC(reflect.ValueOf(h).Pointer()); fn != nil {
		return fn.Name()
	}
	return "anonymous"
}
