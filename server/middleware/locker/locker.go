// Package locker provides an HTTP middleware which allows an HTTPHandler to be locked, returning 423 (locked)
//
// A Locker may be held by several owners at once; the routes stay locked
// until the last of them lets go.  A measurement holds it through the
// sync.Locker methods, an operator through the /lock route.
package locker

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/nasa-jpl/tascan/generichttp"
)

const (
	// Measurement is the holder used by Lock and Unlock
	Measurement = "measurement"

	// Manual is the holder used by the /lock route
	Manual = "manual"
)

// Inject adds lock routes to a generichttp.HTTPer which are used to manipulate the locker
func Inject(other generichttp.HTTPer, l *Locker) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/lock"}] = l.HTTPGet
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/lock"}] = l.HTTPSet
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/lock/holders"}] = l.HTTPHolders
}

// Locker is a type which behaves like a sync.Mutex without the blocking,
// and holds a list of routes to not protect
type Locker struct {
	mu      sync.Mutex
	holders map[string]struct{}

	// DoNotProtect is a list of paths not to apply the lock to
	DoNotProtect []string
}

// New returns a new Locker with DoNotProtect prepopulated with "lock"
func New() *Locker {
	return &Locker{
		holders:      map[string]struct{}{},
		DoNotProtect: []string{"lock"},
	}
}

// Hold locks on behalf of owner.  Holding twice is the same as holding once
func (l *Locker) Hold(owner string) {
	l.mu.Lock()
	l.holders[owner] = struct{}{}
	l.mu.Unlock()
}

// Release drops owner's hold, leaving any other holder in place
func (l *Locker) Release(owner string) {
	l.mu.Lock()
	delete(l.holders, owner)
	l.mu.Unlock()
}

// Lock holds the locker for a measurement
func (l *Locker) Lock() { l.Hold(Measurement) }

// Unlock releases the measurement's hold
func (l *Locker) Unlock() { l.Release(Measurement) }

// Locked returns true if anyone holds the locker
func (l *Locker) Locked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.holders) > 0
}

// Holders returns the current holders in sorted order
func (l *Locker) Holders() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.holders))
	for h := range l.holders {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// Check is an HTTP middleware that returns http.StatusLocked if Locked() is true, otherwise passes down the line
func (l *Locker) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.Locked() && l.protects(r.URL.Path) {
			http.Error(w, "locked by "+strings.Join(l.Holders(), ", "), http.StatusLocked)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *Locker) protects(path string) bool {
	for _, str := range l.DoNotProtect {
		if strings.Contains(path, str) {
			return false
		}
	}
	return true
}

// HTTPSet takes or drops the manual hold based on json:bool on the request body.
// A measurement's hold is not affected
func (l *Locker) HTTPSet(w http.ResponseWriter, r *http.Request) {
	b := generichttp.BoolT{}
	err := json.NewDecoder(r.Body).Decode(&b)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if b.Bool {
		l.Hold(Manual)
	} else {
		l.Release(Manual)
	}
	w.WriteHeader(http.StatusOK)
}

// HTTPGet returns Locked() over HTTP as JSON
func (l *Locker) HTTPGet(w http.ResponseWriter, r *http.Request) {
	generichttp.ReplyJSON(w, generichttp.BoolT{Bool: l.Locked()})
}

// HTTPHolders returns Holders() over HTTP as a JSON array
func (l *Locker) HTTPHolders(w http.ResponseWriter, r *http.Request) {
	generichttp.ReplyJSON(w, l.Holders())
}
