// Package generation provides a monotonic request-token counter for
// "latest wins" fetches. Every asynchronous fetch that can be superseded
// by a newer request takes a token before issuing the call and applies
// the response only while the token is still the newest issued; stale
// responses are discarded.
package generation

import (
	"sync/atomic"
)

// Counter issues monotonically increasing tokens. The zero value is
// ready to use.
type Counter struct {
	issued atomic.Uint64
}

// Next issues a new token, invalidating all previously issued ones.
func (c *Counter) Next() Token {
	return Token{counter: c, n: c.issued.Add(1)}
}

// Token identifies one issued fetch.
type Token struct {
	counter *Counter
	n       uint64
}

// Latest reports whether the token is still the newest issued on its
// counter. A response arriving for a stale token must not be applied.
func (t Token) Latest() bool {
	return t.counter != nil && t.counter.issued.Load() == t.n
}
