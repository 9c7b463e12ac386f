// Package id generates prefixed, time-sortable identifiers.
package id

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Prefix identifies the kind of entity an id belongs to.
type Prefix string

const (
	Session    Prefix = "ses"
	Message    Prefix = "msg"
	Part       Prefix = "prt"
	Call       Prefix = "call"
	Permission Prefix = "per"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// New returns a new id with the given prefix. Ids generated by one process are
// strictly increasing, including ids created within the same millisecond.
func New(prefix Prefix) string {
	mu.Lock()
	u := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	mu.Unlock()
	return string(prefix) + "_" + strings.ToLower(u.String())
}

// Time extracts the creation time encoded in an id.
func Time(s string) (time.Time, bool) {
	i := strings.IndexByte(s, '_')
	if i < 0 {
		return time.Time{}, false
	}
	u, err := ulid.ParseStrict(strings.ToUpper(s[i+1:]))
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(u.Time()), true
}

// NewSession, NewMessage and NewPart are shorthands for New.
func NewSession() string { return New(Session) }
func NewMessage() string { return New(Message) }
func NewPart() string    { return New(Part) }
