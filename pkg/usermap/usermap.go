// Package usermap resolves source usernames to the git commit identity
// that stamps converted commits: name, email, and an optional timezone.
package usermap

import (
	"errors"
	"fmt"
	"time"

	"github.com/ac2git/ac2git/internal/config"
	"github.com/ac2git/ac2git/pkg/gitstore"
)

// ErrUnmappedUser is returned by Resolve when FallbackOnMiss is false and
// the username has no user-map entry.
var ErrUnmappedUser = errors.New("usermap: no entry for username")

// Entry is the {name, email, timezone} a source username resolves to.
type Entry struct {
	Name     string
	Email    string
	Location *time.Location
}

// Resolver looks up the commit identity for a source username.
type Resolver struct {
	entries        map[string]Entry
	fallbackOnMiss bool
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithFallback makes Resolve synthesize a placeholder identity for
// usernames absent from the configured map instead of returning
// ErrUnmappedUser.
func WithFallback() Option {
	return func(r *Resolver) { r.fallbackOnMiss = true }
}

// NewResolver builds a Resolver from the user-map section of Config.
// Timezone strings are loaded via time.LoadLocation; an entry with an
// empty timezone uses UTC, and an unrecognized timezone is an error.
func NewResolver(userMap map[string]config.UserSpec, opts ...Option) (*Resolver, error) {
	entries := make(map[string]Entry, len(userMap))

	for username, spec := range userMap {
		loc := time.UTC

		if spec.Timezone != "" {
			l, err := time.LoadLocation(spec.Timezone)
			if err != nil {
				return nil, fmt.Errorf("usermap: %q: %w", username, err)
			}

			loc = l
		}

		entries[username] = Entry{Name: spec.Name, Email: spec.Email, Location: loc}
	}

	r := &Resolver{entries: entries}

	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// Resolve returns the commit signature for username at the given
// transaction timestamp, converted into the user's mapped timezone.
// When username is unmapped, Resolve returns ErrUnmappedUser unless
// WithFallback was set, in which case it synthesizes a signature from
// the username itself (spec's "fall back to the source username when
// no mapping exists" behavior).
func (r *Resolver) Resolve(username string, when time.Time) (gitstore.Signature, error) {
	entry, ok := r.entries[username]
	if !ok {
		if !r.fallbackOnMiss {
			return gitstore.Signature{}, fmt.Errorf("%w: %q", ErrUnmappedUser, username)
		}

		entry = Entry{Name: username, Email: username, Location: time.UTC}
	}

	return gitstore.Signature{
		Name:  entry.Name,
		Email: entry.Email,
		When:  when.In(entry.Location),
	}, nil
}
