// Package resolver waits out the race between a tab's creation and the
// background classifier committing its group.
package resolver

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tabdeck/tabdeck/internal/logging"
	"github.com/tabdeck/tabdeck/internal/tabs"
)

var resLog = logging.ForComponent(logging.CompResolver)

// ErrUnassigned is returned when no group was committed within the timeout.
var ErrUnassigned = errors.New("resolver: no group assigned")

// Defaults for Options fields left zero.
const (
	DefaultInitialInterval = 25 * time.Millisecond
	DefaultMaxInterval     = time.Second
	DefaultTimeout         = 10 * time.Second
)

// Lookup is the membership query of the group provider.
type Lookup interface {
	Lookup(tab tabs.TabID) (tabs.GroupID, bool)
}

// Notifier pushes commits. groups.Store implements it.
type Notifier interface {
	Subscribe(tab tabs.TabID) (<-chan tabs.GroupID, func())
}

// Options bounds the wait.
type Options struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Timeout         time.Duration
}

// Resolver resolves tab group membership.
type Resolver struct {
	lookup Lookup
	notify Notifier
	opts   Options
}

// New creates a resolver. notify may be nil, in which case only the
// backoff schedule drives re-queries.
func New(lookup Lookup, notify Notifier, opts Options) *Resolver {
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = DefaultInitialInterval
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = DefaultMaxInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Resolver{lookup: lookup, notify: notify, opts: opts}
}

// Resolve returns the group committed for tab. It re-queries after every
// push notification or backoff interval, whichever comes first. When the
// timeout elapses it returns tabs.Unassigned and ErrUnassigned; when ctx
// ends it returns tabs.Unassigned and ctx's error.
func (r *Resolver) Resolve(ctx context.Context, tab tabs.TabID) (tabs.GroupID, error) {
	if gid, ok := r.lookup.Lookup(tab); ok {
		return gid, nil
	}

	var pushed <-chan tabs.GroupID
	if r.notify != nil {
		ch, cancel := r.notify.Subscribe(tab)
		defer cancel()
		pushed = ch
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.opts.InitialInterval
	b.MaxInterval = r.opts.MaxInterval
	b.MaxElapsedTime = r.opts.Timeout
	b.Reset()

	deadline := time.NewTimer(r.opts.Timeout)
	defer deadline.Stop()

	attempts := 1
	for {
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return r.giveUp(tab, attempts)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return tabs.Unassigned, ctx.Err()
		case <-deadline.C:
			timer.Stop()
			// one last look: a commit may have landed with the deadline
			if gid, ok := r.lookup.Lookup(tab); ok {
				return gid, nil
			}
			return r.giveUp(tab, attempts)
		case gid := <-pushed:
			timer.Stop()
			pushed = nil
			resLog.Debug("assignment_pushed",
				slog.Int64("tab_id", int64(tab)),
				slog.Int64("group_id", int64(gid)))
		case <-timer.C:
		}

		attempts++
		if gid, ok := r.lookup.Lookup(tab); ok {
			logging.Aggregate(logging.CompResolver, "resolved", slog.Int("attempts", attempts))
			return gid, nil
		}
	}
}

func (r *Resolver) giveUp(tab tabs.TabID, attempts int) (tabs.GroupID, error) {
	resLog.Warn("assignment_timeout",
		slog.Int64("tab_id", int64(tab)),
		slog.Int("attempts", attempts),
		slog.Duration("timeout", r.opts.Timeout))
	return tabs.Unassigned, ErrUnassigned
}
