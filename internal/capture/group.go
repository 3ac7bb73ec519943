package capture

import (
	"context"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/iter"
	"github.com/sourcegraph/conc/pool"

	"github.com/Iron-Ham/nettrace/internal/artifact"
	"github.com/Iron-Ham/nettrace/internal/connection"
	"github.com/Iron-Ham/nettrace/internal/errors"
)

// GroupOptions configures RunGroup.
type GroupOptions struct {
	// Options is the capture request applied to every connection.
	Options Options
	// SessionOptions are applied to every session.
	SessionOptions []SessionOption
	// PerConnection adds options for individual connections, keyed by
	// target name.
	PerConnection map[string][]SessionOption
	// Collector gathers capture files once every session has stopped. Nil
	// skips collection.
	Collector *artifact.Collector
}

// GroupResult reports what RunGroup left behind.
type GroupResult struct {
	Sessions  []*Session
	Artifacts []artifact.Result
}

// RunGroup starts one capture per connection concurrently, calls fn once all
// of them are ready, then stops every session and collects the capture
// files of every session that was launched. Stopping and collection happen
// even when a start or fn fails or panics. Collection failures are reported
// in the result, not in the returned error.
func RunGroup(ctx context.Context, conns []connection.Connection, opts GroupOptions, fn func(ctx context.Context, sessions []*Session) error) (res GroupResult, err error) {
	sessions := make([]*Session, 0, len(conns))
	for _, conn := range conns {
		sessionOpts := append(append([]SessionOption(nil), opts.SessionOptions...), opts.PerConnection[conn.TargetName()]...)
		s, err := New(conn, opts.Options, sessionOpts...)
		if err != nil {
			return res, err
		}
		sessions = append(sessions, s)
	}
	res.Sessions = sessions

	defer func() {
		if stopErr := stopAll(sessions); stopErr != nil {
			err = errors.Join(err, stopErr)
		}
		if opts.Collector != nil {
			res.Artifacts = collectAll(context.WithoutCancel(ctx), opts.Collector, sessions)
		}
	}()

	starts := pool.New().WithErrors()
	for _, s := range sessions {
		starts.Go(func() error {
			return s.Start(ctx)
		})
	}
	if err := starts.Wait(); err != nil {
		return res, err
	}

	return res, fn(ctx, sessions)
}

func stopAll(sessions []*Session) error {
	errs := make([]error, len(sessions))
	var wg conc.WaitGroup
	for i, s := range sessions {
		wg.Go(func() {
			errs[i] = s.Stop()
		})
	}
	wg.Wait()
	return errors.Join(errs...)
}

func collectAll(ctx context.Context, c *artifact.Collector, sessions []*Session) []artifact.Result {
	launched := make([]*Session, 0, len(sessions))
	for _, s := range sessions {
		if s.launched() {
			launched = append(launched, s)
		}
	}
	return iter.Map(launched, func(s **Session) artifact.Result {
		return c.Collect(ctx, (*s).conn, (*s).OutputFile())
	})
}

// launched reports whether a capture process was ever started.
func (s *Session) launched() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc != nil
}
