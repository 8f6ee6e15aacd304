package conflict

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Request is one outstanding resolution request handed to an external
// decision point. Exactly one of Resolve or Cancel takes effect.
type Request struct {
	ID        string
	Conflicts []MergeConflict

	once  sync.Once
	reply chan response
}

type response struct {
	conflicts []MergeConflict
	cancelled bool
}

// Resolve answers the request. It returns false if the request was already
// answered.
func (r *Request) Resolve(resolved []MergeConflict) bool {
	return r.answer(response{conflicts: resolved})
}

// Cancel abandons the merge. It returns false if the request was already
// answered.
func (r *Request) Cancel() bool {
	return r.answer(response{cancelled: true})
}

func (r *Request) answer(resp response) bool {
	answered := false
	r.once.Do(func() {
		r.reply <- resp
		answered = true
	})
	return answered
}

// Rendezvous is a Resolver that publishes requests on a channel for an
// external decision point (a WebSocket client, a terminal prompt, a test).
type Rendezvous struct {
	requests chan *Request
}

// NewRendezvous returns a rendezvous with an unbuffered request channel.
func NewRendezvous() *Rendezvous {
	return &Rendezvous{requests: make(chan *Request)}
}

// Requests delivers outstanding requests to the decision point.
func (r *Rendezvous) Requests() <-chan *Request {
	return r.requests
}

// Resolve publishes the conflicts and waits for the answer or ctx.
func (r *Rendezvous) Resolve(ctx context.Context, conflicts []MergeConflict) ([]MergeConflict, error) {
	req := &Request{
		ID:        uuid.NewString(),
		Conflicts: conflicts,
		reply:     make(chan response, 1),
	}

	select {
	case r.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case resp := <-req.reply:
		if resp.cancelled {
			return nil, ErrResolutionCancelled
		}
		return resp.conflicts, nil
	case <-ctx.Done():
		req.Cancel()
		return nil, ctx.Err()
	}
}

// Choose resolves every conflict with the same decision. Useful for
// non-interactive callers such as "always take theirs".
func Choose(res Resolution) Resolver {
	return ResolverFunc(func(_ context.Context, conflicts []MergeConflict) ([]MergeConflict, error) {
		out := make([]MergeConflict, len(conflicts))
		for i, c := range conflicts {
			c.Resolution = res
			out[i] = c
		}
		return out, nil
	})
}

// Cancel is a Resolver that cancels every request.
var Cancel Resolver = ResolverFunc(func(context.Context, []MergeConflict) ([]MergeConflict, error) {
	return nil, ErrResolutionCancelled
})
