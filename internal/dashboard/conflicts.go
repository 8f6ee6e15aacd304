package dashboard

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/steveyegge/versync/internal/conflict"
)

// PendingConflict is a merge waiting for an answer.
type PendingConflict struct {
	ID        string                    `json:"id"`
	Since     time.Time                 `json:"since"`
	Conflicts []conflict.MergeConflict `json:"conflicts"`
}

// Answer is the body of POST /conflicts/{id}. Resolutions maps conflict key
// to "ours" or "theirs"; every key must be answered unless Cancel is set.
type Answer struct {
	Cancel      bool                           `json:"cancel,omitempty"`
	Resolutions map[string]conflict.Resolution `json:"resolutions,omitempty"`
}

// Conflicts serves a conflict.Rendezvous to dashboard clients. Requests are
// held until a client answers them over HTTP or the merge gives up.
type Conflicts struct {
	rv     *conflict.Rendezvous
	server *Server
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingRequest
}

type pendingRequest struct {
	req   *conflict.Request
	since time.Time
}

// NewConflicts creates the remote decision point for rv.
func NewConflicts(rv *conflict.Rendezvous, logger *slog.Logger) *Conflicts {
	if logger == nil {
		logger = slog.Default()
	}
	return &Conflicts{
		rv:      rv,
		logger:  logger.With(slog.String("component", "conflicts")),
		pending: make(map[string]*pendingRequest),
	}
}

// Attach sets the server that announcements are broadcast on.
func (c *Conflicts) Attach(s *Server) {
	c.mu.Lock()
	c.server = s
	c.mu.Unlock()
}

// Run accepts requests until ctx is done. Requests still pending at that
// point are cancelled.
func (c *Conflicts) Run(ctx context.Context) {
	defer c.cancelAll()
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-c.rv.Requests():
			c.add(req)
		}
	}
}

func (c *Conflicts) add(req *conflict.Request) {
	p := &pendingRequest{req: req, since: time.Now().UTC()}

	c.mu.Lock()
	c.pending[req.ID] = p
	server := c.server
	c.mu.Unlock()

	c.logger.Info("merge awaiting resolution", "request", req.ID, "conflicts", len(req.Conflicts))
	if server != nil {
		if msg, err := NewMessage(MessageTypeConflict, p.view(req.ID)); err == nil {
			server.Broadcast(msg)
		}
	}
}

func (c *Conflicts) take(id string) *conflict.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	return p.req
}

func (c *Conflicts) cancelAll() {
	c.mu.Lock()
	reqs := c.pending
	c.pending = make(map[string]*pendingRequest)
	c.mu.Unlock()
	for _, p := range reqs {
		p.req.Cancel()
	}
}

// Pending lists the requests awaiting an answer, oldest first.
func (c *Conflicts) Pending() []PendingConflict {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PendingConflict, 0, len(c.pending))
	for id, p := range c.pending {
		out = append(out, p.view(id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Since.Before(out[j].Since) })
	return out
}

func (p *pendingRequest) view(id string) PendingConflict {
	return PendingConflict{ID: id, Since: p.since, Conflicts: p.req.Conflicts}
}

// Answer resolves or cancels request id. It reports false when no such
// request is pending.
func (c *Conflicts) Answer(id string, a Answer) bool {
	req := c.take(id)
	if req == nil {
		return false
	}

	var answered bool
	if a.Cancel {
		answered = req.Cancel()
	} else {
		resolved := make([]conflict.MergeConflict, len(req.Conflicts))
		for i, mc := range req.Conflicts {
			mc.Resolution = a.Resolutions[mc.Key]
			resolved[i] = mc
		}
		answered = req.Resolve(resolved)
	}

	c.mu.Lock()
	server := c.server
	c.mu.Unlock()
	if answered && server != nil {
		if msg, err := NewMessage(MessageTypeConflictClosed, map[string]any{"id": id, "cancelled": a.Cancel}); err == nil {
			server.Broadcast(msg)
		}
	}
	return answered
}

func (c *Conflicts) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, c.Pending())
}

func (c *Conflicts) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var a Answer
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if !c.Answer(chi.URLParam(r, "id"), a) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no such pending merge"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
