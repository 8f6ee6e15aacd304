package dashboard

import (
	"log/slog"

	"github.com/steveyegge/versync/internal/coordinator"
	"github.com/steveyegge/versync/internal/docdb"
	"github.com/steveyegge/versync/internal/vcs"
)

// ChangeData is the payload of a changes message.
type ChangeData struct {
	Records []ChangeRecord `json:"records"`
}

// ChangeRecord summarises one document mutation.
type ChangeRecord struct {
	Kind     docdb.ChangeKind `json:"kind"`
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	ParentID string           `json:"parentId,omitempty"`
	Name     string           `json:"name,omitempty"`
	FromSync bool             `json:"fromSync"`
}

// Handler turns database and coordinator events into dashboard messages.
type Handler struct {
	server *Server
	status StatusSource
	logger *slog.Logger
}

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, status StatusSource, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{server: server, status: status, logger: logger}
}

// OnChanges is a docdb.Handler. It runs on the writer's goroutine and only
// queues the message.
func (h *Handler) OnChanges(records []docdb.ChangeRecord) {
	data := ChangeData{Records: make([]ChangeRecord, 0, len(records))}
	for _, r := range records {
		cr := ChangeRecord{Kind: r.Kind, FromSync: r.FromSync}
		if r.Doc != nil {
			cr.ID = r.Doc.ID
			cr.Type = r.Doc.Type
			cr.ParentID = r.Doc.ParentID
			cr.Name = r.Doc.String("name")
		}
		data.Records = append(data.Records, cr)
	}
	h.send(MessageTypeChanges, data)
}

// OnNotification forwards a reinitialization notice and the status that
// resulted from it.
func (h *Handler) OnNotification(n coordinator.Notification) {
	h.send(MessageTypeNotification, n)
	h.BroadcastStatus()
}

// OnEngineSwap is a vcs.Handle subscriber. Swaps happen while the
// coordinator holds its lock, so the status is read on another goroutine
// once the swap has finished.
func (h *Handler) OnEngineSwap(vcs.Engine) {
	go h.BroadcastStatus()
}

// BroadcastStatus sends the current coordinator status.
func (h *Handler) BroadcastStatus() {
	if h.status == nil {
		return
	}
	h.send(MessageTypeStatus, h.status.Status())
}

func (h *Handler) send(typ MessageType, data any) {
	msg, err := NewMessage(typ, data)
	if err != nil {
		h.logger.Error("failed to build dashboard message", "error", err)
		return
	}
	h.server.Broadcast(msg)
}
