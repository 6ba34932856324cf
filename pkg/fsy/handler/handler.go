// Package handler implements the action handler: the state machine that
// interprets each CommAction, produces side effects through the transport,
// and may enqueue follow-up actions for the next queue-drain iteration.
// Handler is total over every CommAction.Kind, including Unknown.
package handler

import (
	"context"
	"path/filepath"

	"github.com/fsyio/fsy/pkg/fsy/action"
	"github.com/fsyio/fsy/pkg/fsy/definition"
	"github.com/fsyio/fsy/pkg/fsy/lock"
	"github.com/fsyio/fsy/pkg/fsy/queue"
	"github.com/fsyio/fsy/pkg/fsy/registry"
)

// Transport is the subset of the transport adapter the handler depends on.
type Transport interface {
	Send(ctx context.Context, toNodeID, payload string) error
	PublishTicket(ctx context.Context, localPath string) (string, error)
	Download(ctx context.Context, ticket, destPath string) error
}

// TicketBook is the subset of the ticket store the handler needs for
// ticket issuance bookkeeping and DownloadDone release.
type TicketBook interface {
	ExpectDownloads(ticket string, n int)
	MarkDownloaded(ctx context.Context, ticket string) error
}

// Handler dispatches one CommAction at a time; Handle runs to completion
// before the dispatcher's next Pop.
type Handler struct {
	registry  *registry.Registry
	transport Transport
	tickets   TicketBook
	queue     *queue.Queue[action.CommAction]
	log       definition.Logger
}

// New builds a Handler. queue is where follow-up actions are pushed: the
// same queue the dispatcher drains, never executed synchronously.
func New(reg *registry.Registry, t Transport, tickets TicketBook, q *queue.Queue[action.CommAction], log definition.Logger) *Handler {
	return &Handler{registry: reg, transport: t, tickets: tickets, queue: q, log: log}
}

// Handle dispatches a, logging and swallowing errors: an individual
// action's failure never propagates out of the dispatcher.
func (h *Handler) Handle(ctx context.Context, a action.CommAction) {
	switch a.Kind {
	case action.KindSendMessage:
		h.onSendMessage(ctx, a)
	case action.KindTargetHasChanged:
		h.onTargetHasChanged(ctx, a)
	case action.KindRequestTarget:
		h.onRequestTarget(ctx, a)
	case action.KindDownloadTarget:
		h.onDownloadTarget(ctx, a)
	case action.KindDownloadDone:
		h.onDownloadDone(ctx, a)
	case action.KindRequestTargetTimestamp:
		h.onRequestTargetTimestamp(a)
	case action.KindTargetTimestamp:
		h.onTargetTimestamp(a)
	case action.KindUnknown:
		// silently dropped.
	}
}

func (h *Handler) onSendMessage(ctx context.Context, a action.CommAction) {
	log := h.log.WithField("peer", a.ToNodeID)
	log.Debug("action: SendMessage")
	if err := h.transport.Send(ctx, a.ToNodeID, a.Payload); err != nil {
		log.Errorf("handler: send failed: %v", err)
	}
}

func (h *Handler) onTargetHasChanged(ctx context.Context, a action.CommAction) {
	log := h.log.WithField("peer", a.PeerID).WithField("group", a.GroupName)
	log.Debugf("action: TargetHasChanged: %s", a.RelativePath)

	group, ok := h.registry.GroupByName(a.GroupName, registry.SidePull)
	if !ok {
		return
	}
	if !h.registry.GroupContainsNode(group, a.PeerID) {
		return
	}

	followUp := action.RequestTarget(a.PeerID, a.GroupName, a.RelativePath).EncodeAsSend()
	h.queue.Push(followUp)
}

func (h *Handler) onRequestTarget(ctx context.Context, a action.CommAction) {
	log := h.log.WithField("peer", a.PeerID).WithField("group", a.GroupName)
	log.Debugf("action: RequestTarget: %s", a.RelativePath)

	group, ok := h.registry.GroupByName(a.GroupName, registry.SidePush)
	if !ok {
		return
	}

	localPath := joinRelative(group.Path, a.RelativePath)
	tck, err := h.transport.PublishTicket(ctx, localPath)
	if err != nil {
		log.Errorf("handler: publish ticket for %s: %v", localPath, err)
		return
	}

	if h.tickets != nil {
		pullPeers := h.registry.TargetNodeIDs(group, registry.SidePull)
		h.tickets.ExpectDownloads(tck, len(pullPeers))
	}

	followUp := action.DownloadTarget(a.PeerID, a.GroupName, a.RelativePath, tck).EncodeAsSend()
	h.queue.Push(followUp)
}

func (h *Handler) onDownloadTarget(ctx context.Context, a action.CommAction) {
	log := h.log.WithField("peer", a.PeerID).WithField("group", a.GroupName)
	log.Debugf("action: DownloadTarget: %s, %s", a.RelativePath, a.Ticket)

	group, ok := h.registry.GroupByName(a.GroupName, registry.SidePull)
	if !ok || !h.registry.GroupContainsNode(group, a.PeerID) {
		return
	}

	dest := joinRelative(group.Path, a.RelativePath)

	if err := lock.Acquire(dest); err != nil {
		log.Errorf("handler: acquire lock for %s: %v", dest, err)
		return
	}
	defer func() {
		if err := lock.Release(dest); err != nil {
			log.Errorf("handler: release lock for %s: %v", dest, err)
		}
	}()

	if err := h.transport.Download(ctx, a.Ticket, dest); err != nil {
		log.Errorf("handler: download %s to %s: %v", a.Ticket, dest, err)
		// partial file, if any, is left for the next cycle to overwrite.
	}
}

func (h *Handler) onDownloadDone(ctx context.Context, a action.CommAction) {
	log := h.log.WithField("peer", a.PeerID)
	log.Debugf("action: DownloadDone: %s", a.Ticket)
	if h.tickets == nil {
		return
	}
	if err := h.tickets.MarkDownloaded(ctx, a.Ticket); err != nil {
		log.Errorf("handler: mark downloaded %s: %v", a.Ticket, err)
	}
}

func (h *Handler) onRequestTargetTimestamp(a action.CommAction) {
	// Reserved for a future freshness protocol: routed and logged, no
	// side effects.
	h.log.WithField("peer", a.PeerID).WithField("group", a.GroupName).Debug("action: RequestTargetTimestamp")
}

func (h *Handler) onTargetTimestamp(a action.CommAction) {
	h.log.WithField("peer", a.PeerID).WithField("group", a.GroupName).Debugf("action: TargetTimestamp: %d", a.Timestamp)
}

func joinRelative(basePath, relativePath string) string {
	if relativePath == "" {
		return basePath
	}
	return filepath.Join(basePath, filepath.FromSlash(relativePath))
}
