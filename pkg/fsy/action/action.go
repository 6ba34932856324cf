// Package action implements the wire grammar and in-process representation
// of the synchronization protocol's messages: CommAction, the sole currency
// of the bounded queue and the peer transport.
package action

import (
	"fmt"
	"strconv"
	"strings"
)

// namespace tags the wire form of an action.
type namespace uint8

const (
	nsUnknown                namespace = 0
	nsSendMessage            namespace = 1
	nsTargetHasChanged       namespace = 2
	nsRequestTarget          namespace = 3
	nsDownloadTarget         namespace = 4
	nsDownloadDone           namespace = 5
	nsRequestTargetTimestamp namespace = 6
	nsTargetTimestamp        namespace = 7
)

// delimiter separates the namespace tag from the body. Chosen to be
// unlikely to occur inside a user path.
const delimiter = "]]::"

// fieldSep separates fields within a body.
const fieldSep = ";"

// Kind identifies which CommAction variant a value holds.
type Kind int

const (
	KindUnknown Kind = iota
	KindSendMessage
	KindTargetHasChanged
	KindRequestTarget
	KindDownloadTarget
	KindDownloadDone
	KindRequestTargetTimestamp
	KindTargetTimestamp
)

// CommAction is the tagged variant that flows through the queue and the
// wire. Only the fields relevant to Kind are populated; zero values are
// used for everything else.
type CommAction struct {
	Kind Kind

	// SendMessage
	ToNodeID string
	Payload  string

	// PeerID: every variant except SendMessage and Unknown.
	// GroupName: every variant except SendMessage, DownloadDone and Unknown.
	// RelativePath: TargetHasChanged / RequestTarget / DownloadTarget.
	PeerID       string
	GroupName    string
	RelativePath string

	// DownloadTarget / DownloadDone
	Ticket string

	// TargetTimestamp
	Timestamp int64
}

func (k Kind) nsTag() namespace {
	switch k {
	case KindSendMessage:
		return nsSendMessage
	case KindTargetHasChanged:
		return nsTargetHasChanged
	case KindRequestTarget:
		return nsRequestTarget
	case KindDownloadTarget:
		return nsDownloadTarget
	case KindDownloadDone:
		return nsDownloadDone
	case KindRequestTargetTimestamp:
		return nsRequestTargetTimestamp
	case KindTargetTimestamp:
		return nsTargetTimestamp
	default:
		return nsUnknown
	}
}

func nsTagToKind(ns namespace) Kind {
	switch ns {
	case nsSendMessage:
		return KindSendMessage
	case nsTargetHasChanged:
		return KindTargetHasChanged
	case nsRequestTarget:
		return KindRequestTarget
	case nsDownloadTarget:
		return KindDownloadTarget
	case nsDownloadDone:
		return KindDownloadDone
	case nsRequestTargetTimestamp:
		return KindRequestTargetTimestamp
	case nsTargetTimestamp:
		return KindTargetTimestamp
	default:
		return KindUnknown
	}
}

// Constructors for the non-wire-framed variants used internally by the
// handler and dispatcher.

func TargetHasChanged(peerID, group, relPath string) CommAction {
	return CommAction{Kind: KindTargetHasChanged, PeerID: peerID, GroupName: group, RelativePath: relPath}
}

func RequestTarget(peerID, group, relPath string) CommAction {
	return CommAction{Kind: KindRequestTarget, PeerID: peerID, GroupName: group, RelativePath: relPath}
}

func DownloadTarget(peerID, group, relPath, ticket string) CommAction {
	return CommAction{Kind: KindDownloadTarget, PeerID: peerID, GroupName: group, RelativePath: relPath, Ticket: ticket}
}

func DownloadDone(peerID, ticket string) CommAction {
	return CommAction{Kind: KindDownloadDone, PeerID: peerID, Ticket: ticket}
}

func RequestTargetTimestamp(peerID, group string) CommAction {
	return CommAction{Kind: KindRequestTargetTimestamp, PeerID: peerID, GroupName: group}
}

func TargetTimestamp(peerID, group string, unixSeconds int64) CommAction {
	return CommAction{Kind: KindTargetTimestamp, PeerID: peerID, GroupName: group, Timestamp: unixSeconds}
}

// Decode parses a raw wire payload received from senderNodeID. It never
// fails loudly: any namespace, body or arity that does not match the
// grammar yields KindUnknown.
func Decode(senderNodeID, raw string) CommAction {
	ns, body, ok := splitNamespace(raw)
	if !ok {
		return CommAction{Kind: KindUnknown}
	}

	switch nsTagToKind(ns) {
	case KindTargetHasChanged:
		group, rel, ok := splitTwo(body)
		if !ok {
			return CommAction{Kind: KindUnknown}
		}
		return TargetHasChanged(senderNodeID, group, rel)

	case KindRequestTarget:
		group, rel, ok := splitTwo(body)
		if !ok {
			return CommAction{Kind: KindUnknown}
		}
		return RequestTarget(senderNodeID, group, rel)

	case KindDownloadTarget:
		parts := strings.SplitN(body, fieldSep, 3)
		if len(parts) != 3 {
			return CommAction{Kind: KindUnknown}
		}
		return DownloadTarget(senderNodeID, parts[0], parts[1], parts[2])

	case KindDownloadDone:
		if body == "" {
			return CommAction{Kind: KindUnknown}
		}
		return DownloadDone(senderNodeID, body)

	case KindRequestTargetTimestamp:
		if body == "" {
			return CommAction{Kind: KindUnknown}
		}
		return RequestTargetTimestamp(senderNodeID, body)

	case KindTargetTimestamp:
		group, raw, ok := splitTwo(body)
		if !ok {
			return CommAction{Kind: KindUnknown}
		}
		ts, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return CommAction{Kind: KindUnknown}
		}
		return TargetTimestamp(senderNodeID, group, ts)

	default:
		return CommAction{Kind: KindUnknown}
	}
}

// splitTwo splits a "a;b" body into exactly two fields.
func splitTwo(body string) (string, string, bool) {
	parts := strings.SplitN(body, fieldSep, 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func splitNamespace(raw string) (namespace, string, bool) {
	idx := strings.Index(raw, delimiter)
	if idx < 0 {
		return nsUnknown, "", false
	}
	tag, body := raw[:idx], raw[idx+len(delimiter):]
	n, err := strconv.ParseUint(tag, 10, 8)
	if err != nil {
		return nsUnknown, "", false
	}
	return namespace(n), body, true
}

// EncodeAsSend turns any non-Unknown action into its SendMessage framing.
// It is idempotent on an already-built SendMessage.
func (a CommAction) EncodeAsSend() CommAction {
	switch a.Kind {
	case KindSendMessage:
		return a

	case KindTargetHasChanged:
		body := a.GroupName + fieldSep + a.RelativePath
		return wrap(a.PeerID, nsTargetHasChanged, body)

	case KindRequestTarget:
		body := a.GroupName + fieldSep + a.RelativePath
		return wrap(a.PeerID, nsRequestTarget, body)

	case KindDownloadTarget:
		body := strings.Join([]string{a.GroupName, a.RelativePath, a.Ticket}, fieldSep)
		return wrap(a.PeerID, nsDownloadTarget, body)

	case KindDownloadDone:
		return wrap(a.PeerID, nsDownloadDone, a.Ticket)

	case KindRequestTargetTimestamp:
		return wrap(a.PeerID, nsRequestTargetTimestamp, a.GroupName)

	case KindTargetTimestamp:
		body := a.GroupName + fieldSep + strconv.FormatInt(a.Timestamp, 10)
		return wrap(a.PeerID, nsTargetTimestamp, body)

	default:
		return CommAction{Kind: KindUnknown}
	}
}

func wrap(toNodeID string, ns namespace, body string) CommAction {
	payload := fmt.Sprintf("%d%s%s", ns, delimiter, body)
	return CommAction{Kind: KindSendMessage, ToNodeID: toNodeID, Payload: payload}
}
