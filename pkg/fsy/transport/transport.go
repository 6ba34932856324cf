// Package transport adapts the peer transport to the contract the core
// requires: a stable node id, fire-and-forget send to a node id, a
// non-blocking inbound event stream, and ticket-mediated blob publish /
// download. It is a thin wrapper over a libp2p host; node discovery and the
// authenticated-stream machinery itself are an external collaborator and
// are not reimplemented here.
package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/multiformats/go-multiaddr"
	_ "github.com/multiformats/go-multiaddr-dns" // registers the dns4/dns6/dnsaddr resolvers used when a NodeData.ID carries a DNS multiaddr

	"github.com/fsyio/fsy/pkg/fsy/definition"
	"github.com/fsyio/fsy/pkg/fsy/ticket"
)

// ProtocolID is the libp2p stream protocol used for action payloads.
const ProtocolID = "/fsy/action/1.0.0"

// peerstoreTTL is how long a statically-registered peer address is kept in
// the peerstore: permanently, so it never expires on its own.
const peerstoreTTL = peerstore.PermanentAddrTTL

// Inbound is one received message: the sender's node id and the raw
// payload, ready for the action codec.
type Inbound struct {
	FromNodeID string
	Payload    string
}

// Transport is the adapter the dispatcher and handler depend on. The core
// never holds more than one in-flight call on it at a time.
type Transport struct {
	mu   sync.Mutex
	host host.Host
	tick *ticket.Store

	inbound chan Inbound
}

// New starts a libp2p host bound to listenAddr (e.g. "/ip4/0.0.0.0/tcp/0")
// using the given private key, and wires the action-protocol stream
// handler. tick is the content-addressed store used for publish/download.
func New(ctx context.Context, priv crypto.PrivKey, listenAddr string, tick *ticket.Store, log definition.Logger) (*Transport, error) {
	addr, err := multiaddr.NewMultiaddr(listenAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen addr: %w", err)
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrs(addr),
	)
	if err != nil {
		return nil, fmt.Errorf("transport: new host: %w", err)
	}

	t := &Transport{
		host:    h,
		tick:    tick,
		inbound: make(chan Inbound, 256),
	}

	h.SetStreamHandler(ProtocolID, func(s network.Stream) {
		defer s.Close()
		from := s.Conn().RemotePeer().String()
		peerLog := log.WithField("peer", from)
		payload, err := readFrame(s)
		if err != nil {
			peerLog.Warnf("transport: read frame: %v", err)
			return
		}
		select {
		case t.inbound <- Inbound{FromNodeID: from, Payload: payload}:
		default:
			peerLog.Warn("transport: inbound buffer full, dropping message")
		}
	})

	return t, nil
}

// NodeID returns the stable node identifier for this process' lifetime.
func (t *Transport) NodeID() string {
	return t.host.ID().String()
}

// Send delivers payload to toNodeID. toNodeID must be resolvable to a
// dialable address, either because the peerstore already knows it (from a
// previous inbound connection) or because the caller pre-registered it via
// AddPeerAddr: address resolution from a bare node id is the discovery
// service's job, out of scope here.
func (t *Transport) Send(ctx context.Context, toNodeID, payload string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	pid, err := peer.Decode(toNodeID)
	if err != nil {
		return fmt.Errorf("transport: decode node id %q: %w", toNodeID, err)
	}

	s, err := t.host.NewStream(ctx, pid, ProtocolID)
	if err != nil {
		return fmt.Errorf("transport: open stream to %s: %w", toNodeID, err)
	}
	defer s.Close()

	return writeFrame(s, payload)
}

// AddPeerAddr registers a known multiaddr for a node id so that Send can
// dial it later, mirroring the static NodeDirectory supplied by the
// configuration loader.
func (t *Transport) AddPeerAddr(nodeID string, addr multiaddr.Multiaddr) error {
	pid, err := peer.Decode(nodeID)
	if err != nil {
		return fmt.Errorf("transport: decode node id %q: %w", nodeID, err)
	}
	t.host.Peerstore().AddAddr(pid, addr, peerstoreTTL)
	return nil
}

// PollInbound is a non-blocking read of the oldest unread message; messages
// are returned in the order they were received.
func (t *Transport) PollInbound() (Inbound, bool) {
	select {
	case in := <-t.inbound:
		return in, true
	default:
		return Inbound{}, false
	}
}

// PublishTicket registers the content at localPath and returns an opaque
// retrieval handle addressed to this node.
func (t *Transport) PublishTicket(ctx context.Context, localPath string) (string, error) {
	return t.tick.Publish(ctx, localPath, t.NodeID())
}

// Download streams the content addressed by ticket to destPath.
func (t *Transport) Download(ctx context.Context, tck, destPath string) error {
	return t.tick.Download(ctx, tck, destPath, t.dialBlob)
}

// dialBlob opens a raw stream to the ticket's publisher for blob transfer,
// reusing the same host as action messages but over the dedicated blob
// protocol so large transfers never block action traffic.
func (t *Transport) dialBlob(ctx context.Context, nodeID string) (io.ReadWriteCloser, error) {
	pid, err := peer.Decode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("transport: decode node id %q: %w", nodeID, err)
	}
	s, err := t.host.NewStream(ctx, pid, ticket.BlobProtocolID)
	if err != nil {
		return nil, fmt.Errorf("transport: open blob stream to %s: %w", nodeID, err)
	}
	return s, nil
}

// ServeBlobs registers the blob-transfer stream handler backed by tick, so
// peers that hold a ticket published by this node can retrieve it.
func (t *Transport) ServeBlobs(log definition.Logger) {
	t.host.SetStreamHandler(ticket.BlobProtocolID, func(s network.Stream) {
		defer s.Close()
		if err := t.tick.ServeBlob(s); err != nil {
			log.Warnf("transport: serve blob: %v", err)
		}
	})
}

// Close tears down the host. Safe to call more than once.
func (t *Transport) Close() error {
	return t.host.Close()
}

func writeFrame(w io.Writer, payload string) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(payload); err != nil {
		return err
	}
	return bw.Flush()
}

func readFrame(r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
