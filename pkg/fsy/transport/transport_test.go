package transport

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/libp2p/go-libp2p/core/crypto"

	"github.com/fsyio/fsy/pkg/fsy/definition"
	"github.com/fsyio/fsy/pkg/fsy/ticket"
)

func newTestTransport(t *testing.T) *Transport {
	t.Helper()

	priv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		t.Fatalf("GenerateEd25519Key: %v", err)
	}

	ds := dssync.MutexWrap(datastore.NewMapDatastore())
	store, err := ticket.New(ds, 64, definition.NewDefaultLogger())
	if err != nil {
		t.Fatalf("ticket.New: %v", err)
	}

	tr, err := New(context.Background(), priv, "/ip4/127.0.0.1/tcp/0", store, definition.NewDefaultLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

func connectAndAdvertise(t *testing.T, from, to *Transport) {
	t.Helper()
	for _, a := range to.host.Addrs() {
		if err := from.AddPeerAddr(to.NodeID(), a); err != nil {
			t.Fatalf("AddPeerAddr: %v", err)
		}
	}
}

func TestTransport_SendIsReceivedAsInbound(t *testing.T) {
	a := newTestTransport(t)
	b := newTestTransport(t)

	connectAndAdvertise(t, a, b)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.Send(ctx, b.NodeID(), "7]]::hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if in, ok := b.PollInbound(); ok {
			if in.FromNodeID != a.NodeID() {
				t.Fatalf("expected sender %s, got %s", a.NodeID(), in.FromNodeID)
			}
			if in.Payload != "7]]::hello" {
				t.Fatalf("unexpected payload: %q", in.Payload)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("b never received the message")
}

func TestTransport_PublishAndDownloadRoundTrip(t *testing.T) {
	a := newTestTransport(t)
	b := newTestTransport(t)

	connectAndAdvertise(t, b, a)
	a.ServeBlobs(definition.NewDefaultLogger())

	dir := t.TempDir()
	src := filepath.Join(dir, "source.bin")
	want := []byte("the quick brown fox jumps over the lazy dog")
	if err := os.WriteFile(src, want, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tck, err := a.PublishTicket(ctx, src)
	if err != nil {
		t.Fatalf("PublishTicket: %v", err)
	}

	dest := filepath.Join(dir, "dest.bin")
	if err := b.Download(ctx, tck, dest); err != nil {
		t.Fatalf("Download: %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("downloaded content mismatch: got %q want %q", got, want)
	}
}

func TestTransport_PollInboundEmptyIsNonBlocking(t *testing.T) {
	tr := newTestTransport(t)
	if _, ok := tr.PollInbound(); ok {
		t.Fatalf("expected no inbound message on a fresh transport")
	}
}
