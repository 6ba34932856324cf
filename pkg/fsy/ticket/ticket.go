// Package ticket implements blob exchange mediation: ticket issuance and
// targeted download over a content-addressed store. A ticket is an opaque
// string identifying both the content hash and the node currently serving
// it, the concrete collaborator the rest of the core talks to for the
// transport's publish-ticket/download operations.
package ticket

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/hashicorp/golang-lru"
	"github.com/ipfs/go-datastore"

	"github.com/fsyio/fsy/pkg/fsy/definition"
)

// BlobProtocolID is the libp2p stream protocol dedicated to blob transfer,
// kept separate from the action-message protocol so a large download never
// head-of-line blocks unrelated action traffic.
const BlobProtocolID = "/fsy/blob/1.0.0"

const ticketSep = "@"

// dialFunc opens a bidirectional stream to the node currently serving a
// ticket: the request (a hash line) and the response (the blob bytes) share
// one stream, mirroring a single libp2p stream's duplex Read/Write/Close.
type dialFunc func(ctx context.Context, nodeID string) (io.ReadWriteCloser, error)

// Store is the content-addressed blob store backing ticket issuance and
// retrieval. Blobs are kept in a datastore.Datastore (leveldb on disk in
// production, an in-memory MapDatastore in tests), with a bounded LRU that
// records which tickets were published. Publish reads and hashes the file on
// every call; the LRU is not consulted to skip that work.
type Store struct {
	log definition.Logger
	ds  datastore.Datastore

	mu       sync.Mutex
	metadata *lru.Cache // ticket string -> struct{} (presence only, bounds memory)

	// expected counts how many distinct pull peers are still expected to
	// download a given ticket: when it reaches zero the blob is eagerly
	// freed instead of waiting for an unbounded TTL.
	expected map[string]int
}

// New builds a Store over ds, with an in-memory LRU of cacheSize tracked
// tickets.
func New(ds datastore.Datastore, cacheSize int, log definition.Logger) (*Store, error) {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("ticket: new lru: %w", err)
	}
	return &Store{
		log:      log,
		ds:       ds,
		metadata: cache,
		expected: make(map[string]int),
	}, nil
}

func blobKey(hash string) datastore.Key {
	return datastore.NewKey("/blob/" + hash)
}

// Publish reads localPath fully, stores it keyed by its content hash, and
// returns a ticket addressed to servingNodeID.
func (s *Store) Publish(ctx context.Context, localPath, servingNodeID string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("ticket: read %q: %w", localPath, err)
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	if err := s.ds.Put(ctx, blobKey(hash), data); err != nil {
		return "", fmt.Errorf("ticket: store blob %s: %w", hash, err)
	}

	t := hash + ticketSep + servingNodeID
	s.metadata.Add(t, struct{}{})
	return t, nil
}

// ExpectDownloads records that n distinct peers are expected to retrieve
// ticket, used by MarkDownloaded to decide when the blob can be released.
func (s *Store) ExpectDownloads(tck string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expected[tck] = n
}

// MarkDownloaded records that one peer finished downloading ticket, via a
// CommAction DownloadDone. Once every expected peer has reported in, the
// underlying blob is released as a best-effort cleanup policy.
func (s *Store) MarkDownloaded(ctx context.Context, tck string) error {
	s.mu.Lock()
	remaining, ok := s.expected[tck]
	if ok {
		remaining--
		s.expected[tck] = remaining
	}
	s.mu.Unlock()

	if ok && remaining <= 0 {
		return s.release(ctx, tck)
	}
	return nil
}

func (s *Store) release(ctx context.Context, tck string) error {
	hash, _, ok := splitTicket(tck)
	if !ok {
		return nil
	}
	s.mu.Lock()
	delete(s.expected, tck)
	s.mu.Unlock()
	s.metadata.Remove(tck)
	return s.ds.Delete(ctx, blobKey(hash))
}

func splitTicket(tck string) (hash, nodeID string, ok bool) {
	idx := strings.LastIndex(tck, ticketSep)
	if idx < 0 {
		return "", "", false
	}
	return tck[:idx], tck[idx+1:], true
}

// Download retrieves the content addressed by tck to destPath. If the blob
// is already in this store's datastore (e.g. this node published it), it is
// copied directly; otherwise dial opens a stream to the serving node and the
// blob protocol framing below is used. A blob fetched from a remote node is
// written to destPath only, not added to the datastore.
func (s *Store) Download(ctx context.Context, tck, destPath string, dial dialFunc) error {
	hash, nodeID, ok := splitTicket(tck)
	if !ok {
		return fmt.Errorf("ticket: malformed ticket %q", tck)
	}

	if data, err := s.ds.Get(ctx, blobKey(hash)); err == nil {
		return writeVerified(destPath, data, hash)
	}

	stream, err := dial(ctx, nodeID)
	if err != nil {
		return fmt.Errorf("ticket: dial %s for %s: %w", nodeID, tck, err)
	}
	defer stream.Close()

	if err := requestBlob(stream, hash); err != nil {
		return err
	}

	data, err := readBlob(stream)
	if err != nil {
		return fmt.Errorf("ticket: read blob %s: %w", hash, err)
	}

	return writeVerified(destPath, data, hash)
}

func writeVerified(destPath string, data []byte, wantHash string) error {
	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != wantHash {
		return fmt.Errorf("ticket: content hash mismatch for %s", destPath)
	}
	return os.WriteFile(destPath, data, 0o644)
}

func requestBlob(w io.Writer, hash string) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(hash + "\n"); err != nil {
		return err
	}
	return bw.Flush()
}

// readBlob reads a length-prefixed response: a decimal byte count on its
// own line, followed by exactly that many bytes. Length-prefixing, rather
// than reading until EOF, means the blob protocol does not depend on the
// transport's half-close semantics to signal the end of a transfer.
func readBlob(r io.Reader) ([]byte, error) {
	br := bufio.NewReader(r)
	line, err := br.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("read length: %w", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return nil, fmt.Errorf("parse length %q: %w", line, err)
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(br, data); err != nil {
		return nil, fmt.Errorf("read %d bytes: %w", n, err)
	}
	return data, nil
}

// ServeBlob is the publisher-side handler for an inbound blob stream: it
// reads the requested hash and writes back a length-prefixed response.
func (s *Store) ServeBlob(rw io.ReadWriter) error {
	br := bufio.NewReader(rw)
	line, err := br.ReadString('\n')
	if err != nil {
		return fmt.Errorf("ticket: read blob request: %w", err)
	}
	hash := strings.TrimSpace(line)

	data, err := s.ds.Get(context.Background(), blobKey(hash))
	if err != nil {
		return fmt.Errorf("ticket: blob %s not found: %w", hash, err)
	}

	bw := bufio.NewWriter(rw)
	if _, err := fmt.Fprintf(bw, "%d\n", len(data)); err != nil {
		return err
	}
	if _, err := bw.Write(data); err != nil {
		return err
	}
	return bw.Flush()
}
