package mailbox

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/gotmesh/internal/store"
)

const (
	// mailboxDir is the directory name within the shared directory that holds mailboxes.
	mailboxDir = "mailbox"

	// peersDir holds one registration file per live peer.
	peersDir = "peers"

	// indexFile is the append-only JSONL file within each mailbox directory.
	indexFile = "index.jsonl"

	// appendLockName serializes appends across processes.
	appendLockName = "append.lock"

	lockRetry = 5 * time.Millisecond
)

// Store provides file-based mailbox storage shared by every peer that
// points at the same directory. Messages are persisted as JSONL (one JSON
// object per line) in append-only logs.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates a Store rooted at dir. The directory structure is created
// lazily on first write.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the shared root directory.
func (s *Store) Dir() string { return s.dir }

// Append persists a message to the recipient's mailbox. If msg.ID is empty a
// UUID is generated; if msg.Timestamp is zero the current time is used. The
// append holds a file lock so that concurrent writers in other processes
// never interleave lines. It gives up when ctx is done.
func (s *Store) Append(ctx context.Context, msg Message) (Message, error) {
	if msg.From == "" {
		return msg, fmt.Errorf("mailbox: message From field is required")
	}
	if msg.To == "" {
		return msg, fmt.Errorf("mailbox: message To field is required")
	}
	if !ValidateMessageType(msg.Type) {
		return msg, fmt.Errorf("mailbox: unknown message type %q", msg.Type)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return msg, fmt.Errorf("mailbox: marshal message: %w", err)
	}
	data = append(data, '\n')

	dir := s.dirForRecipient(msg.To)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return msg, fmt.Errorf("mailbox: create directory: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fl := store.NewFileLock(dir, appendLockName)
	if err := fl.LockContext(ctx, lockRetry); err != nil {
		if ctx.Err() != nil {
			return msg, err
		}
		return msg, fmt.Errorf("mailbox: lock: %w", err)
	}
	defer func() { _ = fl.Unlock() }()

	f, err := os.OpenFile(filepath.Join(dir, indexFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return msg, fmt.Errorf("mailbox: open index for append: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return msg, fmt.Errorf("mailbox: append to index: %w", err)
	}
	return msg, f.Close()
}

// ReadFrom returns the complete messages in recipient's mailbox that start
// at or after byte offset, and the offset just past the last one. A
// trailing partial line is left for the next read. Malformed lines are
// skipped.
func (s *Store) ReadFrom(recipient string, offset int64) ([]Message, int64, error) {
	f, err := os.Open(filepath.Join(s.dirForRecipient(recipient), indexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, offset, nil
		}
		return nil, offset, fmt.Errorf("mailbox: open index: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, fmt.Errorf("mailbox: seek index: %w", err)
	}

	var messages []Message
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadBytes('\n')
		if err == io.EOF {
			break
		}
		if err != nil {
			return messages, offset, fmt.Errorf("mailbox: read index: %w", err)
		}
		offset += int64(len(line))
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, offset, nil
}

// ReadAll returns every message in the broadcast mailbox and in peerID's
// own mailbox, sorted chronologically.
func (s *Store) ReadAll(peerID string) ([]Message, error) {
	broadcast, _, err := s.ReadFrom(BroadcastRecipient, 0)
	if err != nil {
		return nil, err
	}
	targeted, _, err := s.ReadFrom(peerID, 0)
	if err != nil {
		return nil, err
	}
	all := append(broadcast, targeted...)
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.Before(all[j].Timestamp)
	})
	return all, nil
}

// RegisterPeer records info in the peers directory, replacing any earlier
// registration of the same id.
func (s *Store) RegisterPeer(info PeerInfo) error {
	if err := validPeerID(info.ID); err != nil {
		return err
	}
	dir := filepath.Join(s.dir, peersDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mailbox: create peers directory: %w", err)
	}
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("mailbox: marshal peer: %w", err)
	}
	return store.WriteFileAtomic(filepath.Join(dir, info.ID+".json"), data)
}

// UnregisterPeer removes peerID's registration. Missing registrations are
// not an error.
func (s *Store) UnregisterPeer(peerID string) error {
	if err := validPeerID(peerID); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.dir, peersDir, peerID+".json"))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("mailbox: unregister peer: %w", err)
	}
	return nil
}

// Peers lists registered peers sorted by id.
func (s *Store) Peers() ([]PeerInfo, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, peersDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("mailbox: list peers: %w", err)
	}
	var peers []PeerInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, peersDir, e.Name()))
		if err != nil {
			continue
		}
		var info PeerInfo
		if json.Unmarshal(data, &info) != nil || info.ID == "" {
			continue
		}
		peers = append(peers, info)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].ID < peers[j].ID })
	return peers, nil
}

func validPeerID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || id == BroadcastRecipient {
		return fmt.Errorf("mailbox: invalid peer id %q", id)
	}
	return nil
}

// dirForRecipient returns the mailbox directory for a given recipient.
func (s *Store) dirForRecipient(recipient string) string {
	return filepath.Join(s.dir, mailboxDir, recipient)
}
