package firehose

import (
	"fmt"
	"strings"
	"sync"

	"github.com/blackmichael/skystream/internal/event"
	"github.com/blackmichael/skystream/internal/record"
)

// Header precedes every frame body. Op is 1 for messages and -1 for errors;
// T names the message type ("#commit", "#identity", ...) when the relay sends it.
type Header struct {
	Op int64  `cbor:"op"`
	T  string `cbor:"t,omitempty"`
}

// StreamError is the body of an op -1 frame. The relay closes the connection
// after sending one.
type StreamError struct {
	Name    string `cbor:"error"`
	Message string `cbor:"message,omitempty"`
}

func (e *StreamError) Error() string {
	if e.Message == "" {
		return "firehose: stream error " + e.Name
	}
	return fmt.Sprintf("firehose: stream error %s: %s", e.Name, e.Message)
}

// RepoOp describes a single record mutation inside a commit.
type RepoOp struct {
	Action string       `cbor:"action"`
	Path   string       `cbor:"path"`
	CID    *record.Link `cbor:"cid"`
	Prev   *record.Link `cbor:"prev,omitempty"`
}

func (*RepoOp) Kind() event.Kind { return event.KindRepoOp }
func (*RepoOp) Repo() string { return "" }
func (*RepoOp) Cursor() (int64, bool) { return 0, false }

// Commit is one atomic batch of mutations to a repository. Blocks is a CAR
// container holding the changed tree nodes and the new records.
type Commit struct {
	Seq      int64         `cbor:"seq"`
	Rebase   bool          `cbor:"rebase"`
	TooBig   bool          `cbor:"tooBig"`
	RepoDID  string        `cbor:"repo"`
	Commit   record.Link   `cbor:"commit"`
	Prev     *record.Link  `cbor:"prev"`
	Rev      string        `cbor:"rev"`
	Since    *string       `cbor:"since"`
	Blocks   []byte        `cbor:"blocks"`
	RepoOps  []RepoOp      `cbor:"ops"`
	Blobs    []record.Link `cbor:"blobs"`
	Time     string        `cbor:"time"`
	PrevData *record.Link  `cbor:"prevData,omitempty"`

	opsOnce sync.Once
	ops     []event.Op
}

func (*Commit) Kind() event.Kind { return event.KindCommit }
func (c *Commit) Repo() string { return c.RepoDID }
func (c *Commit) Cursor() (int64, bool) { return c.Seq, true }

// Ops resolves each RepoOp against the records shipped in Blocks. The
// container is decoded once, on first call.
func (c *Commit) Ops() []event.Op {
	c.opsOnce.Do(func() {
		c.ops = c.resolveOps()
	})
	return c.ops
}

func (c *Commit) resolveOps() []event.Op {
	extracted := record.ExtractContainer(c.Blocks)
	byCID := make(map[string]record.Record, len(extracted))
	for _, e := range extracted {
		byCID[e.CID.KeyString()] = e.Record
	}

	ops := make([]event.Op, 0, len(c.RepoOps))
	for _, op := range c.RepoOps {
		collection, rkey, _ := strings.Cut(op.Path, "/")
		out := event.Op{
			Repo:       c.RepoDID,
			Collection: collection,
			RKey:       rkey,
			Action:     op.Action,
		}
		if op.CID != nil && op.CID.Defined() {
			out.CID = op.CID.String()
			out.Record = byCID[op.CID.KeyString()]
		}
		ops = append(ops, out)
	}
	return ops
}

// Sync announces a repository's current state without a diff.
type Sync struct {
	Seq    int64  `cbor:"seq"`
	DID    string `cbor:"did"`
	Blocks []byte `cbor:"blocks"`
	Rev    string `cbor:"rev"`
	Time   string `cbor:"time"`
}

func (*Sync) Kind() event.Kind { return event.KindSync }
func (s *Sync) Repo() string { return s.DID }
func (s *Sync) Cursor() (int64, bool) { return s.Seq, true }

// Info is an informational notice from the relay, such as "OutdatedCursor".
type Info struct {
	Name    string  `cbor:"name"`
	Message *string `cbor:"message,omitempty"`
}

func (*Info) Kind() event.Kind { return event.KindInfo }
func (*Info) Repo() string { return "" }
func (*Info) Cursor() (int64, bool) { return 0, false }

var (
	_ event.Committer = (*Commit)(nil)
	_ event.Event     = (*Sync)(nil)
	_ event.Event     = (*Info)(nil)
	_ event.Event     = (*RepoOp)(nil)
)
