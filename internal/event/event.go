// Package event defines the protocol-independent view of a decoded stream
// message that the fan-out pipeline works on.
package event

import (
	"fmt"

	"github.com/blackmichael/skystream/internal/record"
)

// Kind identifies which variant an Event is.
type Kind int

const (
	KindCommit Kind = iota + 1
	KindSync
	KindIdentity
	KindAccount
	KindInfo
	KindRepoOp
)

func (k Kind) String() string {
	switch k {
	case KindCommit:
		return "commit"
	case KindSync:
		return "sync"
	case KindIdentity:
		return "identity"
	case KindAccount:
		return "account"
	case KindInfo:
		return "info"
	case KindRepoOp:
		return "repo_op"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Record operation actions.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Event is one decoded message. Implementations are immutable once decoded.
type Event interface {
	Kind() Kind

	// Repo is the DID of the repository the event concerns, or "" for
	// stream-level notices.
	Repo() string

	// Cursor is the resume position this event represents, if it carries one.
	Cursor() (int64, bool)
}

// Op is one record mutation carried by a commit.
type Op struct {
	Repo       string
	Collection string
	RKey       string
	Action     string
	CID        string

	// Record is nil for deletes and for creates whose block was not shipped
	// or did not decode.
	Record record.Record
}

// URI returns the AT-URI of the mutated record.
func (o Op) URI() string {
	return fmt.Sprintf("at://%s/%s/%s", o.Repo, o.Collection, o.RKey)
}

// Committer is implemented by commit events of either protocol.
type Committer interface {
	Event
	Ops() []Op
}

// Identity signals that a repository's handle or DID document may have changed.
type Identity struct {
	Seq    int64   `json:"seq" cbor:"seq"`
	DID    string  `json:"did" cbor:"did"`
	Time   string  `json:"time" cbor:"time"`
	Handle *string `json:"handle,omitempty" cbor:"handle,omitempty"`
}

func (*Identity) Kind() Kind { return KindIdentity }
func (i *Identity) Repo() string { return i.DID }
func (i *Identity) Cursor() (int64, bool) { return i.Seq, i.Seq > 0 }

// Account signals a change in a repository's hosting status.
type Account struct {
	Seq    int64   `json:"seq" cbor:"seq"`
	DID    string  `json:"did" cbor:"did"`
	Time   string  `json:"time" cbor:"time"`
	Active bool    `json:"active" cbor:"active"`
	Status *string `json:"status,omitempty" cbor:"status,omitempty"`
}

func (*Account) Kind() Kind { return KindAccount }
func (a *Account) Repo() string { return a.DID }
func (a *Account) Cursor() (int64, bool) { return a.Seq, a.Seq > 0 }
