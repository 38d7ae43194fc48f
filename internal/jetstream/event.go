// Package jetstream decodes the JSON republication of the firehose served by
// Jetstream instances and describes how to subscribe to it.
package jetstream

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/blackmichael/skystream/internal/event"
	"github.com/blackmichael/skystream/internal/record"
)

// Event kinds as they appear on the wire.
const (
	KindCommit   = "commit"
	KindIdentity = "identity"
	KindAccount  = "account"
)

var (
	// ErrKindMismatch is returned when the kind field and the populated
	// payload disagree.
	ErrKindMismatch = errors.New("jetstream: kind does not match payload")

	// ErrUnknownKind is returned for kinds other than commit, identity and account.
	ErrUnknownKind = errors.New("jetstream: unknown event kind")
)

// Event is one Jetstream message. Exactly one of Commit, Identity and Account
// is set, matching EventKind.
type Event struct {
	DID       string          `json:"did"`
	TimeUS    int64           `json:"time_us"`
	EventKind string          `json:"kind"`
	Commit    *Commit         `json:"commit,omitempty"`
	Identity  *event.Identity `json:"identity,omitempty"`
	Account   *event.Account  `json:"account,omitempty"`
}

// Commit is a single record operation.
type Commit struct {
	Rev        string        `json:"rev"`
	Operation  string        `json:"operation"`
	Collection string        `json:"collection"`
	RKey       string        `json:"rkey"`
	Record     record.Record `json:"record,omitempty"`
	CID        string        `json:"cid,omitempty"`
}

func (e *Event) Kind() event.Kind {
	switch e.EventKind {
	case KindIdentity:
		return event.KindIdentity
	case KindAccount:
		return event.KindAccount
	default:
		return event.KindCommit
	}
}

func (e *Event) Repo() string { return e.DID }

// Cursor is the event's time_us, which Jetstream accepts as a resume cursor.
func (e *Event) Cursor() (int64, bool) { return e.TimeUS, e.TimeUS > 0 }

// Ops returns the event's single record operation, or nil for non-commits.
func (e *Event) Ops() []event.Op {
	if e.Commit == nil {
		return nil
	}
	return []event.Op{{
		Repo:       e.DID,
		Collection: e.Commit.Collection,
		RKey:       e.Commit.RKey,
		Action:     e.Commit.Operation,
		CID:        e.Commit.CID,
		Record:     e.Commit.Record,
	}}
}

var _ event.Committer = (*Event)(nil)

// Decode parses one Jetstream JSON message.
func Decode(data []byte) (*Event, error) {
	var raw struct {
		DID      string          `json:"did"`
		TimeUS   int64           `json:"time_us"`
		Kind     string          `json:"kind"`
		Commit   json.RawMessage `json:"commit,omitempty"`
		Identity json.RawMessage `json:"identity,omitempty"`
		Account  json.RawMessage `json:"account,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}

	hasCommit, hasIdentity, hasAccount := present(raw.Commit), present(raw.Identity), present(raw.Account)

	ev := &Event{
		DID:       raw.DID,
		TimeUS:    raw.TimeUS,
		EventKind: raw.Kind,
	}

	switch raw.Kind {
	case KindCommit:
		if !hasCommit || hasIdentity || hasAccount {
			return nil, fmt.Errorf("%w: kind %q", ErrKindMismatch, raw.Kind)
		}
		commit, err := decodeCommit(raw.Commit)
		if err != nil {
			return nil, err
		}
		ev.Commit = commit

	case KindIdentity:
		if !hasIdentity || hasCommit || hasAccount {
			return nil, fmt.Errorf("%w: kind %q", ErrKindMismatch, raw.Kind)
		}
		var identity event.Identity
		if err := json.Unmarshal(raw.Identity, &identity); err != nil {
			return nil, fmt.Errorf("unmarshal identity: %w", err)
		}
		ev.Identity = &identity

	case KindAccount:
		if !hasAccount || hasCommit || hasIdentity {
			return nil, fmt.Errorf("%w: kind %q", ErrKindMismatch, raw.Kind)
		}
		var account event.Account
		if err := json.Unmarshal(raw.Account, &account); err != nil {
			return nil, fmt.Errorf("unmarshal account: %w", err)
		}
		ev.Account = &account

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, raw.Kind)
	}

	return ev, nil
}

func decodeCommit(data []byte) (*Commit, error) {
	var rc struct {
		Rev        string          `json:"rev"`
		Operation  string          `json:"operation"`
		Collection string          `json:"collection"`
		RKey       string          `json:"rkey"`
		Record     json.RawMessage `json:"record,omitempty"`
		CID        string          `json:"cid"`
	}
	if err := json.Unmarshal(data, &rc); err != nil {
		return nil, fmt.Errorf("unmarshal commit: %w", err)
	}

	switch rc.Operation {
	case event.ActionCreate, event.ActionUpdate, event.ActionDelete:
	default:
		return nil, fmt.Errorf("unmarshal commit: unknown operation %q", rc.Operation)
	}

	commit := &Commit{
		Rev:        rc.Rev,
		Operation:  rc.Operation,
		Collection: rc.Collection,
		RKey:       rc.RKey,
		CID:        rc.CID,
	}

	if present(rc.Record) {
		rec, err := record.DecodeJSON(rc.Record)
		if err != nil {
			return nil, fmt.Errorf("unmarshal %s record: %w", rc.Collection, err)
		}
		commit.Record = rec
	}

	return commit, nil
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}
