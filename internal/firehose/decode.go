// Package firehose decodes frames of the binary com.atproto.sync.subscribeRepos
// stream and describes how to connect to it.
package firehose

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/blackmichael/skystream/internal/event"
)

var (
	// ErrUnknownShape is returned when a frame body matches none of the known
	// message shapes, or its header names a type this package does not know.
	ErrUnknownShape = errors.New("firehose: unknown message shape")

	// ErrUnsupportedOp is returned for header ops other than 1 and -1.
	ErrUnsupportedOp = errors.New("firehose: unsupported header op")
)

var decMode cbor.DecMode

func init() {
	var err error
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("firehose: cbor decode options: %v", err))
	}
}

// Result is a classified frame. When the header carried no type, Ambiguous
// lists every other shape the body also satisfied, in trial order.
type Result struct {
	Event     event.Event
	Ambiguous []event.Kind
}

// shape is the key signature of one message body. A body matches when every
// required key is present and no key falls outside required+optional.
type shape struct {
	kind     event.Kind
	tag      string
	required []string
	optional []string
	decode   func([]byte) (event.Event, error)
}

func (s shape) matches(keys map[string]cbor.RawMessage) bool {
	for _, k := range s.required {
		if _, ok := keys[k]; !ok {
			return false
		}
	}
	for k := range keys {
		if !s.allows(k) {
			return false
		}
	}
	return true
}

func (s shape) allows(key string) bool {
	if key == "$type" {
		return true
	}
	for _, k := range s.required {
		if k == key {
			return true
		}
	}
	for _, k := range s.optional {
		if k == key {
			return true
		}
	}
	return false
}

func decodeAs[T any, P interface {
	*T
	event.Event
}](body []byte) (event.Event, error) {
	var v T
	if err := decMode.Unmarshal(body, &v); err != nil {
		return nil, err
	}
	return P(&v), nil
}

// shapes is the fixed trial order used when the header carries no type.
var shapes = []shape{
	{
		kind:     event.KindCommit,
		tag:      "#commit",
		required: []string{"seq", "rebase", "tooBig", "repo", "commit", "rev", "blocks", "ops", "blobs", "time"},
		optional: []string{"prev", "since", "prevData"},
		decode:   decodeAs[Commit],
	},
	{
		kind:     event.KindSync,
		tag:      "#sync",
		required: []string{"seq", "did", "blocks", "rev", "time"},
		decode:   decodeAs[Sync],
	},
	{
		kind:     event.KindIdentity,
		tag:      "#identity",
		required: []string{"seq", "did", "time"},
		optional: []string{"handle"},
		decode:   decodeAs[event.Identity],
	},
	{
		kind:     event.KindAccount,
		tag:      "#account",
		required: []string{"seq", "did", "time", "active"},
		optional: []string{"status"},
		decode:   decodeAs[event.Account],
	},
	{
		kind:     event.KindInfo,
		tag:      "#info",
		required: []string{"name"},
		optional: []string{"message"},
		decode:   decodeAs[Info],
	},
	{
		kind:     event.KindRepoOp,
		required: []string{"action", "path"},
		optional: []string{"cid", "prev"},
		decode:   decodeAs[RepoOp],
	},
}

// Decode classifies one binary frame. The header's type, when present, picks
// the shape directly. Otherwise each shape is tried in order and the first
// that both matches and decodes wins.
func Decode(frame []byte) (Result, error) {
	var hdr Header
	body, err := decMode.UnmarshalFirst(frame, &hdr)
	if err != nil {
		return Result{}, fmt.Errorf("decode header: %w", err)
	}

	switch hdr.Op {
	case 1:
	case -1:
		var se StreamError
		if err := decMode.Unmarshal(body, &se); err != nil {
			return Result{}, fmt.Errorf("decode error frame: %w", err)
		}
		return Result{}, &se
	default:
		return Result{}, fmt.Errorf("%w: %d", ErrUnsupportedOp, hdr.Op)
	}

	if hdr.T != "" {
		for _, s := range shapes {
			if s.tag != hdr.T {
				continue
			}
			ev, err := s.decode(body)
			if err != nil {
				return Result{}, fmt.Errorf("decode %s: %w", hdr.T, err)
			}
			return Result{Event: ev}, nil
		}
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownShape, hdr.T)
	}

	return classify(body)
}

func classify(body []byte) (Result, error) {
	var keys map[string]cbor.RawMessage
	if err := decMode.Unmarshal(body, &keys); err != nil {
		return Result{}, fmt.Errorf("decode body: %w", err)
	}

	var res Result
	for _, s := range shapes {
		if !s.matches(keys) {
			continue
		}
		if res.Event != nil {
			res.Ambiguous = append(res.Ambiguous, s.kind)
			continue
		}
		ev, err := s.decode(body)
		if err != nil {
			continue
		}
		res.Event = ev
	}

	if res.Event == nil {
		return Result{}, ErrUnknownShape
	}
	return res, nil
}

// EncodeFrame builds a message frame: a header naming typ followed by body.
// An empty typ omits the header type, leaving classification to shape trial.
func EncodeFrame(typ string, body any) ([]byte, error) {
	hdr, err := cbor.Marshal(Header{Op: 1, T: typ})
	if err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}
	b, err := cbor.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	return append(hdr, b...), nil
}
