package record

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/goccy/go-json"
	"github.com/ipfs/go-cid"
)

const cidLinkTag = 42

// Link is a CID reference. It encodes as DAG-CBOR tag 42 on the firehose and
// as {"$link": "<cid>"} in JSON.
type Link struct {
	cid.Cid
}

// NewLink wraps c.
func NewLink(c cid.Cid) Link {
	return Link{Cid: c}
}

// MarshalCBOR implements cbor.Marshaler.
func (l Link) MarshalCBOR() ([]byte, error) {
	if !l.Defined() {
		return nil, fmt.Errorf("record: cannot encode undefined link")
	}
	return cbor.Marshal(cbor.Tag{
		Number:  cidLinkTag,
		Content: append([]byte{0}, l.Bytes()...),
	})
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (l *Link) UnmarshalCBOR(data []byte) error {
	var tag cbor.RawTag
	if err := cbor.Unmarshal(data, &tag); err != nil {
		return fmt.Errorf("record: link: %w", err)
	}
	if tag.Number != cidLinkTag {
		return fmt.Errorf("record: link: unexpected tag %d", tag.Number)
	}

	var raw []byte
	if err := cbor.Unmarshal(tag.Content, &raw); err != nil {
		return fmt.Errorf("record: link content: %w", err)
	}
	if len(raw) < 2 || raw[0] != 0 {
		return fmt.Errorf("record: link: missing multibase prefix")
	}

	c, err := cid.Cast(raw[1:])
	if err != nil {
		return fmt.Errorf("record: link: %w", err)
	}
	l.Cid = c
	return nil
}

type jsonLink struct {
	Link string `json:"$link"`
}

// MarshalJSON implements json.Marshaler.
func (l Link) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonLink{Link: l.String()})
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *Link) UnmarshalJSON(data []byte) error {
	var jl jsonLink
	if err := json.Unmarshal(data, &jl); err != nil {
		return err
	}
	c, err := cid.Decode(jl.Link)
	if err != nil {
		return fmt.Errorf("record: link %q: %w", jl.Link, err)
	}
	l.Cid = c
	return nil
}

// Blob references uploaded media.
type Blob struct {
	Type     string `json:"$type" cbor:"$type"`
	Ref      Link   `json:"ref" cbor:"ref"`
	MimeType string `json:"mimeType" cbor:"mimeType"`
	Size     int64  `json:"size" cbor:"size"`
}

// StrongRef points at a specific version of a record.
type StrongRef struct {
	URI string `json:"uri" cbor:"uri"`
	CID string `json:"cid" cbor:"cid"`
}

// ReplyRef contains references to the parent and root of a reply chain.
type ReplyRef struct {
	Root   StrongRef `json:"root" cbor:"root"`
	Parent StrongRef `json:"parent" cbor:"parent"`
}
