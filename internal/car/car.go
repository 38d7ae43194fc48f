// Package car reads and writes the content-addressed block containers (CARv1)
// that carry a commit's changed tree nodes and records on the firehose.
package car

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/multiformats/go-varint"
)

// cidLinkTag is the CBOR tag DAG-CBOR uses for CID links.
const cidLinkTag = 42

// ErrBadHeader is returned when the container header cannot be read. Block
// level damage never produces an error; those blocks are dropped.
var ErrBadHeader = errors.New("car: malformed container header")

// Block is one content-addressed entry of a container.
type Block struct {
	CID  cid.Cid
	Data []byte
}

// blockPrefix is the CID form atproto repositories use for their blocks.
var blockPrefix = cid.Prefix{
	Version:  1,
	Codec:    cid.DagCBOR,
	MhType:   multihash.SHA2_256,
	MhLength: -1,
}

// NewBlock addresses a DAG-CBOR payload the way repository blocks are
// addressed.
func NewBlock(data []byte) (Block, error) {
	c, err := blockPrefix.Sum(data)
	if err != nil {
		return Block{}, fmt.Errorf("hash block: %w", err)
	}
	return Block{CID: c, Data: data}, nil
}

// Container is a decoded CARv1 payload.
type Container struct {
	Roots  []cid.Cid
	Blocks []Block
}

type header struct {
	Roots   []cbor.RawTag `cbor:"roots"`
	Version uint64        `cbor:"version"`
}

// Read decodes a CARv1 container. Sections whose CID does not parse or whose
// bytes do not hash to their CID are skipped: a commit may legitimately ship
// blocks this client has no use for, and one bad block should not cost the
// rest. A truncated section ends the scan since the framing is lost.
func Read(data []byte) (*Container, error) {
	hdrLen, n, err := varint.FromUvarint(data)
	if err != nil {
		return nil, fmt.Errorf("%w: length prefix: %v", ErrBadHeader, err)
	}
	rest := data[n:]
	if hdrLen == 0 || hdrLen > uint64(len(rest)) {
		return nil, fmt.Errorf("%w: length %d exceeds payload", ErrBadHeader, hdrLen)
	}

	var hdr header
	if err := cbor.Unmarshal(rest[:hdrLen], &hdr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	if hdr.Version != 1 {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadHeader, hdr.Version)
	}

	out := &Container{}
	for _, tag := range hdr.Roots {
		if c, ok := tagToCID(tag); ok {
			out.Roots = append(out.Roots, c)
		}
	}

	rest = rest[hdrLen:]
	for len(rest) > 0 {
		secLen, n, err := varint.FromUvarint(rest)
		if err != nil || secLen > uint64(len(rest)-n) {
			break
		}
		section := rest[n : n+int(secLen)]
		rest = rest[n+int(secLen):]

		if blk, ok := parseSection(section); ok {
			out.Blocks = append(out.Blocks, blk)
		}
	}

	return out, nil
}

func parseSection(section []byte) (Block, bool) {
	cidLen, c, err := cid.CidFromBytes(section)
	if err != nil {
		return Block{}, false
	}
	data := section[cidLen:]

	sum, err := c.Prefix().Sum(data)
	if err != nil || !sum.Equals(c) {
		return Block{}, false
	}
	return Block{CID: c, Data: data}, true
}

func tagToCID(tag cbor.RawTag) (cid.Cid, bool) {
	if tag.Number != cidLinkTag {
		return cid.Undef, false
	}
	var raw []byte
	if err := cbor.Unmarshal(tag.Content, &raw); err != nil {
		return cid.Undef, false
	}
	// DAG-CBOR prefixes the binary CID with the identity multibase byte.
	if len(raw) < 2 || raw[0] != 0 {
		return cid.Undef, false
	}
	c, err := cid.Cast(raw[1:])
	if err != nil {
		return cid.Undef, false
	}
	return c, true
}

// Write encodes roots and blocks as a CARv1 container.
func Write(roots []cid.Cid, blocks []Block) ([]byte, error) {
	type writeHeader struct {
		Roots   []cbor.Tag `cbor:"roots"`
		Version uint64     `cbor:"version"`
	}

	hdr := writeHeader{Roots: make([]cbor.Tag, 0, len(roots)), Version: 1}
	for _, r := range roots {
		hdr.Roots = append(hdr.Roots, cbor.Tag{
			Number:  cidLinkTag,
			Content: append([]byte{0}, r.Bytes()...),
		})
	}

	hdrBytes, err := cbor.Marshal(hdr)
	if err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}

	buf := append(varint.ToUvarint(uint64(len(hdrBytes))), hdrBytes...)
	for _, b := range blocks {
		cidBytes := b.CID.Bytes()
		buf = append(buf, varint.ToUvarint(uint64(len(cidBytes)+len(b.Data)))...)
		buf = append(buf, cidBytes...)
		buf = append(buf, b.Data...)
	}
	return buf, nil
}
