package bpv7

import (
	"fmt"
	"io"

	"github.com/dtncore/agent/bundle"
)

// marshalBlock writes an extension block as a definite CBOR array of 5 or 6
// elements: type, number, flags, crc_type, byte-string(data), [crc]? (spec §4.3).
func marshalBlock(w io.Writer, blk *bundle.ExtensionBlock) error {
	length := uint64(5)
	if blk.CRCType != bundle.CRCNone {
		length++
	}
	if err := writeArrayHead(w, length); err != nil {
		return err
	}
	cw := newCRCWriter(w, blk.CRCType)
	if err := writeUint(cw, uint64(blk.Type)); err != nil {
		return err
	}
	if err := writeUint(cw, blk.BlockNumber); err != nil {
		return err
	}
	if err := writeUint(cw, blockFlagsToWire(blk.Flags)); err != nil {
		return err
	}
	if err := writeUint(cw, uint64(blk.CRCType)); err != nil {
		return err
	}
	if err := writeByteString(cw, blk.Data); err != nil {
		return err
	}
	return cw.writeCRCField()
}

// unmarshalBlock reads an extension block written by marshalBlock, reporting
// whether its CRC (if any) validated. The destination for block data is
// allocated here; there is no variant that reads into a caller-supplied
// buffer.
func unmarshalBlock(r io.Reader) (*bundle.ExtensionBlock, bool, error) {
	length, err := readArrayHead(r)
	if err != nil {
		return nil, false, err
	}
	if length != 5 && length != 6 {
		return nil, false, fmt.Errorf("bpv7: extension block array must have 5 or 6 elements, got %d", length)
	}
	hasCRC := length == 6

	blk := &bundle.ExtensionBlock{}
	typ, err := readUint(r)
	if err != nil {
		return nil, false, err
	}
	blk.Type = bundle.BlockType(typ)
	if blk.BlockNumber, err = readUint(r); err != nil {
		return nil, false, err
	}
	flagsVal, err := readUint(r)
	if err != nil {
		return nil, false, err
	}
	blk.Flags = blockFlagsFromWire(flagsVal)
	crcTypeVal, err := readUint(r)
	if err != nil {
		return nil, false, err
	}
	blk.CRCType = bundle.CRCType(crcTypeVal)
	if !hasCRC {
		blk.CRCType = bundle.CRCNone
	}

	// The type/number/flags/crc_type fields above were read raw (before we
	// knew crc_type), so seed a crcReader with them the same way the primary
	// block parser does, then read the byte-string body and CRC through it.
	cr := newCRCReader(r, blk.CRCType)
	feedUintRaw(cr, uint64(blk.Type))
	feedUintRaw(cr, blk.BlockNumber)
	feedUintRaw(cr, flagsVal)
	feedUintRaw(cr, crcTypeVal)

	blk.Data, err = readByteString(cr)
	if err != nil {
		return nil, false, err
	}

	if !hasCRC {
		return blk, true, nil
	}
	valid, err := cr.readAndVerifyCRCField()
	return blk, valid, err
}

// feedUintRaw re-encodes v as CBOR and feeds it into cr's checksum, used to
// retroactively include header fields read before crc_type was known. Exact
// for all values produced by writeUint, since both sides use the same
// minimal-length CBOR integer encoding.
func feedUintRaw(cr *crcReader, v uint64) {
	bc := &byteCollector{}
	_ = writeUint(bc, v)
	cr.feedRaw(bc.buf)
}

type byteCollector struct{ buf []byte }

func (b *byteCollector) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}
