package bpv7

import (
	"bytes"
	"fmt"

	"github.com/dtncore/agent/bundle"
)

// HopCount is the BP7 hop-count extension block body: CBOR [limit, count],
// serialized max size 7 bytes (spec §4.3).
type HopCount struct {
	Limit uint64
	Count uint64
}

func EncodeHopCount(h HopCount) []byte {
	buf := new(bytes.Buffer)
	_ = writeArrayHead(buf, 2)
	_ = writeUint(buf, h.Limit)
	_ = writeUint(buf, h.Count)
	return buf.Bytes()
}

func DecodeHopCount(data []byte) (HopCount, error) {
	r := bytes.NewReader(data)
	n, err := readArrayHead(r)
	if err != nil {
		return HopCount{}, err
	}
	if n != 2 {
		return HopCount{}, fmt.Errorf("bpv7: hop count array must have 2 elements, got %d", n)
	}
	limit, err := readUint(r)
	if err != nil {
		return HopCount{}, err
	}
	count, err := readUint(r)
	if err != nil {
		return HopCount{}, err
	}
	return HopCount{Limit: limit, Count: count}, nil
}

// NewHopCountBlock builds the extension block carrying h, with the given
// block number and flags.
func NewHopCountBlock(number uint64, h HopCount, flags bundle.BlockFlags) bundle.ExtensionBlock {
	return bundle.ExtensionBlock{
		Type:        bundle.BlockHopCount,
		BlockNumber: number,
		Flags:       flags,
		Data:        EncodeHopCount(h),
	}
}
