package bpv7

import (
	"io"

	"github.com/dtncore/agent/bundle"
	"github.com/dtncore/agent/internal/dtnerr"
)

// quotaReader enforces the per-parser byte quota named in spec §4.1/§4.3.
type quotaReader struct {
	r     io.Reader
	quota int
	read  int
}

func (q *quotaReader) Read(p []byte) (int, error) {
	if q.quota > 0 && q.read >= q.quota {
		return 0, dtnerr.NewCapacityExhausted("bpv7 parser quota exceeded")
	}
	if q.quota > 0 && q.read+len(p) > q.quota {
		p = p[:q.quota-q.read]
	}
	n, err := q.r.Read(p)
	q.read += n
	return n, err
}

// Parser decodes bundles from a CBOR indefinite-length outer array (spec §4.3).
type Parser struct {
	pr    *peekReader
	quota int
}

func NewParser(r io.Reader, quota int) *Parser {
	return &Parser{pr: &peekReader{Reader: &quotaReader{r: r, quota: quota}}, quota: quota}
}

// Parse reads one bundle from the outer array. valid is false if the
// bundle's CRC failed verification — per spec §4.3 this is a silent drop,
// not an error, and err is nil in that case.
func (p *Parser) Parse() (b *bundle.Bundle, valid bool, err error) {
	head, herr := p.pr.Peek()
	if herr != nil {
		return nil, false, herr
	}
	if head == 0x9f {
		_, _ = p.pr.ReadByte() // consume the indefinite-array marker
		head, herr = p.pr.Peek()
		if herr != nil {
			return nil, false, herr
		}
	}
	if head == breakByte {
		_, _ = p.pr.ReadByte()
		return nil, false, io.EOF
	}

	b = &bundle.Bundle{Version: bundle.Version7}
	primaryValid, err := unmarshalPrimary(p.pr, b)
	if err != nil {
		return nil, false, dtnerr.NewParseError("primary_block", err)
	}
	valid = primaryValid

	for {
		isBreak, berr := peekIsBreak(p.pr)
		if berr != nil {
			return nil, false, dtnerr.NewParseError("bundle", berr)
		}
		if isBreak {
			break
		}
		blk, blkValid, berr2 := unmarshalBlock(p.pr)
		if berr2 != nil {
			return nil, false, dtnerr.NewParseError("extension_block", berr2)
		}
		blk.BlockNumber = blockNumberOrAssign(b, blk)
		b.Blocks = append(b.Blocks, *blk)
		if !blkValid {
			valid = false
		}
	}

	return b, valid, nil
}

func blockNumberOrAssign(b *bundle.Bundle, blk *bundle.ExtensionBlock) uint64 {
	if blk.Type == bundle.BlockPayload {
		return 1
	}
	if blk.BlockNumber != 0 {
		return blk.BlockNumber
	}
	return b.NextBlockNumber()
}
