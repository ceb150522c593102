// Package bpv6 implements the streaming RFC 5050 (Bundle Protocol v6) codec:
// primary block as a sequence of SDNVs preceded by a version byte, extension
// blocks each with their own length-prefixed data, a bundle-local EID
// dictionary, and fragmentation per RFC 5050 §5.8.
package bpv6

import (
	"bufio"
	"io"

	"github.com/dtncore/agent/bundle"
	"github.com/dtncore/agent/internal/dtnerr"
	"github.com/dtncore/agent/sdnv"
)

// state is the parser's tagged state enum (REDESIGN FLAGS §9: a single step
// function over an exhaustive state tag, not function-pointer polymorphism).
type state int

const (
	stVersion state = iota
	stProcFlags
	stBlockLength
	stDestSchemeOff
	stDestSSPOff
	stSrcSchemeOff
	stSrcSSPOff
	stReportSchemeOff
	stReportSSPOff
	stCustodianSchemeOff
	stCustodianSSPOff
	stCreationTS
	stSequenceNum
	stLifetime
	stDictLength
	stDictBytes
	stFragmentOffset
	stTotalADULength
	stBlockType
	stBlockFlags
	stEIDRefCount
	stEIDRefs
	stBlockLen
	stBlockData
	stDone
	stError
)

const wireVersion = 0x06

// Parser decodes one bundle from a byte stream, enforcing a per-parser byte
// quota (spec §4.2 "fails... bundle size exceeding the per-parser quota").
type Parser struct {
	r     *bufio.Reader
	quota int
	read  int
}

func NewParser(r io.Reader, quota int) *Parser {
	return &Parser{r: bufio.NewReader(r), quota: quota}
}

func (p *Parser) readByte() (byte, error) {
	if p.quota > 0 && p.read >= p.quota {
		return 0, dtnerr.NewCapacityExhausted("bpv6 parser quota exceeded")
	}
	b, err := p.r.ReadByte()
	if err != nil {
		return 0, err
	}
	p.read++
	return b, nil
}

func (p *Parser) readN(n int) ([]byte, error) {
	if p.quota > 0 && p.read+n > p.quota {
		return nil, dtnerr.NewCapacityExhausted("bpv6 parser quota exceeded")
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(p.r, buf); err != nil {
		return nil, err
	}
	p.read += n
	return buf, nil
}

func (p *Parser) readSDNV(bitWidth int) (uint64, error) {
	d := sdnv.NewDecoder(bitWidth)
	for {
		b, err := p.readByte()
		if err != nil {
			return 0, err
		}
		status, serr := d.Feed(b)
		if serr != nil {
			return 0, dtnerr.NewParseError("sdnv", serr)
		}
		if status == sdnv.Done {
			return d.Value(), nil
		}
	}
}

// Parse runs the state machine to completion and returns the decoded bundle.
func (p *Parser) Parse() (*bundle.Bundle, error) {
	b := &bundle.Bundle{Version: bundle.Version6}
	var (
		st                                                     = stVersion
		destSchemeOff, destSSPOff                               int
		srcSchemeOff, srcSSPOff                                 int
		reportSchemeOff, reportSSPOff                           int
		custodianSchemeOff, custodianSSPOff                     int
		dict                                                    *dictionary
		primaryLen                                              uint64
		fragmented                                              bool
		pendingBlock                                             bundle.ExtensionBlock
		pendingEIDRefCount                                       uint64
		pendingEIDOffsets                                       [][2]int
		lastBlockSeen                                            bool
	)

	for {
		switch st {
		case stVersion:
			v, err := p.readByte()
			if err != nil {
				return nil, dtnerr.NewParseError("version", err)
			}
			if v != wireVersion {
				return nil, dtnerr.NewParseError("version", errUnexpectedVersion(v))
			}
			st = stProcFlags

		case stProcFlags:
			flags, err := p.readSDNV(64)
			if err != nil {
				return nil, dtnerr.NewParseError("proc_flags", err)
			}
			b.Flags = flagsFromWire(flags)
			b.Priority = priorityFromWire(flags)
			fragmented = b.Flags.Has(bundle.IsFragment)
			st = stBlockLength

		case stBlockLength:
			l, err := p.readSDNV(64)
			if err != nil {
				return nil, dtnerr.NewParseError("block_length", err)
			}
			primaryLen = l
			st = stDestSchemeOff

		case stDestSchemeOff:
			v, err := p.readSDNV(32)
			if err != nil {
				return nil, dtnerr.NewParseError("dest_scheme_off", err)
			}
			destSchemeOff = int(v)
			st = stDestSSPOff
		case stDestSSPOff:
			v, err := p.readSDNV(32)
			if err != nil {
				return nil, dtnerr.NewParseError("dest_ssp_off", err)
			}
			destSSPOff = int(v)
			st = stSrcSchemeOff
		case stSrcSchemeOff:
			v, err := p.readSDNV(32)
			if err != nil {
				return nil, dtnerr.NewParseError("src_scheme_off", err)
			}
			srcSchemeOff = int(v)
			st = stSrcSSPOff
		case stSrcSSPOff:
			v, err := p.readSDNV(32)
			if err != nil {
				return nil, dtnerr.NewParseError("src_ssp_off", err)
			}
			srcSSPOff = int(v)
			st = stReportSchemeOff
		case stReportSchemeOff:
			v, err := p.readSDNV(32)
			if err != nil {
				return nil, dtnerr.NewParseError("report_scheme_off", err)
			}
			reportSchemeOff = int(v)
			st = stReportSSPOff
		case stReportSSPOff:
			v, err := p.readSDNV(32)
			if err != nil {
				return nil, dtnerr.NewParseError("report_ssp_off", err)
			}
			reportSSPOff = int(v)
			st = stCustodianSchemeOff
		case stCustodianSchemeOff:
			v, err := p.readSDNV(32)
			if err != nil {
				return nil, dtnerr.NewParseError("custodian_scheme_off", err)
			}
			custodianSchemeOff = int(v)
			st = stCustodianSSPOff
		case stCustodianSSPOff:
			v, err := p.readSDNV(32)
			if err != nil {
				return nil, dtnerr.NewParseError("custodian_ssp_off", err)
			}
			custodianSSPOff = int(v)
			st = stCreationTS

		case stCreationTS:
			v, err := p.readSDNV(64)
			if err != nil {
				return nil, dtnerr.NewParseError("creation_ts", err)
			}
			b.CreationTimestamp = v
			st = stSequenceNum
		case stSequenceNum:
			v, err := p.readSDNV(64)
			if err != nil {
				return nil, dtnerr.NewParseError("sequence_num", err)
			}
			b.SequenceNumber = v
			st = stLifetime
		case stLifetime:
			v, err := p.readSDNV(64)
			if err != nil {
				return nil, dtnerr.NewParseError("lifetime", err)
			}
			b.LifetimeSeconds = v / 1_000_000 // BP6 lifetime is microseconds (spec §3)
			st = stDictLength
		case stDictLength:
			v, err := p.readSDNV(64)
			if err != nil {
				return nil, dtnerr.NewParseError("dict_length", err)
			}
			dictLen := int(v)
			raw, err := p.readN(dictLen)
			if err != nil {
				return nil, dtnerr.NewParseError("dict_bytes", err)
			}
			dict = parseDictionary(raw)

			var err2 error
			if b.Dest, err2 = dict.resolveEID(destSchemeOff, destSSPOff); err2 != nil {
				return nil, dtnerr.NewParseError("dictionary", err2)
			}
			if b.Source, err2 = dict.resolveEID(srcSchemeOff, srcSSPOff); err2 != nil {
				return nil, dtnerr.NewParseError("dictionary", err2)
			}
			if b.ReportTo, err2 = dict.resolveEID(reportSchemeOff, reportSSPOff); err2 != nil {
				return nil, dtnerr.NewParseError("dictionary", err2)
			}
			if b.Custodian, err2 = dict.resolveEID(custodianSchemeOff, custodianSSPOff); err2 != nil {
				return nil, dtnerr.NewParseError("dictionary", err2)
			}
			if fragmented {
				st = stFragmentOffset
			} else {
				st = stBlockType
			}

		case stFragmentOffset:
			v, err := p.readSDNV(64)
			if err != nil {
				return nil, dtnerr.NewParseError("fragment_offset", err)
			}
			b.FragmentOffset = v
			st = stTotalADULength
		case stTotalADULength:
			v, err := p.readSDNV(64)
			if err != nil {
				return nil, dtnerr.NewParseError("total_adu_length", err)
			}
			b.TotalADULength = v
			st = stBlockType

		case stBlockType:
			if lastBlockSeen {
				st = stDone
				continue
			}
			typ, err := p.readSDNV(64)
			if err == io.EOF {
				if !lastBlockSeen {
					return nil, dtnerr.NewParseError("block_type", errMissingLastBlock())
				}
				st = stDone
				continue
			}
			if err != nil {
				return nil, dtnerr.NewParseError("block_type", err)
			}
			pendingBlock = bundle.ExtensionBlock{Type: bundle.BlockType(typ)}
			st = stBlockFlags

		case stBlockFlags:
			flags, err := p.readSDNV(64)
			if err != nil {
				return nil, dtnerr.NewParseError("block_flags", err)
			}
			pendingBlock.Flags = blockFlagsFromWire(flags)
			if pendingBlock.Flags.Has(bundle.BlockLastBlockBP6) {
				lastBlockSeen = true
			}
			if hasEIDRefField(flags) {
				st = stEIDRefCount
			} else {
				st = stBlockLen
			}

		case stEIDRefCount:
			v, err := p.readSDNV(32)
			if err != nil {
				return nil, dtnerr.NewParseError("eid_ref_count", err)
			}
			pendingEIDRefCount = v
			pendingEIDOffsets = nil
			if pendingEIDRefCount == 0 {
				st = stBlockLen
			} else {
				st = stEIDRefs
			}

		case stEIDRefs:
			schemeOff, err := p.readSDNV(32)
			if err != nil {
				return nil, dtnerr.NewParseError("eid_ref", err)
			}
			sspOff, err := p.readSDNV(32)
			if err != nil {
				return nil, dtnerr.NewParseError("eid_ref", err)
			}
			pendingEIDOffsets = append(pendingEIDOffsets, [2]int{int(schemeOff), int(sspOff)})
			if uint64(len(pendingEIDOffsets)) >= pendingEIDRefCount {
				for _, off := range pendingEIDOffsets {
					e, rerr := dict.resolveEID(off[0], off[1])
					if rerr != nil {
						return nil, dtnerr.NewParseError("eid_ref", rerr)
					}
					pendingBlock.EIDRefs = append(pendingBlock.EIDRefs, e)
				}
				st = stBlockLen
			}

		case stBlockLen:
			l, err := p.readSDNV(64)
			if err != nil {
				return nil, dtnerr.NewParseError("block_length", err)
			}
			st = stBlockData
			pendingBlockLen := int(l)
			data, derr := p.readN(pendingBlockLen)
			if derr != nil {
				return nil, dtnerr.NewParseError("block_data", derr)
			}
			pendingBlock.Data = data
			pendingBlock.BlockNumber = b.NextBlockNumber()
			b.Blocks = append(b.Blocks, pendingBlock)
			pendingBlock = bundle.ExtensionBlock{}
			st = stBlockType

		case stBlockData:
			// unreachable: folded into stBlockLen above for single-pass bulk read
			st = stBlockType

		case stDone:
			_ = primaryLen
			return b, nil

		case stError:
			return nil, dtnerr.NewParseError("bpv6", errParserError())
		}
	}
}
