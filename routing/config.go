package routing

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dtncore/agent/internal/dtnerr"
)

// CommandType is the config-sink command code (spec §6 "Config protocol").
type CommandType byte

const (
	CmdAddNode    CommandType = '1'
	CmdUpdateNode CommandType = '2'
	CmdDeleteNode CommandType = '3'
)

// ContactSpec is one `{<from>,<to>,<bitrate>,[(<extra-eid>)]}` entry.
type ContactSpec struct {
	From, To, Bitrate uint64
	Endpoints         []string
}

// Command is the parsed result of ParseConfigCommand, ready to be applied
// to a Table (spec §6: add/update/delete of nodes and their contacts,
// recovered from the original config agent's grammar since the distilled
// spec names the grammar but not its application).
type Command struct {
	Type        CommandType
	NodeEID     string
	Reliability float64
	CLAAddr     string
	Endpoints   []string
	Contacts    []ContactSpec
}

// ParseConfigCommand parses one command from the bytes delivered to the
// `config` local-EID sink. Grammar (spec §6):
//
//	<cmd><node-eid>:<reliability>:<cla-addr>):[(<extra-eid>),...]:[{<from>,<to>,<bitrate>,[(<extra-eid>)]},...];
//
// where <cmd> is one of '1'/'2'/'3' followed by a '(' opening the node
// clause. On a malformed command, returns a *dtnerr.ParseError.
func ParseConfigCommand(data []byte) (*Command, error) {
	s := &scanner{data: data}

	typByte, err := s.next()
	if err != nil {
		return nil, dtnerr.NewParseError("config_command_type", err)
	}
	cmd := &Command{Type: CommandType(typByte)}
	switch cmd.Type {
	case CmdAddNode, CmdUpdateNode, CmdDeleteNode:
	default:
		return nil, dtnerr.NewParseError("config_command_type", fmt.Errorf("unknown command byte %q", typByte))
	}

	if err := s.expect('('); err != nil {
		return nil, dtnerr.NewParseError("config_node_start", err)
	}
	clause, err := s.readUntil(')')
	if err != nil {
		return nil, dtnerr.NewParseError("config_node_clause", err)
	}
	nodeEID, reliability, claAddr, err := splitNodeClause(clause)
	if err != nil {
		return nil, dtnerr.NewParseError("config_node_clause", err)
	}
	cmd.NodeEID = nodeEID
	cmd.Reliability = reliability
	cmd.CLAAddr = claAddr

	if err := s.expect(':'); err != nil {
		return nil, dtnerr.NewParseError("config_node_cla_separator", err)
	}

	endpoints, err := s.readEIDList()
	if err != nil {
		return nil, dtnerr.NewParseError("config_node_endpoints", err)
	}
	cmd.Endpoints = endpoints

	if err := s.expect(':'); err != nil {
		return nil, dtnerr.NewParseError("config_nodes_contacts_separator", err)
	}

	contacts, err := s.readContactList()
	if err != nil {
		return nil, dtnerr.NewParseError("config_contacts", err)
	}
	cmd.Contacts = contacts

	if err := s.expect(';'); err != nil {
		return nil, dtnerr.NewParseError("config_command_end", err)
	}

	return cmd, nil
}

// splitNodeClause splits a `<node-eid>:<reliability>:<cla-addr>` clause
// into its three fields. A plain first/last-colon split doesn't work here:
// the node EID is `dtn:`/`dtn://`-schemed and the CLA address is itself a
// scheme URI (`tcp://host:port`), so both sides of the reliability field
// can contain colons of their own. Reliability is always a bare number (or
// empty), so instead this scans the ':'-separated tokens left to right for
// the first one that looks like a reliability value, requiring at least
// one token on either side of it, and joins everything before/after it
// back into the EID and CLA address.
func splitNodeClause(clause string) (nodeEID string, reliability float64, claAddr string, err error) {
	parts := strings.Split(clause, ":")
	for i, p := range parts {
		if i == 0 || i == len(parts)-1 {
			continue
		}
		var rel float64
		if p != "" {
			var perr error
			rel, perr = strconv.ParseFloat(p, 64)
			if perr != nil {
				continue
			}
		}
		return strings.Join(parts[:i], ":"), rel, strings.Join(parts[i+1:], ":"), nil
	}
	return "", 0, "", fmt.Errorf("no reliability field found in %q", clause)
}

// scanner is a minimal hand-rolled cursor over the command bytes; the
// original's state-enum table (RP_EXPECT_*) is collapsed here into a
// handful of small recursive-descent helpers, which is the idiomatic Go
// shape for a one-shot grammar with no suspension points.
type scanner struct {
	data []byte
	pos  int
}

func (s *scanner) next() (byte, error) {
	if s.pos >= len(s.data) {
		return 0, fmt.Errorf("unexpected end of input")
	}
	b := s.data[s.pos]
	s.pos++
	return b, nil
}

func (s *scanner) peek() (byte, bool) {
	if s.pos >= len(s.data) {
		return 0, false
	}
	return s.data[s.pos], true
}

func (s *scanner) expect(want byte) error {
	b, err := s.next()
	if err != nil {
		return err
	}
	if b != want {
		return fmt.Errorf("expected %q, got %q at offset %d", want, b, s.pos-1)
	}
	return nil
}

func (s *scanner) readUntil(delim byte) (string, error) {
	start := s.pos
	for s.pos < len(s.data) {
		if s.data[s.pos] == delim {
			out := string(s.data[start:s.pos])
			s.pos++
			return out, nil
		}
		s.pos++
	}
	return "", fmt.Errorf("missing delimiter %q", delim)
}

// readEIDList parses `[(<eid>),(<eid>),...]`.
func (s *scanner) readEIDList() ([]string, error) {
	if err := s.expect('['); err != nil {
		return nil, err
	}
	var out []string
	for {
		b, ok := s.peek()
		if !ok {
			return nil, fmt.Errorf("unterminated endpoint list")
		}
		if b == ']' {
			s.pos++
			return out, nil
		}
		if b == ',' {
			s.pos++
			continue
		}
		if err := s.expect('('); err != nil {
			return nil, err
		}
		eid, err := s.readUntil(')')
		if err != nil {
			return nil, err
		}
		out = append(out, eid)
	}
}

// readContactList parses `[{<from>,<to>,<bitrate>,[(<eid>),...]},...]`.
func (s *scanner) readContactList() ([]ContactSpec, error) {
	if err := s.expect('['); err != nil {
		return nil, err
	}
	var out []ContactSpec
	for {
		b, ok := s.peek()
		if !ok {
			return nil, fmt.Errorf("unterminated contact list")
		}
		if b == ']' {
			s.pos++
			return out, nil
		}
		if b == ',' {
			s.pos++
			continue
		}
		c, err := s.readContact()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
}

func (s *scanner) readContact() (ContactSpec, error) {
	var c ContactSpec
	if err := s.expect('{'); err != nil {
		return c, err
	}
	fromStr, err := s.readUntil(',')
	if err != nil {
		return c, err
	}
	from, err := strconv.ParseUint(strings.TrimSpace(fromStr), 10, 64)
	if err != nil {
		return c, err
	}
	c.From = from

	toStr, err := s.readUntil(',')
	if err != nil {
		return c, err
	}
	to, err := strconv.ParseUint(strings.TrimSpace(toStr), 10, 64)
	if err != nil {
		return c, err
	}
	c.To = to

	bitrateStr, err := s.readUntil(',')
	if err != nil {
		return c, err
	}
	bitrate, err := strconv.ParseUint(strings.TrimSpace(bitrateStr), 10, 64)
	if err != nil {
		return c, err
	}
	c.Bitrate = bitrate

	endpoints, err := s.readEIDList()
	if err != nil {
		return c, err
	}
	c.Endpoints = endpoints

	if err := s.expect('}'); err != nil {
		return c, err
	}
	return c, nil
}

// Apply dispatches cmd against t: add merges a new node, update replaces an
// existing one, delete removes it (in whole or in part).
func (c *Command) Apply(t *Table) {
	switch c.Type {
	case CmdAddNode, CmdUpdateNode:
		n := &Node{
			EID:         c.NodeEID,
			Reliability: c.Reliability,
			// The grammar carries one confidence scalar per node; Trust
			// mirrors it until a richer config format exists.
			Trust:     c.Reliability,
			CLAAddr:   c.CLAAddr,
			Endpoints: c.Endpoints,
		}
	nextContact:
		for _, cs := range c.Contacts {
			for _, prev := range n.contacts {
				if prev.overlaps(cs.From, cs.To) {
					continue nextContact // overlap rule: reject silently (spec §4.5)
				}
			}
			n.contacts = append(n.contacts, newContact(n, cs.From, cs.To, cs.Bitrate, cs.Endpoints))
		}
		if c.Type == CmdAddNode {
			t.AddNode(n)
		} else {
			t.ReplaceNode(n)
		}
	case CmdDeleteNode:
		var windows [][2]uint64
		for _, cs := range c.Contacts {
			windows = append(windows, [2]uint64{cs.From, cs.To})
		}
		t.DeleteNode(c.NodeEID, c.Endpoints, windows)
	}
}
