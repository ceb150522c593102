package agent

import (
	"encoding/binary"

	"github.com/dtncore/agent/bundle"
	"github.com/dtncore/agent/internal/nlog"
	"github.com/dtncore/agent/routing"
)

// Local sink names the spec reserves for node operators rather than
// external application agents (spec §6's config protocol and management
// agent, both addressed as ADUs like any other local delivery).
const (
	sinkConfig     = "config"
	sinkManagement = "management"
)

// managementCommand mirrors management_agent.c's single-byte command code.
type managementCommand byte

const mgmtCmdSetTime managementCommand = 0x01

// forwardToAgent wires proc.AgentForward to the AAP sink registry (spec
// §4.9 "agent_forward(agent_id, adu)"), intercepting the two operator sinks
// ("config", "management") before falling through to a registered AAP
// connection.
func (a *Agent) forwardToAgent(agentID string, adu *bundle.Bundle) error {
	switch agentID {
	case sinkConfig:
		return a.applyConfigCommand(adu.Payload())
	case sinkManagement:
		return a.applyManagementCommand(adu.Payload())
	}
	err := a.Registry.Forward(agentID, adu.Source.String(), adu.Payload())
	if err != nil {
		a.metrics.bundlesDropped.Inc()
		return err
	}
	a.metrics.bundlesDelivered.Inc()
	return nil
}

// applyConfigCommand parses a routing.Command (add/update/delete node, spec
// §6 "Config protocol") and applies it to the routing table.
func (a *Agent) applyConfigCommand(payload []byte) error {
	cmd, err := routing.ParseConfigCommand(payload)
	if err != nil {
		nlog.Warningf("agent: config command rejected: %v", err)
		return err
	}
	cmd.Apply(a.Table)
	a.metrics.bundlesDelivered.Inc()
	return nil
}

// applyManagementCommand implements the management agent's SET_TIME
// command (grounded on management_agent.c's callback): a command byte
// followed by an 8-byte big-endian DTN timestamp.
func (a *Agent) applyManagementCommand(payload []byte) error {
	if len(payload) < 1 {
		nlog.Warningf("agent: management command with no payload")
		return errEmptyManagementCommand{}
	}
	switch managementCommand(payload[0]) {
	case mgmtCmdSetTime:
		if len(payload) != 9 {
			nlog.Warningf("agent: malformed SET_TIME command, want 9 bytes, got %d", len(payload))
			return errMalformedSetTime{}
		}
		ts := binary.BigEndian.Uint64(payload[1:9])
		a.Contact.SetTime(ts)
		nlog.Infof("agent: local clock set to DTN timestamp %d", ts)
		return nil
	default:
		nlog.Warningf("agent: unknown management command 0x%02x", payload[0])
		return errUnknownManagementCommand{}
	}
}

type errEmptyManagementCommand struct{}

func (errEmptyManagementCommand) Error() string { return "agent: empty management command" }

type errMalformedSetTime struct{}

func (errMalformedSetTime) Error() string { return "agent: malformed SET_TIME command" }

type errUnknownManagementCommand struct{}

func (errUnknownManagementCommand) Error() string { return "agent: unknown management command" }
