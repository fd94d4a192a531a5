package ofctrl

// This file implements the forwarding graph API for the flow

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/contiv/libOpenflow/openflow13"

	log "github.com/sirupsen/logrus"
)

// Small subset of openflow fields we currently support
type FlowMatch struct {
	Priority  uint16            // Priority of the flow entry
	InputPort uint32            // Ingress port. 0 is wildcard
	MacDa     *net.HardwareAddr // Destination mac
	MacSa     *net.HardwareAddr // Source mac
	Ethertype uint16            // Ethertype. 0 is wildcard
}

// State of a flow entry
type Flow struct {
	Table       *Table     // Table where this flow resides
	Match       FlowMatch  // Fields to be matched
	NextElem    FgraphElem // Next fw graph element
	IdleTimeout uint16     // Idle timeout in seconds, 0 never expires
	HardTimeout uint16     // Hard timeout in seconds, 0 never expires

	mutex       sync.Mutex
	isInstalled bool   // Is the flow installed in the switch
	flowId      uint64 // Unique ID for the flow, used as the cookie
}

var flowIdCounter uint64

func nextFlowId() uint64 {
	return atomic.AddUint64(&flowIdCounter, 1)
}

// string key for the flow
func (self FlowMatch) key() string {
	macStr := func(mac *net.HardwareAddr) string {
		if mac == nil {
			return "*"
		}
		return mac.String()
	}

	return fmt.Sprintf("prio=%d,in_port=%d,dl_src=%s,dl_dst=%s,dl_type=0x%04x",
		self.Priority, self.InputPort, macStr(self.MacSa), macStr(self.MacDa), self.Ethertype)
}

// Fgraph element type for the flow
func (self *Flow) Type() string {
	return "flow"
}

// instruction set for flow element
func (self *Flow) GetFlowInstr() openflow13.Instruction {
	log.Errorf("Unexpected call to get flow's instruction set")
	return nil
}

// Cookie the flow is installed with
func (self *Flow) FlowId() uint64 {
	return self.flowId
}

// Is the flow installed
func (self *Flow) IsInstalled() bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	return self.isInstalled
}

// Translate our match fields into openflow 1.3 match fields
func (self *Flow) xlateMatch() openflow13.Match {
	ofMatch := openflow13.NewMatch()

	if self.Match.InputPort != 0 {
		inportField := openflow13.NewInPortField(self.Match.InputPort)
		ofMatch.AddField(*inportField)
	}

	if self.Match.MacDa != nil {
		macDaField := openflow13.NewEthDstField(*self.Match.MacDa, nil)
		ofMatch.AddField(*macDaField)
	}

	if self.Match.MacSa != nil {
		macSaField := openflow13.NewEthSrcField(*self.Match.MacSa, nil)
		ofMatch.AddField(*macSaField)
	}

	if self.Match.Ethertype != 0 {
		etypeField := openflow13.NewEthTypeField(self.Match.Ethertype)
		ofMatch.AddField(*etypeField)
	}

	return *ofMatch
}

// Build the flow mod for this flow
func (self *Flow) flowMod() (*openflow13.FlowMod, error) {
	if self.NextElem == nil {
		return nil, errors.New("flow has no next element")
	}

	flowMod := openflow13.NewFlowMod()
	flowMod.TableId = self.Table.TableId
	flowMod.Priority = self.Match.Priority
	flowMod.Cookie = self.flowId

	// An add on an identical match replaces the entry and
	// restarts its timeouts on the switch
	flowMod.Command = openflow13.FC_ADD

	flowMod.IdleTimeout = self.IdleTimeout
	flowMod.HardTimeout = self.HardTimeout
	if self.IdleTimeout != 0 || self.HardTimeout != 0 {
		// Get told when it expires so the cache stays in sync
		flowMod.Flags |= openflow13.FF_SEND_FLOW_REM
	}

	// convert match fields to openflow 1.3 format
	flowMod.Match = self.xlateMatch()

	// Based on the next elem, decide what to install
	switch self.NextElem.Type() {
	case "table", "output":
		// a nil instruction means drop action
		if instr := self.NextElem.GetFlowInstr(); instr != nil {
			flowMod.AddInstruction(instr)
		}
	default:
		return nil, fmt.Errorf("unknown fgraph element type %s", self.NextElem.Type())
	}

	return flowMod, nil
}

// Install a flow entry
func (self *Flow) install() error {
	flowMod, err := self.flowMod()
	if err != nil {
		return err
	}

	log.Debugf("Sending flowmod: %+v", flowMod)

	// Send the message
	if err := self.Table.Switch.Send(flowMod); err != nil {
		return err
	}

	// Mark it as installed
	self.isInstalled = true

	return nil
}

// Set Next element in the Fgraph. This determines what actions will be
// part of the flow's instruction set
func (self *Flow) Next(elem FgraphElem) error {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	// Set the next element in the graph
	self.NextElem = elem

	// Install the flow entry
	return self.install()
}

// Set idle and hard timeouts. Reinstalls the flow if it was installed
// and the timeouts changed.
func (self *Flow) SetTimeouts(idle, hard uint16) error {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if self.IdleTimeout == idle && self.HardTimeout == hard {
		return nil
	}

	self.IdleTimeout = idle
	self.HardTimeout = hard

	// If the flow entry was already installed, re-install it
	if self.isInstalled {
		return self.install()
	}

	return nil
}
