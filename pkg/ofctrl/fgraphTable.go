package ofctrl

// This file implements the forwarding graph API for the table

import (
	"sync"

	"github.com/contiv/libOpenflow/openflow13"

	log "github.com/sirupsen/logrus"
)

// A flow table on a switch. Flows are cached by match so that
// re-adding an identical flow refreshes the existing entry.
type Table struct {
	Switch  MsgSender // Where flow mods are sent
	TableId uint8     // Openflow table id

	mutex  sync.Mutex
	flowDb map[string]*Flow
}

// Create a table bound to a message sender
func NewTable(sender MsgSender, tableId uint8) *Table {
	table := new(Table)
	table.Switch = sender
	table.TableId = tableId
	table.flowDb = make(map[string]*Flow)

	return table
}

// Fgraph element type for the table
func (self *Table) Type() string {
	return "table"
}

// instruction set for table element
func (self *Table) GetFlowInstr() openflow13.Instruction {
	return openflow13.NewInstrGotoTable(self.TableId)
}

// Create a new flow on the table, or return the cached flow with
// the same match
func (self *Table) NewFlow(match FlowMatch) (*Flow, error) {
	key := match.key()

	self.mutex.Lock()
	defer self.mutex.Unlock()

	if flow, ok := self.flowDb[key]; ok {
		return flow, nil
	}

	flow := new(Flow)
	flow.Table = self
	flow.Match = match
	flow.flowId = nextFlowId()

	self.flowDb[key] = flow

	return flow, nil
}

// Number of flows cached on the table
func (self *Table) NumFlows() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	return len(self.flowDb)
}

// Forget a flow the switch reported as removed
func (self *Table) removeFlowByCookie(cookie uint64) bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	for key, flow := range self.flowDb {
		if flow.flowId == cookie {
			delete(self.flowDb, key)
			return true
		}
	}

	return false
}

// Forget all flows
func (self *Table) reset() {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	self.flowDb = make(map[string]*Flow)
}

// Initialize the fgraph elements on the switch
func (self *OFSwitch) initFgraph() {
	self.tableMutex.Lock()
	defer self.tableMutex.Unlock()

	// Create the table DB with table 0
	self.tableDb = make(map[uint8]*Table)
	self.tableDb[0] = NewTable(self, 0)
}

// Return table 0 which is the starting table for all packets
func (self *OFSwitch) DefaultTable() *Table {
	self.tableMutex.RLock()
	defer self.tableMutex.RUnlock()

	return self.tableDb[0]
}

// Handle a flow removed notification
func (self *OFSwitch) flowRemoved(tableId uint8, cookie uint64) {
	self.tableMutex.RLock()
	table := self.tableDb[tableId]
	self.tableMutex.RUnlock()

	if table != nil && table.removeFlowByCookie(cookie) {
		log.Debugf("Flow %d removed from table %d on switch %s", cookie, tableId, DpidString(self.dpid))
	}
}

// Drop all cached flows. The switch forgets them on disconnect too.
func (self *OFSwitch) resetFgraph() {
	self.tableMutex.RLock()
	defer self.tableMutex.RUnlock()

	for _, table := range self.tableDb {
		table.reset()
	}
}
