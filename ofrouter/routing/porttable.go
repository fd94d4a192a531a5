package routing

import (
	"net/netip"
	"sort"
	"sync"

	"github.com/EvgenyEmets/Routing/pkg/ofctrl"
)

// What a local port leads to
type PortOwner int

const (
	OwnerNone   PortOwner = iota // Port is up but nothing is known behind it
	OwnerHost                    // Port leads to an end host
	OwnerSwitch                  // Port leads to a neighboring switch
)

func (o PortOwner) String() string {
	switch o {
	case OwnerHost:
		return "host"
	case OwnerSwitch:
		return "switch"
	default:
		return "none"
	}
}

// Per switch port bookkeeping. A port maps to at most one of
// {host, neighbor switch}. Presence is map membership, so dpid 0 and
// 0.0.0.0 are ordinary values.
type PortTable struct {
	mutex        sync.RWMutex
	ports        map[uint32]struct{} // ports seen up
	hostByPort   map[uint32]netip.Addr
	portByHost   map[netip.Addr]uint32
	switchByPort map[uint32]uint64
	portBySwitch map[uint64]uint32
}

func NewPortTable() *PortTable {
	return &PortTable{
		ports:        make(map[uint32]struct{}),
		hostByPort:   make(map[uint32]netip.Addr),
		portByHost:   make(map[netip.Addr]uint32),
		switchByPort: make(map[uint32]uint64),
		portBySwitch: make(map[uint64]uint32),
	}
}

// Drop whatever occupies port. Caller holds the lock.
func (self *PortTable) clearPort(port uint32) {
	if host, ok := self.hostByPort[port]; ok {
		delete(self.hostByPort, port)
		delete(self.portByHost, host)
	}
	if dpid, ok := self.switchByPort[port]; ok {
		delete(self.switchByPort, port)
		delete(self.portBySwitch, dpid)
	}
}

// Record that port leads to host ip. Overwrites any previous owner of the
// port and any previous port of the host.
func (self *PortTable) AddHost(ip netip.Addr, port uint32) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	self.clearPort(port)
	if old, ok := self.portByHost[ip]; ok {
		delete(self.hostByPort, old)
	}

	self.ports[port] = struct{}{}
	self.hostByPort[port] = ip
	self.portByHost[ip] = port
}

// Record that port leads to switch dpid
func (self *PortTable) AddSwitch(dpid uint64, port uint32) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	self.clearPort(port)
	if old, ok := self.portBySwitch[dpid]; ok {
		delete(self.switchByPort, old)
	}

	self.ports[port] = struct{}{}
	self.switchByPort[port] = dpid
	self.portBySwitch[dpid] = port
}

// Record that port is up. Keeps an existing mapping.
func (self *PortTable) AddPort(port uint32) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	self.ports[port] = struct{}{}
}

// Forget port and whatever it mapped to. No-op for unknown ports.
func (self *PortTable) DelPort(port uint32) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	self.clearPort(port)
	delete(self.ports, port)
}

// What port leads to
func (self *PortTable) Owner(port uint32) PortOwner {
	self.mutex.RLock()
	defer self.mutex.RUnlock()

	if _, ok := self.hostByPort[port]; ok {
		return OwnerHost
	}
	if _, ok := self.switchByPort[port]; ok {
		return OwnerSwitch
	}
	return OwnerNone
}

func (self *PortTable) HostAt(port uint32) (netip.Addr, bool) {
	self.mutex.RLock()
	defer self.mutex.RUnlock()

	ip, ok := self.hostByPort[port]
	return ip, ok
}

func (self *PortTable) PortOfHost(ip netip.Addr) (uint32, bool) {
	self.mutex.RLock()
	defer self.mutex.RUnlock()

	port, ok := self.portByHost[ip]
	return port, ok
}

func (self *PortTable) SwitchAt(port uint32) (uint64, bool) {
	self.mutex.RLock()
	defer self.mutex.RUnlock()

	dpid, ok := self.switchByPort[port]
	return dpid, ok
}

func (self *PortTable) PortOfSwitch(dpid uint64) (uint32, bool) {
	self.mutex.RLock()
	defer self.mutex.RUnlock()

	port, ok := self.portBySwitch[dpid]
	return port, ok
}

// One port as reported by the status API
type PortInfo struct {
	Port   uint32 `json:"port"`
	Owner  string `json:"owner"`
	Host   string `json:"host,omitempty"`
	Switch string `json:"switch,omitempty"`
}

// Snapshot of every known port ordered by port number
func (self *PortTable) Ports() []PortInfo {
	self.mutex.RLock()
	defer self.mutex.RUnlock()

	infos := make([]PortInfo, 0, len(self.ports))
	for port := range self.ports {
		info := PortInfo{Port: port, Owner: OwnerNone.String()}
		if ip, ok := self.hostByPort[port]; ok {
			info.Owner = OwnerHost.String()
			info.Host = ip.String()
		} else if dpid, ok := self.switchByPort[port]; ok {
			info.Owner = OwnerSwitch.String()
			info.Switch = ofctrl.DpidString(dpid)
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Port < infos[j].Port })

	return infos
}

// Port tables of all attached switches
type PortTables struct {
	mutex  sync.RWMutex
	tables map[uint64]*PortTable
}

func NewPortTables() *PortTables {
	return &PortTables{tables: make(map[uint64]*PortTable)}
}

// Create a fresh table for dpid, replacing any old one
func (self *PortTables) Create(dpid uint64) *PortTable {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	table := NewPortTable()
	self.tables[dpid] = table
	return table
}

// Table of dpid, nil when the switch is not attached
func (self *PortTables) Get(dpid uint64) *PortTable {
	self.mutex.RLock()
	defer self.mutex.RUnlock()

	return self.tables[dpid]
}

func (self *PortTables) Remove(dpid uint64) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	delete(self.tables, dpid)
}

// Attached switches in ascending order
func (self *PortTables) Dpids() []uint64 {
	self.mutex.RLock()
	defer self.mutex.RUnlock()

	dpids := make([]uint64, 0, len(self.tables))
	for dpid := range self.tables {
		dpids = append(dpids, dpid)
	}
	sort.Slice(dpids, func(i, j int) bool { return dpids[i] < dpids[j] })

	return dpids
}
