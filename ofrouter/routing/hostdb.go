package routing

import (
	"net"
	"sort"
	"sync"

	"github.com/EvgenyEmets/Routing/pkg/packet"

	log "github.com/sirupsen/logrus"
)

// Where hosts are attached. Writers are serialized against each other and
// against readers; readers share the lock.
type HostLocator interface {
	// Learn that mac sits behind port on switch dpid. Returns false,
	// without touching the table, for the broadcast address.
	Record(dpid uint64, mac net.HardwareAddr, port uint32) bool

	// Port mac was last seen on. Never creates entries.
	Lookup(dpid uint64, mac net.HardwareAddr) (uint32, bool)
}

type macKey [6]byte

func toMacKey(mac net.HardwareAddr) (macKey, bool) {
	var key macKey
	if len(mac) != len(key) {
		return key, false
	}
	copy(key[:], mac)
	return key, true
}

// Learning table: dpid -> mac -> port
type HostsDb struct {
	mutex     sync.RWMutex
	seenPorts map[uint64]map[macKey]uint32
}

// Create an empty learning table
func NewHostsDb() *HostsDb {
	return &HostsDb{seenPorts: make(map[uint64]map[macKey]uint32)}
}

func (self *HostsDb) Record(dpid uint64, mac net.HardwareAddr, port uint32) bool {
	if packet.IsBroadcast(mac) {
		log.Warnf("Broadcast source address on switch %016x port %d, dropping", dpid, port)
		return false
	}

	key, ok := toMacKey(mac)
	if !ok {
		log.Warnf("Invalid source address %v on switch %016x, dropping", mac, dpid)
		return false
	}

	self.mutex.Lock()
	defer self.mutex.Unlock()

	macs, ok := self.seenPorts[dpid]
	if !ok {
		macs = make(map[macKey]uint32)
		self.seenPorts[dpid] = macs
	}

	if old, found := macs[key]; found && old != port {
		log.Infof("Host %v moved from port %d to %d on switch %016x", mac, old, port, dpid)
	}
	macs[key] = port

	return true
}

func (self *HostsDb) Lookup(dpid uint64, mac net.HardwareAddr) (uint32, bool) {
	key, ok := toMacKey(mac)
	if !ok {
		return 0, false
	}

	self.mutex.RLock()
	defer self.mutex.RUnlock()

	// Indexing a missing inner map reads from nil without allocating
	port, found := self.seenPorts[dpid][key]
	return port, found
}

// A learned attachment point
type HostEntry struct {
	Mac  string `json:"mac"`
	Port uint32 `json:"port"`
}

// Snapshot of what was learned on a switch, ordered by mac
func (self *HostsDb) Hosts(dpid uint64) []HostEntry {
	self.mutex.RLock()
	defer self.mutex.RUnlock()

	macs := self.seenPorts[dpid]
	entries := make([]HostEntry, 0, len(macs))
	for key, port := range macs {
		entries = append(entries, HostEntry{
			Mac:  net.HardwareAddr(key[:]).String(),
			Port: port,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Mac < entries[j].Mac })

	return entries
}

// Number of switches with learned hosts
func (self *HostsDb) NumSwitches() int {
	self.mutex.RLock()
	defer self.mutex.RUnlock()

	return len(self.seenPorts)
}
