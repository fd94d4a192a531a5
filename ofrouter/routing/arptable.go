package routing

import (
	"net"
	"net/netip"
	"sort"
	"sync"

	"github.com/EvgenyEmets/Routing/pkg/packet"
)

// IPv4 -> mac conformance learned from ARP senders and IPv4 sources.
// Forwarding stays mac based; this feeds host port bookkeeping and the
// status API.
type ArpTable struct {
	mutex   sync.RWMutex
	conform map[netip.Addr]net.HardwareAddr
}

func NewArpTable() *ArpTable {
	return &ArpTable{conform: make(map[netip.Addr]net.HardwareAddr)}
}

// Convert to a v4 address. An unspecified sender address is not usable.
func toIPv4(ip net.IP) (netip.Addr, bool) {
	ip4 := ip.To4()
	if ip4 == nil {
		return netip.Addr{}, false
	}

	addr, ok := netip.AddrFromSlice(ip4)
	if !ok || addr.IsUnspecified() {
		return netip.Addr{}, false
	}
	return addr, true
}

// Remember that ip belongs to mac. Last write wins.
func (self *ArpTable) Learn(ip net.IP, mac net.HardwareAddr) bool {
	addr, ok := toIPv4(ip)
	if !ok || len(mac) != 6 || packet.IsBroadcast(mac) {
		return false
	}

	self.mutex.Lock()
	defer self.mutex.Unlock()

	self.conform[addr] = append(net.HardwareAddr(nil), mac...)
	return true
}

// Mac for ip, if known
func (self *ArpTable) Lookup(ip net.IP) (net.HardwareAddr, bool) {
	addr, ok := toIPv4(ip)
	if !ok {
		return nil, false
	}

	self.mutex.RLock()
	defer self.mutex.RUnlock()

	mac, found := self.conform[addr]
	if !found {
		return nil, false
	}
	return append(net.HardwareAddr(nil), mac...), true
}

type ArpEntry struct {
	IP  string `json:"ip"`
	Mac string `json:"mac"`
}

// Snapshot ordered by address
func (self *ArpTable) Entries() []ArpEntry {
	self.mutex.RLock()
	defer self.mutex.RUnlock()

	addrs := make([]netip.Addr, 0, len(self.conform))
	for addr := range self.conform {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Less(addrs[j]) })

	entries := make([]ArpEntry, 0, len(addrs))
	for _, addr := range addrs {
		entries = append(entries, ArpEntry{IP: addr.String(), Mac: self.conform[addr].String()})
	}
	return entries
}
