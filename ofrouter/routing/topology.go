package routing

// Topology hooks. These keep port bookkeeping in step with link and host
// events and never consume the event.

import (
	"github.com/EvgenyEmets/Routing/pkg/ofctrl"

	log "github.com/sirupsen/logrus"
)

func (self *Routing) onLinkUp(ev PortEvent) bool {
	table := self.ports.Get(ev.Dpid)
	if table == nil {
		log.Debugf("Link up on unknown switch %s", ofctrl.DpidString(ev.Dpid))
		return false
	}

	log.Infof("Port %d up on switch %s", ev.PortNo, ofctrl.DpidString(ev.Dpid))
	table.AddPort(ev.PortNo)

	return false
}

func (self *Routing) onLinkDown(ev PortEvent) bool {
	table := self.ports.Get(ev.Dpid)
	if table == nil {
		return false
	}

	log.Infof("Port %d down on switch %s", ev.PortNo, ofctrl.DpidString(ev.Dpid))
	table.DelPort(ev.PortNo)

	return false
}

// Both ends of the link lead to the other switch
func (self *Routing) onLinkDiscovered(ev LinkEvent) bool {
	log.Infof("Link discovered %s:%d <-> %s:%d",
		ofctrl.DpidString(ev.From.Dpid), ev.From.PortNo, ofctrl.DpidString(ev.To.Dpid), ev.To.PortNo)

	if table := self.ports.Get(ev.From.Dpid); table != nil {
		table.AddSwitch(ev.To.Dpid, ev.From.PortNo)
	}
	if table := self.ports.Get(ev.To.Dpid); table != nil {
		table.AddSwitch(ev.From.Dpid, ev.To.PortNo)
	}

	return false
}

// Seed the learning table from an external discovery
func (self *Routing) onHostDiscovered(ev HostEvent) bool {
	if !self.hosts.Record(ev.Dpid, ev.Mac, ev.PortNo) {
		return false
	}

	log.Infof("Host %v discovered on switch %s port %d", ev.Mac, ofctrl.DpidString(ev.Dpid), ev.PortNo)

	if ev.IP == nil || !self.arp.Learn(ev.IP, ev.Mac) {
		return false
	}

	if table := self.ports.Get(ev.Dpid); table != nil {
		if addr, ok := toIPv4(ev.IP); ok {
			table.AddHost(addr, ev.PortNo)
		}
	}

	return false
}
