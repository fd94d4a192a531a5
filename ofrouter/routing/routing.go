package routing

// This package implements the reactive forwarding application. It learns
// where hosts are attached from first packets, forwards to known
// destinations while installing mac flows, and floods otherwise.

import (
	"errors"
	"fmt"

	"github.com/EvgenyEmets/Routing/pkg/eventbus"
	"github.com/EvgenyEmets/Routing/pkg/ofctrl"
	"github.com/EvgenyEmets/Routing/pkg/packet"

	log "github.com/sirupsen/logrus"
)

// Position of the packet-in handler among other handlers. Runs late.
const PacketInPriority = -5

// Name the routing app subscribes under
const AppName = "routing"

// Flow programming policy
type Config struct {
	IdleTimeout         uint16 `yaml:"idleTimeout"`         // Learned flow idle timeout, seconds
	HardTimeout         uint16 `yaml:"hardTimeout"`         // Learned flow hard timeout, seconds
	LearnedFlowPriority uint16 `yaml:"learnedFlowPriority"` // Priority of learned mac flows
	ArpPriority         uint16 `yaml:"arpPriority"`         // ARP to controller
	Ipv4Priority        uint16 `yaml:"ipv4Priority"`        // IPv4 to controller
}

func DefaultConfig() Config {
	return Config{
		IdleTimeout:         60,
		HardTimeout:         1800,
		LearnedFlowPriority: 10,
		ArpPriority:         2,
		Ipv4Priority:        1,
	}
}

// Learned flows must win over the to-controller flows or traffic keeps
// coming to the controller
func (c Config) Validate() error {
	if c.LearnedFlowPriority <= c.ArpPriority || c.LearnedFlowPriority <= c.Ipv4Priority {
		return fmt.Errorf("learned flow priority %d must be above bootstrap priorities %d and %d",
			c.LearnedFlowPriority, c.ArpPriority, c.Ipv4Priority)
	}
	if c.HardTimeout != 0 && c.IdleTimeout > c.HardTimeout {
		return errors.New("idle timeout exceeds hard timeout")
	}
	return nil
}

// Routing application state
type Routing struct {
	cfg   Config
	hosts *HostsDb
	arp   *ArpTable
	ports *PortTables
}

// Create the routing app
func NewRouting(cfg Config) (*Routing, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Routing{
		cfg:   cfg,
		hosts: NewHostsDb(),
		arp:   NewArpTable(),
		ports: NewPortTables(),
	}, nil
}

// Subscribe to the events the app reacts to
func (self *Routing) Init(bus *eventbus.Bus) {
	eventbus.On(bus, eventbus.SwitchUp, AppName, 0, self.onSwitchUp)
	eventbus.On(bus, eventbus.SwitchDown, AppName, 0, self.onSwitchDown)
	eventbus.On(bus, eventbus.PacketIn, AppName, PacketInPriority, self.onPacketIn)
	eventbus.On(bus, eventbus.LinkUp, AppName, 0, self.onLinkUp)
	eventbus.On(bus, eventbus.LinkDown, AppName, 0, self.onLinkDown)
	eventbus.On(bus, eventbus.LinkDiscovered, AppName, 0, self.onLinkDiscovered)
	eventbus.On(bus, eventbus.HostDiscovered, AppName, 0, self.onHostDiscovered)
}

func (self *Routing) Hosts() *HostsDb {
	return self.hosts
}

func (self *Routing) Arp() *ArpTable {
	return self.arp
}

func (self *Routing) Ports() *PortTables {
	return self.ports
}

// Install the to-controller flows and start port bookkeeping. Other
// subscribers still see the event.
func (self *Routing) onSwitchUp(ev SwitchEvent) bool {
	sw := ev.Switch
	dpid := sw.DPID()

	log.Infof("Bootstrapping switch %s", ofctrl.DpidString(dpid))

	self.ports.Create(dpid)

	table := sw.DefaultTable()

	// Redirect ARP packets to controller
	arpFlow, err := table.NewFlow(ofctrl.FlowMatch{
		Priority:  self.cfg.ArpPriority,
		Ethertype: packet.EthTypeARP,
	})
	if err == nil {
		err = arpFlow.Next(ofctrl.SendToController())
	}
	if err != nil {
		log.Errorf("Error installing ARP flow on switch %s. Err: %v", ofctrl.DpidString(dpid), err)
	}

	// Redirect IPv4 packets to controller
	ipFlow, err := table.NewFlow(ofctrl.FlowMatch{
		Priority:  self.cfg.Ipv4Priority,
		Ethertype: packet.EthTypeIPv4,
	})
	if err == nil {
		err = ipFlow.Next(ofctrl.SendToController())
	}
	if err != nil {
		log.Errorf("Error installing IPv4 flow on switch %s. Err: %v", ofctrl.DpidString(dpid), err)
	}

	return false
}

// Drop per switch port state. Learned hosts are kept.
func (self *Routing) onSwitchDown(ev SwitchEvent) bool {
	self.ports.Remove(ev.Switch.DPID())
	return false
}

// Forwarding decision for a first packet
func (self *Routing) onPacketIn(ev PacketInEvent) bool {
	sw := ev.Switch
	dpid := sw.DPID()

	pkt, err := packet.Classify(ev.Data, ev.InPort)
	if err != nil {
		log.Warnf("Dropping packet from switch %s. Err: %v", ofctrl.DpidString(dpid), err)
		return false
	}

	log.Debugf("Packet in on %s port %d: %v -> %v type 0x%04x",
		ofctrl.DpidString(dpid), pkt.InPort, pkt.EthSrc, pkt.EthDst, pkt.EthType)

	if !self.hosts.Record(dpid, pkt.EthSrc, pkt.InPort) {
		return false
	}

	self.learnAddress(dpid, pkt)

	if port, ok := self.hosts.Lookup(dpid, pkt.EthDst); ok {
		self.sendUnicast(sw, pkt, port)
	} else {
		self.sendBroadcast(sw, pkt)
	}

	return true
}

// Remember the sender's IPv4 address. Only edge ports get a host mapping.
func (self *Routing) learnAddress(dpid uint64, pkt *packet.Packet) {
	ip := pkt.SenderIP()
	if ip == nil || !self.arp.Learn(ip, pkt.EthSrc) {
		return
	}

	table := self.ports.Get(dpid)
	if table == nil || table.Owner(pkt.InPort) == OwnerSwitch {
		return
	}

	if addr, ok := toIPv4(ip); ok {
		table.AddHost(addr, pkt.InPort)
	}
}
