package routing

// Event payloads and the adapter that turns controller callbacks into events

import (
	"net"

	"github.com/EvgenyEmets/Routing/pkg/eventbus"
	"github.com/EvgenyEmets/Routing/pkg/ofctrl"
	"github.com/contiv/libOpenflow/openflow13"
	"github.com/contiv/libOpenflow/util"

	log "github.com/sirupsen/logrus"
)

// Handle on a connected switch. *ofctrl.OFSwitch implements it.
type Datapath interface {
	DPID() uint64
	Send(msg util.Message) error
	DefaultTable() *ofctrl.Table
}

// Switch attached or detached
type SwitchEvent struct {
	Switch Datapath
}

// A first packet
type PacketInEvent struct {
	Switch Datapath
	InPort uint32
	Data   []byte // Raw ethernet frame
}

// A port of a switch came up or went down
type PortEvent struct {
	Dpid   uint64
	PortNo uint32
}

type SwitchPort struct {
	Dpid   uint64 `json:"dpid"`
	PortNo uint32 `json:"port"`
}

// Confirmed switch to switch adjacency
type LinkEvent struct {
	From SwitchPort
	To   SwitchPort
}

// Host seen by a discovery mechanism
type HostEvent struct {
	Dpid   uint64
	PortNo uint32
	Mac    net.HardwareAddr
	IP     net.IP // nil when unknown
}

// Publishes controller callbacks on the event bus
type Publisher struct {
	bus *eventbus.Bus
}

func NewPublisher(bus *eventbus.Bus) *Publisher {
	return &Publisher{bus: bus}
}

func (self *Publisher) SwitchConnected(sw *ofctrl.OFSwitch) {
	log.Infof("Switch %s connected from %v", ofctrl.DpidString(sw.DPID()), sw.RemoteAddr())
	self.bus.Publish(eventbus.SwitchUp, SwitchEvent{Switch: sw})
}

func (self *Publisher) SwitchDisconnected(sw *ofctrl.OFSwitch) {
	log.Infof("Switch %s disconnected", ofctrl.DpidString(sw.DPID()))
	self.bus.Publish(eventbus.SwitchDown, SwitchEvent{Switch: sw})
}

func (self *Publisher) PacketRcvd(sw *ofctrl.OFSwitch, pkt *ofctrl.PacketIn) {
	self.packetIn(sw, pkt)
}

func (self *Publisher) PortStatusRcvd(sw *ofctrl.OFSwitch, status *openflow13.PortStatus) {
	self.portStatus(sw.DPID(), status)
}

// The frame goes to the handlers exactly as the switch sent it
func (self *Publisher) packetIn(sw Datapath, pkt *ofctrl.PacketIn) bool {
	inPort, ok := ofctrl.PacketInPort(pkt)
	if !ok {
		log.Warnf("Packet-in without in_port from switch %s", ofctrl.DpidString(sw.DPID()))
		return false
	}

	handled := self.bus.Publish(eventbus.PacketIn, PacketInEvent{
		Switch: sw,
		InPort: inPort,
		Data:   pkt.Data,
	})
	if !handled {
		log.Debugf("Packet-in on switch %s port %d not handled", ofctrl.DpidString(sw.DPID()), inPort)
	}
	return handled
}

func (self *Publisher) portStatus(dpid uint64, status *openflow13.PortStatus) {
	event := PortEvent{Dpid: dpid, PortNo: status.Desc.PortNo}

	if linkIsUp(status) {
		self.bus.Publish(eventbus.LinkUp, event)
	} else {
		self.bus.Publish(eventbus.LinkDown, event)
	}
}

// Port added, or modified with carrier
func linkIsUp(status *openflow13.PortStatus) bool {
	switch status.Reason {
	case openflow13.PR_ADD:
		return true
	case openflow13.PR_DELETE:
		return false
	default:
		return status.Desc.State&openflow13.PS_LINK_DOWN == 0
	}
}
