package routing

import (
	"github.com/EvgenyEmets/Routing/pkg/ofctrl"
	"github.com/EvgenyEmets/Routing/pkg/packet"
	"github.com/contiv/libOpenflow/util"

	log "github.com/sirupsen/logrus"
)

// Send the packet to its learned port and install a mac flow so the rest
// of the flow stays on the switch
func (self *Routing) sendUnicast(sw Datapath, pkt *packet.Packet, port uint32) {
	dpid := ofctrl.DpidString(sw.DPID())

	// The destination sits behind the ingress port. The switch would drop
	// both the packet-out and the flow's output.
	if port == pkt.InPort {
		log.Debugf("Dropping %v -> %v, destination is on ingress port %d of switch %s",
			pkt.EthSrc, pkt.EthDst, port, dpid)
		return
	}

	outPort := ofctrl.NewOutputPort(port)

	// Packet out
	sw.Send(outPort.PacketOut(pkt.InPort, util.NewBuffer(pkt.Frame)))

	// Install the flow
	macFlow, err := sw.DefaultTable().NewFlow(ofctrl.FlowMatch{
		Priority: self.cfg.LearnedFlowPriority,
		MacSa:    &pkt.EthSrc,
		MacDa:    &pkt.EthDst,
	})
	if err != nil {
		log.Errorf("Error creating flow %v -> %v on switch %s. Err: %v", pkt.EthSrc, pkt.EthDst, dpid, err)
		return
	}

	if err := macFlow.SetTimeouts(self.cfg.IdleTimeout, self.cfg.HardTimeout); err != nil {
		log.Errorf("Error setting timeouts on switch %s. Err: %v", dpid, err)
	}

	log.Infof("Installing flow for %v -> %v out port %d on switch %s", pkt.EthSrc, pkt.EthDst, port, dpid)

	if err := macFlow.Next(outPort); err != nil {
		log.Errorf("Error installing flow %v -> %v on switch %s. Err: %v", pkt.EthSrc, pkt.EthDst, dpid, err)
	}
}

// Flood the packet. The ingress port stays on the packet-out so the
// switch does not send it back where it came from.
func (self *Routing) sendBroadcast(sw Datapath, pkt *packet.Packet) {
	log.Debugf("Flooding %v -> %v from port %d on switch %s",
		pkt.EthSrc, pkt.EthDst, pkt.InPort, ofctrl.DpidString(sw.DPID()))

	sw.Send(ofctrl.AllPorts().PacketOut(pkt.InPort, util.NewBuffer(pkt.Frame)))
}
