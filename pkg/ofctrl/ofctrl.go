package ofctrl

// This library implements a simple openflow 1.3 controller

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/EvgenyEmets/Routing/pkg/libfsm"
	"github.com/contiv/libOpenflow/common"
	"github.com/contiv/libOpenflow/openflow13"

	log "github.com/sirupsen/logrus"
)

// Note: Command to make ovs connect to controller:
// ovs-vsctl set-controller <bridge-name> tcp:<ip-addr>:<port>
// E.g.    ovs-vsctl set-controller ovsbr0 tcp:127.0.0.1:6633

// To enable openflow1.3 support in OVS:
// ovs-vsctl set bridge <bridge-name> protocols=OpenFlow10,OpenFlow11,OpenFlow12,OpenFlow13
// E.g. sudo ovs-vsctl set bridge ovsbr0 protocols=OpenFlow10,OpenFlow11,OpenFlow12,OpenFlow13

// Time allowed for hello/features exchange
const handshakeTimeout = 3 * time.Second

// Default number of goroutines processing packet-ins per switch
const DefaultPacketWorkers = 16

var ErrUnsupportedVersion = errors.New("switch does not speak openflow 1.3")

// Callbacks into the application
type AppInterface interface {
	SwitchConnected(sw *OFSwitch)
	SwitchDisconnected(sw *OFSwitch)
	PacketRcvd(sw *OFSwitch, pkt *PacketIn)
	PortStatusRcvd(sw *OFSwitch, status *openflow13.PortStatus)
}

type Controller struct {
	app AppInterface

	// Packet-in workers per switch
	PacketWorkers int

	mutex    sync.Mutex
	listener net.Listener
}

// Create a new controller
func NewController(app AppInterface) *Controller {
	c := new(Controller)

	// Save the handler
	c.app = app
	c.PacketWorkers = DefaultPacketWorkers

	return c
}

// Listen on a port
func (c *Controller) Listen(addr string) error {
	sock, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	return c.Serve(sock)
}

// Accept switch connections on an existing listener until it is closed
func (c *Controller) Serve(sock net.Listener) error {
	c.mutex.Lock()
	c.listener = sock
	c.mutex.Unlock()

	defer sock.Close()

	log.Infof("Listening for connections on %v", sock.Addr())
	for {
		conn, err := sock.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go c.handleConnection(conn)
	}
}

// Stop accepting new switch connections
func (c *Controller) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.listener == nil {
		return nil
	}
	return c.listener.Close()
}

// Handshake state
const (
	stateHelloWait    = "helloWait"
	stateFeaturesWait = "featuresWait"
	stateConnected    = "connected"
)

// Build the fsm that drives the hello/features exchange on a new stream
func (c *Controller) newHandshakeFsm(stream *MessageStream) *libfsm.Fsm {
	return libfsm.NewFsm(&libfsm.FsmTable{
		// currentState,  event,      newState,   callback
		{CurrState: stateHelloWait, EventName: "hello", NewState: stateFeaturesWait,
			Callback: func(e libfsm.Event) error { return c.helloRcvd(stream, e.EventData.(*common.Hello)) }},

		{CurrState: stateFeaturesWait, EventName: "features", NewState: stateConnected,
			Callback: func(e libfsm.Event) error {
				return c.featuresRcvd(stream, e.EventData.(*openflow13.SwitchFeatures))
			}},
	}, stateHelloWait)
}

func (c *Controller) helloRcvd(stream *MessageStream, hello *common.Hello) error {
	if hello.Header.Version != openflow13.VERSION {
		log.Warnf("Received unsupported ofp version %d from %v", hello.Header.Version, stream.GetAddr())
		return ErrUnsupportedVersion
	}

	log.Infof("Received Openflow 1.3 Hello message from %v", stream.GetAddr())
	stream.Version = hello.Header.Version

	return stream.Send(openflow13.NewFeaturesRequest())
}

func (c *Controller) featuresRcvd(stream *MessageStream, features *openflow13.SwitchFeatures) error {
	log.Infof("Received ofp1.3 Switch feature response: %+v", *features)

	dpid, err := dpidToUint64(features.DPID)
	if err != nil {
		return err
	}

	// Create a new switch and handover the stream
	NewSwitch(stream, dpid, c.app, c.PacketWorkers)

	return nil
}

func (c *Controller) handleConnection(conn net.Conn) {
	stream := NewMessageStream(conn)

	log.Infof("New connection from %v", conn.RemoteAddr())

	// Send ofp 1.3 Hello by default
	h, err := common.NewHello(openflow13.VERSION)
	if err != nil {
		stream.Close()
		return
	}
	stream.Send(h)

	handshake := c.newHandshakeFsm(stream)
	timer := time.NewTimer(handshakeTimeout)
	defer timer.Stop()

	for handshake.State() != stateConnected {
		select {
		case msg := <-stream.Inbound:
			var ferr error
			switch m := msg.(type) {
			case *common.Hello:
				ferr = handshake.FsmEvent(libfsm.Event{EventName: "hello", EventData: m})

			// After a vaild FeaturesReply has been received we
			// have all the information we need.
			case *openflow13.SwitchFeatures:
				ferr = handshake.FsmEvent(libfsm.Event{EventName: "features", EventData: m})

			// An error message may indicate a version mismatch. We
			// disconnect if an error occurs this early.
			case *openflow13.ErrorMsg:
				ferr = fmt.Errorf("received ofp1.3 error msg during handshake: %+v", *m)

			default:
				log.Debugf("Ignoring message during handshake: %+v", msg)
			}

			if ferr != nil {
				log.Warnf("Handshake with %v failed. Err: %v", conn.RemoteAddr(), ferr)
				stream.Close()
				return
			}

		case err := <-stream.Error:
			// The connection has been shutdown.
			log.Infof("Connection %v closed during handshake. Err: %v", conn.RemoteAddr(), err)
			return

		case <-timer.C:
			// This shouldn't happen. If it does, both the controller
			// and switch are no longer communicating.
			log.Warnf("Connection %v timed out in state %s", conn.RemoteAddr(), handshake.State())
			stream.Close()
			return
		}
	}
}

// Datapath ids are 8 bytes on the wire
func dpidToUint64(dpid net.HardwareAddr) (uint64, error) {
	if len(dpid) != 8 {
		return 0, fmt.Errorf("invalid datapath id %v", dpid)
	}
	return binary.BigEndian.Uint64(dpid), nil
}
