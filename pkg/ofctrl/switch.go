package ofctrl

import (
	"fmt"
	"net"
	"sort"
	"sync"

	"github.com/contiv/libOpenflow/common"
	"github.com/contiv/libOpenflow/openflow13"
	"github.com/contiv/libOpenflow/util"
	"github.com/sourcegraph/conc/pool"

	log "github.com/sirupsen/logrus"
)

type OFSwitch struct {
	stream  *MessageStream
	dpid    uint64
	app     AppInterface
	workers *pool.Pool

	tableMutex sync.RWMutex
	tableDb    map[uint8]*Table
}

var switchDb = make(map[uint64]*OFSwitch)
var switchDbMutex sync.RWMutex

// Builds and populates a Switch struct then starts listening
// for OpenFlow messages on the stream.
func NewSwitch(stream *MessageStream, dpid uint64, app AppInterface, workers int) *OFSwitch {
	if workers <= 0 {
		workers = DefaultPacketWorkers
	}

	s := new(OFSwitch)
	s.stream = stream
	s.dpid = dpid
	s.app = app
	s.workers = pool.New().WithMaxGoroutines(workers)
	s.initFgraph()

	switchDbMutex.Lock()
	if old, ok := switchDb[dpid]; ok {
		// A reconnect replaces the old connection
		log.Infof("Openflow Connection for switch: %s replaces %v", DpidString(dpid), old.stream.GetAddr())
		old.stream.Close()
	} else {
		log.Infof("Openflow Connection for new switch: %s", DpidString(dpid))
	}
	switchDb[dpid] = s
	switchDbMutex.Unlock()

	// Send connection up callback
	app.SwitchConnected(s)

	// Main receive loop for the switch
	go s.receive()

	return s
}

// Returns a pointer to the Switch mapped to dpid.
func Switch(dpid uint64) *OFSwitch {
	switchDbMutex.RLock()
	defer switchDbMutex.RUnlock()

	return switchDb[dpid]
}

// Returns all connected switches ordered by dpid
func Switches() []*OFSwitch {
	switchDbMutex.RLock()
	defer switchDbMutex.RUnlock()

	switches := make([]*OFSwitch, 0, len(switchDb))
	for _, sw := range switchDb {
		switches = append(switches, sw)
	}
	sort.Slice(switches, func(i, j int) bool { return switches[i].dpid < switches[j].dpid })

	return switches
}

// Returns the dpid of Switch s.
func (self *OFSwitch) DPID() uint64 {
	return self.dpid
}

// Remote address of the switch connection
func (self *OFSwitch) RemoteAddr() net.Addr {
	return self.stream.GetAddr()
}

// Sends an OpenFlow message to this Switch.
func (self *OFSwitch) Send(req util.Message) error {
	err := self.stream.Send(req)
	if err != nil {
		log.Warnf("Dropping message to switch %s. Err: %v", DpidString(self.dpid), err)
	}
	return err
}

// Receive loop for each Switch.
func (self *OFSwitch) receive() {
	for {
		select {
		case msg := <-self.stream.Inbound:
			// New message has been received from message
			// stream.
			self.handleMessage(msg)
		case err := <-self.stream.Error:
			// Message stream has been disconnected.
			log.Infof("Switch %s disconnected. Err: %v", DpidString(self.dpid), err)
			self.disconnect()
			return
		case <-self.stream.Done():
			log.Infof("Switch %s stream closed", DpidString(self.dpid))
			self.disconnect()
			return
		}
	}
}

func (self *OFSwitch) disconnect() {
	// Let in-flight packet-ins finish before tearing down
	self.workers.Wait()

	switchDbMutex.Lock()
	current := switchDb[self.dpid] == self
	if current {
		delete(switchDb, self.dpid)
	}
	switchDbMutex.Unlock()

	self.resetFgraph()

	// A replaced connection is not a disconnect for the application
	if current {
		self.app.SwitchDisconnected(self)
	}
}

func (self *OFSwitch) handleMessage(msg util.Message) {
	switch t := msg.(type) {
	case *common.Header:
		switch t.Type {
		case openflow13.Type_EchoRequest:
			// Answer keepalives with the same transaction id
			res := openflow13.NewEchoReply()
			res.Xid = t.Xid
			self.Send(res)
		case openflow13.Type_EchoReply:
			log.Debugf("Echo reply from switch %s", DpidString(self.dpid))
		}
	case *openflow13.ErrorMsg:
		log.Errorf("Received ofp1.3 error msg from switch %s: %+v", DpidString(self.dpid), *t)
	case *PacketIn:
		self.workers.Go(func() {
			self.app.PacketRcvd(self, t)
		})
	case *openflow13.PortStatus:
		self.app.PortStatusRcvd(self, t)
	case *openflow13.FlowRemoved:
		self.flowRemoved(t.TableId, t.Cookie)
	default:
		log.Debugf("Received message: %+v, on switch: %s", msg, DpidString(self.dpid))
	}
}

// Format a dpid the way ovs-ofctl prints it
func DpidString(dpid uint64) string {
	return fmt.Sprintf("%016x", dpid)
}
