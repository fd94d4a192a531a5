package routing

import (
	"net"
	"net/netip"
	"sync"
	"testing"

	"github.com/EvgenyEmets/Routing/pkg/eventbus"
	"github.com/EvgenyEmets/Routing/pkg/ofctrl"
	"github.com/contiv/libOpenflow/openflow13"
	"github.com/contiv/libOpenflow/util"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Switch handle that records what the app sends
type fakeSwitch struct {
	dpid  uint64
	table *ofctrl.Table

	mutex sync.Mutex
	msgs  []util.Message
}

func newFakeSwitch(dpid uint64) *fakeSwitch {
	sw := &fakeSwitch{dpid: dpid}
	sw.table = ofctrl.NewTable(sw, 0)
	return sw
}

func (f *fakeSwitch) DPID() uint64                { return f.dpid }
func (f *fakeSwitch) DefaultTable() *ofctrl.Table { return f.table }

func (f *fakeSwitch) Send(msg util.Message) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeSwitch) reset() {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	f.msgs = nil
}

func (f *fakeSwitch) flowMods() []*openflow13.FlowMod {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	var mods []*openflow13.FlowMod
	for _, msg := range f.msgs {
		if fm, ok := msg.(*openflow13.FlowMod); ok {
			mods = append(mods, fm)
		}
	}
	return mods
}

func (f *fakeSwitch) packetOuts() []*openflow13.PacketOut {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	var outs []*openflow13.PacketOut
	for _, msg := range f.msgs {
		if po, ok := msg.(*openflow13.PacketOut); ok {
			outs = append(outs, po)
		}
	}
	return outs
}

func newTestRouting(t *testing.T) (*Routing, *eventbus.Bus) {
	app, err := NewRouting(DefaultConfig())
	require.NoError(t, err)

	bus := eventbus.New()
	app.Init(bus)
	return app, bus
}

func ipv4Frame(t *testing.T, src, dst net.HardwareAddr, srcIP, dstIP net.IP) []byte {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts,
		&layers.Ethernet{SrcMAC: src, DstMAC: dst, EthernetType: layers.EthernetTypeIPv4},
		&layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: srcIP, DstIP: dstIP},
		gopacket.Payload([]byte("payload")),
	))
	return buf.Bytes()
}

func arpFrame(t *testing.T, src net.HardwareAddr, spa, tpa net.IP) []byte {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts,
		&layers.Ethernet{SrcMAC: src, DstMAC: layers.EthernetBroadcast, EthernetType: layers.EthernetTypeARP},
		&layers.ARP{
			AddrType:          layers.LinkTypeEthernet,
			Protocol:          layers.EthernetTypeIPv4,
			HwAddressSize:     6,
			ProtAddressSize:   4,
			Operation:         layers.ARPRequest,
			SourceHwAddress:   src,
			SourceProtAddress: spa.To4(),
			DstHwAddress:      make([]byte, 6),
			DstProtAddress:    tpa.To4(),
		},
	))
	return buf.Bytes()
}

func singleOutput(t *testing.T, actions []openflow13.Action) *openflow13.ActionOutput {
	require.Len(t, actions, 1)
	out, ok := actions[0].(*openflow13.ActionOutput)
	require.True(t, ok)
	return out
}

func frameOf(t *testing.T, po *openflow13.PacketOut) []byte {
	data, err := po.Data.MarshalBinary()
	require.NoError(t, err)
	return data
}

func TestSwitchUpInstallsBootstrapFlows(t *testing.T) {
	app, bus := newTestRouting(t)
	sw := newFakeSwitch(1)

	bus.Publish(eventbus.SwitchUp, SwitchEvent{Switch: sw})

	mods := sw.flowMods()
	require.Len(t, mods, 2)

	expected := []struct {
		priority uint16
		ethType  uint16
	}{{2, 0x0806}, {1, 0x0800}}

	for i, fm := range mods {
		assert.Equal(t, uint8(0), fm.TableId)
		assert.Equal(t, expected[i].priority, fm.Priority)
		assert.Equal(t, uint16(0), fm.IdleTimeout)
		assert.Equal(t, uint16(0), fm.HardTimeout)

		require.Len(t, fm.Match.Fields, 1)
		etype, ok := fm.Match.Fields[0].Value.(*openflow13.EthTypeField)
		require.True(t, ok)
		assert.Equal(t, expected[i].ethType, etype.EthType)

		require.Len(t, fm.Instructions, 1)
		instr, ok := fm.Instructions[0].(*openflow13.InstrActions)
		require.True(t, ok)
		out := singleOutput(t, instr.Actions)
		assert.Equal(t, uint32(openflow13.P_CONTROLLER), out.Port)
		assert.Equal(t, uint16(openflow13.OFPCML_NO_BUFFER), out.MaxLen)
	}

	assert.NotNil(t, app.Ports().Get(1))
	assert.Empty(t, sw.packetOuts())
}

func TestSwitchDownDropsPortTable(t *testing.T) {
	app, bus := newTestRouting(t)
	sw := newFakeSwitch(1)

	bus.Publish(eventbus.SwitchUp, SwitchEvent{Switch: sw})
	bus.Publish(eventbus.SwitchDown, SwitchEvent{Switch: sw})

	assert.Nil(t, app.Ports().Get(1))
}

func TestUnknownDestinationFloods(t *testing.T) {
	app, bus := newTestRouting(t)
	sw := newFakeSwitch(1)

	src, _ := net.ParseMAC("00:00:00:00:00:01")
	dst, _ := net.ParseMAC("00:00:00:00:00:02")
	frame := ipv4Frame(t, src, dst, net.IPv4(10, 0, 0, 1), net.IPv4(10, 0, 0, 2))

	handled := bus.Publish(eventbus.PacketIn, PacketInEvent{Switch: sw, InPort: 5, Data: frame})
	assert.True(t, handled)

	assert.Empty(t, sw.flowMods())
	outs := sw.packetOuts()
	require.Len(t, outs, 1)
	assert.Equal(t, uint32(5), outs[0].InPort)
	assert.Equal(t, uint32(openflow13.P_ALL), singleOutput(t, outs[0].Actions).Port)
	assert.Equal(t, frame, frameOf(t, outs[0]))

	// Source was learned
	port, ok := app.Hosts().Lookup(1, src)
	assert.True(t, ok)
	assert.Equal(t, uint32(5), port)
}

func TestKnownDestinationInstallsFlow(t *testing.T) {
	app, bus := newTestRouting(t)
	sw := newFakeSwitch(1)

	src, _ := net.ParseMAC("00:00:00:00:00:01")
	dst, _ := net.ParseMAC("00:00:00:00:00:02")
	app.Hosts().Record(1, src, 1)
	app.Hosts().Record(1, dst, 2)

	frame := ipv4Frame(t, src, dst, net.IPv4(10, 0, 0, 1), net.IPv4(10, 0, 0, 2))
	assert.True(t, bus.Publish(eventbus.PacketIn, PacketInEvent{Switch: sw, InPort: 1, Data: frame}))

	outs := sw.packetOuts()
	require.Len(t, outs, 1)
	assert.Equal(t, uint32(2), singleOutput(t, outs[0].Actions).Port)
	assert.Equal(t, frame, frameOf(t, outs[0]))

	mods := sw.flowMods()
	require.Len(t, mods, 1)
	fm := mods[0]
	assert.Equal(t, uint8(openflow13.FC_ADD), fm.Command)
	assert.Equal(t, uint16(60), fm.IdleTimeout)
	assert.Equal(t, uint16(1800), fm.HardTimeout)
	assert.Greater(t, fm.Priority, uint16(2))

	var gotSrc, gotDst net.HardwareAddr
	for _, field := range fm.Match.Fields {
		switch v := field.Value.(type) {
		case *openflow13.EthSrcField:
			gotSrc = v.EthSrc
		case *openflow13.EthDstField:
			gotDst = v.EthDst
		}
	}
	assert.Equal(t, src, gotSrc)
	assert.Equal(t, dst, gotDst)
	assert.Len(t, fm.Match.Fields, 2)

	require.Len(t, fm.Instructions, 1)
	instr, ok := fm.Instructions[0].(*openflow13.InstrActions)
	require.True(t, ok)
	assert.Equal(t, uint32(2), singleOutput(t, instr.Actions).Port)
}

func TestDestinationOnIngressPortIsDropped(t *testing.T) {
	app, bus := newTestRouting(t)
	sw := newFakeSwitch(1)

	src, _ := net.ParseMAC("00:00:00:00:00:01")
	dst, _ := net.ParseMAC("00:00:00:00:00:02")
	app.Hosts().Record(1, dst, 3)

	frame := ipv4Frame(t, src, dst, net.IPv4(10, 0, 0, 1), net.IPv4(10, 0, 0, 2))
	assert.True(t, bus.Publish(eventbus.PacketIn, PacketInEvent{Switch: sw, InPort: 3, Data: frame}))

	assert.Empty(t, sw.msgs)
	assert.Equal(t, 0, sw.table.NumFlows())

	// Source is still learned
	port, ok := app.Hosts().Lookup(1, src)
	assert.True(t, ok)
	assert.Equal(t, uint32(3), port)
}

func TestRepeatedPacketReissuesDecision(t *testing.T) {
	app, bus := newTestRouting(t)
	sw := newFakeSwitch(1)

	src, _ := net.ParseMAC("00:00:00:00:00:01")
	dst, _ := net.ParseMAC("00:00:00:00:00:02")
	app.Hosts().Record(1, dst, 2)
	frame := ipv4Frame(t, src, dst, net.IPv4(10, 0, 0, 1), net.IPv4(10, 0, 0, 2))

	for i := 0; i < 2; i++ {
		sw.reset()
		bus.Publish(eventbus.PacketIn, PacketInEvent{Switch: sw, InPort: 1, Data: frame})

		assert.Len(t, sw.packetOuts(), 1)
		assert.Len(t, sw.flowMods(), 1)
	}
	assert.Equal(t, 1, sw.table.NumFlows())
}

func TestBroadcastSourceNotHandled(t *testing.T) {
	app, bus := newTestRouting(t)
	sw := newFakeSwitch(1)

	bcast, _ := net.ParseMAC("ff:ff:ff:ff:ff:ff")
	dst, _ := net.ParseMAC("00:00:00:00:00:02")
	frame := ipv4Frame(t, bcast, dst, net.IPv4(10, 0, 0, 1), net.IPv4(10, 0, 0, 2))

	assert.False(t, bus.Publish(eventbus.PacketIn, PacketInEvent{Switch: sw, InPort: 1, Data: frame}))
	assert.Empty(t, sw.msgs)
	assert.Equal(t, 0, app.Hosts().NumSwitches())
}

func TestEarlierHandlerWins(t *testing.T) {
	_, bus := newTestRouting(t)
	sw := newFakeSwitch(1)

	bus.Subscribe(eventbus.PacketIn, "firewall", 0, func(interface{}) bool { return true })

	src, _ := net.ParseMAC("00:00:00:00:00:01")
	frame := arpFrame(t, src, net.IPv4(10, 0, 0, 1), net.IPv4(10, 0, 0, 2))

	assert.True(t, bus.Publish(eventbus.PacketIn, PacketInEvent{Switch: sw, InPort: 1, Data: frame}))
	assert.Empty(t, sw.msgs)
}

func TestArpLearnsHostPort(t *testing.T) {
	app, bus := newTestRouting(t)
	sw := newFakeSwitch(1)
	bus.Publish(eventbus.SwitchUp, SwitchEvent{Switch: sw})

	src, _ := net.ParseMAC("00:00:00:00:00:01")
	frame := arpFrame(t, src, net.IPv4(10, 0, 0, 1), net.IPv4(10, 0, 0, 2))
	bus.Publish(eventbus.PacketIn, PacketInEvent{Switch: sw, InPort: 3, Data: frame})

	mac, ok := app.Arp().Lookup(net.IPv4(10, 0, 0, 1))
	assert.True(t, ok)
	assert.Equal(t, src, mac)

	port, ok := app.Ports().Get(1).PortOfHost(netip.MustParseAddr("10.0.0.1"))
	assert.True(t, ok)
	assert.Equal(t, uint32(3), port)
}

func TestInterSwitchPortNotMappedToHost(t *testing.T) {
	app, bus := newTestRouting(t)
	sw := newFakeSwitch(1)
	bus.Publish(eventbus.SwitchUp, SwitchEvent{Switch: sw})
	bus.Publish(eventbus.SwitchUp, SwitchEvent{Switch: newFakeSwitch(2)})

	bus.Publish(eventbus.LinkDiscovered, LinkEvent{
		From: SwitchPort{Dpid: 1, PortNo: 4},
		To:   SwitchPort{Dpid: 2, PortNo: 1},
	})

	src, _ := net.ParseMAC("00:00:00:00:00:09")
	frame := arpFrame(t, src, net.IPv4(10, 0, 0, 9), net.IPv4(10, 0, 0, 2))
	bus.Publish(eventbus.PacketIn, PacketInEvent{Switch: sw, InPort: 4, Data: frame})

	assert.Equal(t, OwnerSwitch, app.Ports().Get(1).Owner(4))
	_, ok := app.Ports().Get(1).PortOfHost(netip.MustParseAddr("10.0.0.9"))
	assert.False(t, ok)

	// Still learned for forwarding
	port, ok := app.Hosts().Lookup(1, src)
	assert.True(t, ok)
	assert.Equal(t, uint32(4), port)
}

func TestMalformedFrameNotHandled(t *testing.T) {
	_, bus := newTestRouting(t)
	sw := newFakeSwitch(1)

	assert.False(t, bus.Publish(eventbus.PacketIn, PacketInEvent{Switch: sw, InPort: 1, Data: []byte{1, 2}}))
	assert.Empty(t, sw.msgs)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())

	cfg.LearnedFlowPriority = 2
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.IdleTimeout = 2000
	assert.Error(t, cfg.Validate())

	_, err := NewRouting(Config{LearnedFlowPriority: 1, ArpPriority: 2, Ipv4Priority: 1})
	assert.Error(t, err)
}
