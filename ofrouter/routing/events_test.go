package routing

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/EvgenyEmets/Routing/pkg/eventbus"
	"github.com/EvgenyEmets/Routing/pkg/ofctrl"
	"github.com/contiv/libOpenflow/openflow13"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// IGMP report carrying a router alert option
func routerAlertFrame(t *testing.T, src net.HardwareAddr) []byte {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts,
		&layers.Ethernet{
			SrcMAC:       src,
			DstMAC:       net.HardwareAddr{0x01, 0x00, 0x5e, 0x00, 0x00, 0x16},
			EthernetType: layers.EthernetTypeIPv4,
		},
		&layers.IPv4{
			Version:  4,
			TTL:      1,
			Protocol: layers.IPProtocolIGMP,
			SrcIP:    net.IPv4(10, 0, 0, 1),
			DstIP:    net.IPv4(224, 0, 0, 22),
			Options: []layers.IPv4Option{
				{OptionType: 0x94, OptionLength: 4, OptionData: []byte{0, 0}},
			},
		},
		gopacket.Payload([]byte{0x22, 0x00, 0xfa, 0x02, 0x00, 0x00, 0x00, 0x01}),
	))

	frame := buf.Bytes()
	require.Equal(t, byte(0x46), frame[14])
	return frame
}

// IPv4 header length claims more than the frame holds
func badIhlFrame(src net.HardwareAddr) []byte {
	frame := append([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, src...)
	frame = append(frame, 0x08, 0x00, 0x4f)
	return append(frame, make([]byte, 19)...)
}

// Encode a packet-in the way a switch sends it and decode it the way
// the controller does
func wirePacketIn(t *testing.T, inPort uint32, frame []byte) *ofctrl.PacketIn {
	data, err := ofctrl.NewPacketIn(inPort, frame).MarshalBinary()
	require.NoError(t, err)

	msg, err := ofctrl.Parse(data)
	require.NoError(t, err)

	pkt, ok := msg.(*ofctrl.PacketIn)
	require.True(t, ok)
	return pkt
}

func TestPacketInFloodsOriginalFrame(t *testing.T) {
	src := mustMac(t, "00:00:00:00:00:01")

	for name, frame := range map[string][]byte{
		"ipOptions": routerAlertFrame(t, src),
		"badIhl":    badIhlFrame(src),
	} {
		t.Run(name, func(t *testing.T) {
			_, bus := newTestRouting(t)
			publisher := NewPublisher(bus)
			sw := newFakeSwitch(1)

			assert.True(t, publisher.packetIn(sw, wirePacketIn(t, 5, frame)))

			outs := sw.packetOuts()
			require.Len(t, outs, 1)
			assert.Equal(t, uint32(5), outs[0].InPort)
			assert.Equal(t, uint32(openflow13.P_ALL), singleOutput(t, outs[0].Actions).Port)
			assert.Equal(t, frame, frameOf(t, outs[0]))
		})
	}
}

func TestPacketInUnicastsOriginalFrame(t *testing.T) {
	app, bus := newTestRouting(t)
	publisher := NewPublisher(bus)
	sw := newFakeSwitch(1)

	src := mustMac(t, "00:00:00:00:00:01")
	frame := routerAlertFrame(t, src)
	app.Hosts().Record(1, mustMac(t, "01:00:5e:00:00:16"), 2)

	assert.True(t, publisher.packetIn(sw, wirePacketIn(t, 5, frame)))

	outs := sw.packetOuts()
	require.Len(t, outs, 1)
	assert.Equal(t, uint32(2), singleOutput(t, outs[0].Actions).Port)
	assert.Equal(t, frame, frameOf(t, outs[0]))
	assert.Len(t, sw.flowMods(), 1)
}

func TestPacketInWithoutInPort(t *testing.T) {
	_, bus := newTestRouting(t)
	publisher := NewPublisher(bus)
	sw := newFakeSwitch(1)

	pkt := ofctrl.NewPacketIn(5, routerAlertFrame(t, mustMac(t, "00:00:00:00:00:01")))
	pkt.Match = *openflow13.NewMatch()

	assert.False(t, publisher.packetIn(sw, pkt))
	assert.Empty(t, sw.msgs)
}

func TestPortStatusUpdatesPorts(t *testing.T) {
	app, bus := newTestRouting(t)
	publisher := NewPublisher(bus)
	bus.Publish(eventbus.SwitchUp, SwitchEvent{Switch: newFakeSwitch(1)})
	table := app.Ports().Get(1)

	status := func(reason uint8, port uint32, state uint32) *openflow13.PortStatus {
		ps := openflow13.NewPortStatus()
		ps.Reason = reason
		ps.Desc.PortNo = port
		ps.Desc.State = state
		return ps
	}

	publisher.portStatus(1, status(openflow13.PR_ADD, 3, 0))
	publisher.portStatus(1, status(openflow13.PR_ADD, 4, 0))
	assert.Equal(t, []PortInfo{{Port: 3, Owner: "none"}, {Port: 4, Owner: "none"}}, table.Ports())

	table.AddSwitch(2, 3)
	publisher.portStatus(1, status(openflow13.PR_MODIFY, 3, openflow13.PS_LINK_DOWN))
	_, ok := table.PortOfSwitch(2)
	assert.False(t, ok)

	table.AddSwitch(2, 4)
	publisher.portStatus(1, status(openflow13.PR_DELETE, 4, 0))
	assert.Equal(t, OwnerNone, table.Owner(4))
	_, ok = table.PortOfSwitch(2)
	assert.False(t, ok)
}

// Read one framed message from the switch side of a pipe
func readWireMsg(t *testing.T, conn net.Conn) []byte {
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	hdr := make([]byte, 8)
	_, err := io.ReadFull(conn, hdr)
	require.NoError(t, err)

	body := make([]byte, int(binary.BigEndian.Uint16(hdr[2:4]))-len(hdr))
	_, err = io.ReadFull(conn, body)
	require.NoError(t, err)

	return append(hdr, body...)
}

func TestPublisherOverSwitchConnection(t *testing.T) {
	app, bus := newTestRouting(t)
	publisher := NewPublisher(bus)

	ctrlSide, swSide := net.Pipe()
	defer swSide.Close()

	sw := ofctrl.NewSwitch(ofctrl.NewMessageStream(ctrlSide), 0x42, publisher, 1)
	assert.Equal(t, sw, ofctrl.Switch(0x42))

	// Bootstrap flows
	for i := 0; i < 2; i++ {
		msg := readWireMsg(t, swSide)
		assert.Equal(t, uint8(openflow13.Type_FlowMod), msg[1])
	}
	require.NotNil(t, app.Ports().Get(0x42))

	frame := routerAlertFrame(t, mustMac(t, "00:00:00:00:00:01"))
	data, err := ofctrl.NewPacketIn(5, frame).MarshalBinary()
	require.NoError(t, err)
	swSide.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, err = swSide.Write(data)
	require.NoError(t, err)

	// Flooded byte for byte
	out := readWireMsg(t, swSide)
	assert.Equal(t, uint8(openflow13.Type_PacketOut), out[1])
	assert.True(t, bytes.HasSuffix(out, frame))

	port, ok := app.Hosts().Lookup(0x42, mustMac(t, "00:00:00:00:00:01"))
	assert.True(t, ok)
	assert.Equal(t, uint32(5), port)

	// Dropping the connection is a switch down
	swSide.Close()
	assert.Eventually(t, func() bool { return app.Ports().Get(0x42) == nil }, 2*time.Second, 10*time.Millisecond)
	assert.Nil(t, ofctrl.Switch(0x42))
}
