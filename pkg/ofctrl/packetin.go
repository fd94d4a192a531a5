package ofctrl

import (
	"encoding/binary"
	"fmt"

	"github.com/contiv/libOpenflow/common"
	"github.com/contiv/libOpenflow/openflow13"
)

// Fixed fields between the header and the match
const packetInFixedLen = 16

// Buffer id of a packet-in that carries the whole frame
const noBuffer = 0xffffffff

// Packet-in whose frame is kept exactly as the switch sent it. The
// frame is never decoded here.
type PacketIn struct {
	Header   common.Header
	BufferId uint32
	TotalLen uint16
	Reason   uint8
	TableId  uint8
	Cookie   uint64
	Match    openflow13.Match
	Data     []byte
}

// Create a new packet-in carrying frame
func NewPacketIn(inPort uint32, frame []byte) *PacketIn {
	p := new(PacketIn)
	p.Header = common.Header{Version: openflow13.VERSION, Type: openflow13.Type_PacketIn}
	p.BufferId = noBuffer
	p.TotalLen = uint16(len(frame))
	p.Match = *openflow13.NewMatch()
	p.Match.AddField(*openflow13.NewInPortField(inPort))
	p.Data = frame
	return p
}

func (p *PacketIn) Len() uint16 {
	return p.Header.Len() + packetInFixedLen + p.Match.Len() + 2 + uint16(len(p.Data))
}

func (p *PacketIn) MarshalBinary() ([]byte, error) {
	p.Header.Length = p.Len()
	data, err := p.Header.MarshalBinary()
	if err != nil {
		return nil, err
	}

	fixed := make([]byte, packetInFixedLen)
	binary.BigEndian.PutUint32(fixed[0:], p.BufferId)
	binary.BigEndian.PutUint16(fixed[4:], p.TotalLen)
	fixed[6] = p.Reason
	fixed[7] = p.TableId
	binary.BigEndian.PutUint64(fixed[8:], p.Cookie)
	data = append(data, fixed...)

	match, err := p.Match.MarshalBinary()
	if err != nil {
		return nil, err
	}
	data = append(data, match...)

	// Two pad bytes precede the frame
	data = append(data, 0, 0)
	return append(data, p.Data...), nil
}

// The frame is copied out of data, which belongs to the stream's
// buffer pool.
func (p *PacketIn) UnmarshalBinary(data []byte) error {
	if err := p.Header.UnmarshalBinary(data); err != nil {
		return err
	}

	n := int(p.Header.Len())
	if len(data) < n+packetInFixedLen+4 {
		return fmt.Errorf("short packet-in: %d bytes", len(data))
	}

	p.BufferId = binary.BigEndian.Uint32(data[n:])
	p.TotalLen = binary.BigEndian.Uint16(data[n+4:])
	p.Reason = data[n+6]
	p.TableId = data[n+7]
	p.Cookie = binary.BigEndian.Uint64(data[n+8:])
	n += packetInFixedLen

	// Match length excludes its padding to a multiple of 8
	matchLen := int(binary.BigEndian.Uint16(data[n+2:]))
	paddedLen := (matchLen + 7) / 8 * 8
	if matchLen < 4 || len(data) < n+paddedLen+2 {
		return fmt.Errorf("packet-in match length %d exceeds message", matchLen)
	}
	if err := p.Match.UnmarshalBinary(data[n : n+paddedLen]); err != nil {
		return err
	}
	n += paddedLen + 2

	p.Data = append([]byte(nil), data[n:]...)
	return nil
}

// Extract the ingress port from a packet-in's match
func PacketInPort(pkt *PacketIn) (uint32, bool) {
	if pkt.Match.Type != openflow13.MatchType_OXM {
		return 0, false
	}

	for _, field := range pkt.Match.Fields {
		if field.Class != openflow13.OXM_CLASS_OPENFLOW_BASIC || field.Field != openflow13.OXM_FIELD_IN_PORT {
			continue
		}
		if inPort, ok := field.Value.(*openflow13.InPortField); ok {
			return inPort.InPort, true
		}
	}

	return 0, false
}
