package packet

// This package classifies the first packets switches send to the controller

import (
	"errors"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

const (
	EthTypeIPv4 uint16 = 0x0800
	EthTypeARP  uint16 = 0x0806
)

var ErrShortFrame = errors.New("frame too short for an ethernet header")

var broadcastMac = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// Fields extracted from a first packet
type Packet struct {
	InPort  uint32
	EthSrc  net.HardwareAddr
	EthDst  net.HardwareAddr
	EthType uint16
	VlanId  uint16 // 0 when untagged

	// IPv4 only
	IpSrc net.IP
	IpDst net.IP

	// ARP only
	ArpOp  uint16
	ArpSpa net.IP
	ArpTpa net.IP

	Frame []byte // Original frame
}

// Classify a raw ethernet frame received on inPort. Unknown ethertypes
// and truncated protocol payloads only leave the protocol fields empty.
func Classify(frame []byte, inPort uint32) (*Packet, error) {
	var eth layers.Ethernet
	var dot1q layers.Dot1Q
	var arp layers.ARP
	var ip4 layers.IPv4

	parser := gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet, &eth, &dot1q, &arp, &ip4)
	parser.IgnoreUnsupported = true

	decoded := make([]gopacket.LayerType, 0, 4)
	err := parser.DecodeLayers(frame, &decoded)

	if len(decoded) == 0 || decoded[0] != layers.LayerTypeEthernet {
		if err == nil {
			err = ErrShortFrame
		}
		return nil, fmt.Errorf("classify frame on port %d: %w", inPort, err)
	}

	pkt := &Packet{
		InPort:  inPort,
		EthSrc:  cloneMac(eth.SrcMAC),
		EthDst:  cloneMac(eth.DstMAC),
		EthType: uint16(eth.EthernetType),
		Frame:   frame,
	}

	for _, layerType := range decoded {
		switch layerType {
		case layers.LayerTypeDot1Q:
			pkt.VlanId = dot1q.VLANIdentifier
			pkt.EthType = uint16(dot1q.Type)
		case layers.LayerTypeARP:
			if arp.Protocol != layers.EthernetTypeIPv4 {
				continue
			}
			pkt.ArpOp = arp.Operation
			pkt.ArpSpa = cloneIP(arp.SourceProtAddress)
			pkt.ArpTpa = cloneIP(arp.DstProtAddress)
		case layers.LayerTypeIPv4:
			pkt.IpSrc = cloneIP(ip4.SrcIP)
			pkt.IpDst = cloneIP(ip4.DstIP)
		}
	}

	return pkt, nil
}

// Sender protocol address, from ARP or IPv4. nil when there is none.
func (self *Packet) SenderIP() net.IP {
	switch self.EthType {
	case EthTypeARP:
		return self.ArpSpa
	case EthTypeIPv4:
		return self.IpSrc
	}
	return nil
}

// Is the address the all-ones broadcast address
func IsBroadcast(mac net.HardwareAddr) bool {
	if len(mac) != len(broadcastMac) {
		return false
	}
	for i := range mac {
		if mac[i] != broadcastMac[i] {
			return false
		}
	}
	return true
}

// Decoded slices alias the frame buffer
func cloneMac(mac net.HardwareAddr) net.HardwareAddr {
	return append(net.HardwareAddr(nil), mac...)
}

func cloneIP(ip []byte) net.IP {
	if len(ip) == 0 {
		return nil
	}
	return append(net.IP(nil), ip...)
}
