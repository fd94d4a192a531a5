package ofctrl

// This file defines the forwarding graph API

import (
	"github.com/contiv/libOpenflow/openflow13"
	"github.com/contiv/libOpenflow/util"
)

// Example usage
// inpTable := switch.DefaultTable() // table 0. i.e starting table
//
// arpFlow, _ := inpTable.NewFlow(FlowMatch{
//                              Priority: 2,
//                              Ethertype: 0x0806,
//                              })
// arpFlow.Next(SendToController())
//
// macFlow, _ := inpTable.NewFlow(FlowMatch{
//                              Priority: 10,
//                              MacSa: &srcMac,
//                              MacDa: &dstMac,
//                              })
// macFlow.SetTimeouts(60, 1800)
// macFlow.Next(NewOutputPort(3))
//

type FgraphElem interface {
	Type() string                         // Returns the type of fw graph element
	GetFlowInstr() openflow13.Instruction // Returns the formatted instruction set
}

// Anything flow mods can be sent to. OFSwitch is the production one.
type MsgSender interface {
	Send(msg util.Message) error
}
