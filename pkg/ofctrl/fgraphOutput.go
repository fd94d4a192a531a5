package ofctrl

// This file implements the forwarding graph API for the output element

import (
	"github.com/contiv/libOpenflow/openflow13"
	"github.com/contiv/libOpenflow/util"
)

type Output struct {
	outputType string // Output type: "drop", "toController", "allPorts" or "port"
	portNo     uint32 // Output port number
}

// Create a new output graph element
func NewOutputPort(portNo uint32) *Output {
	return &Output{outputType: "port", portNo: portNo}
}

// Return the drop graph element
func DropAction() *Output {
	return &Output{outputType: "drop", portNo: openflow13.P_ANY}
}

// Return send to controller graph element
func SendToController() *Output {
	return &Output{outputType: "toController", portNo: openflow13.P_CONTROLLER}
}

// Output to every port except the ingress port
func AllPorts() *Output {
	return &Output{outputType: "allPorts", portNo: openflow13.P_ALL}
}

// Fgraph element type for the output
func (self *Output) Type() string {
	return "output"
}

// Output action for this element. nil means drop.
func (self *Output) GetOutAction() openflow13.Action {
	switch self.outputType {
	case "drop":
		return nil
	case "toController":
		outputAct := openflow13.NewActionOutput(openflow13.P_CONTROLLER)
		// Dont buffer the packets being sent to controller
		outputAct.MaxLen = openflow13.OFPCML_NO_BUFFER
		return outputAct
	default:
		return openflow13.NewActionOutput(self.portNo)
	}
}

// instruction set for output element
func (self *Output) GetFlowInstr() openflow13.Instruction {
	act := self.GetOutAction()
	if act == nil {
		return nil
	}

	outputInstr := openflow13.NewInstrApplyActions()
	outputInstr.AddAction(act, false)

	return outputInstr
}

// Build a packet-out sending data through this element. inPort is kept on
// the packet-out so the switch treats it as having arrived there.
func (self *Output) PacketOut(inPort uint32, data util.Message) *openflow13.PacketOut {
	pktOut := openflow13.NewPacketOut()
	pktOut.InPort = inPort
	pktOut.Data = data

	if act := self.GetOutAction(); act != nil {
		pktOut.AddAction(act)
	}

	return pktOut
}
