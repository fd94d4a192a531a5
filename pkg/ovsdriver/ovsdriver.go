package ovsdriver

// Points an OVS bridge at the controller over OVSDB

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/contiv/libovsdb"
	"github.com/golang/glog"
)

const ovsDatabase = "Open_vSwitch"

// Subset of the OVSDB client the driver uses
type ovsdbClient interface {
	Transact(database string, operation ...libovsdb.Operation) ([]libovsdb.OperationResult, error)
	Disconnect()
}

// OVS driver state
type OvsDriver struct {
	// OVS client
	ovsClient ovsdbClient

	// Name of the OVS bridge
	ovsBridgeName string
}

// Create a new OVS driver connected to the OVSDB server at addr
func NewOvsDriver(addr, bridgeName string) (*OvsDriver, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid ovsdb port %q: %w", portStr, err)
	}

	ovs, err := libovsdb.Connect(host, port)
	if err != nil {
		glog.Errorf("Failed to connect to ovsdb at %s. Err: %v", addr, err)
		return nil, err
	}

	return newOvsDriver(ovs, bridgeName), nil
}

func newOvsDriver(client ovsdbClient, bridgeName string) *OvsDriver {
	return &OvsDriver{
		ovsClient:     client,
		ovsBridgeName: bridgeName,
	}
}

func (self *OvsDriver) Close() {
	self.ovsClient.Disconnect()
}

// Controller target for a listen address. A wildcard host means the
// switch runs next to us.
func ControllerTarget(listenAddr string) (string, error) {
	host, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return "", err
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "tcp:" + net.JoinHostPort(host, port), nil
}

// Wrapper for ovsDB transaction
func (self *OvsDriver) ovsdbTransact(ops []libovsdb.Operation) ([]libovsdb.OperationResult, error) {
	glog.V(2).Infof("Transaction: %+v", ops)

	reply, err := self.ovsClient.Transact(ovsDatabase, ops...)
	if err != nil {
		return nil, err
	}

	if len(reply) < len(ops) {
		glog.Errorf("Unexpected number of replies. Expected: %d, Recvd: %d", len(ops), len(reply))
		return nil, errors.New("OVS transaction failed. Unexpected number of replies")
	}

	// Parse reply and look for errors
	for _, o := range reply {
		if o.Error != "" {
			return nil, errors.New("OVS Transaction failed err " + o.Error + " Details: " + o.Details)
		}
	}

	return reply, nil
}

// Replace the bridge's controllers with target and restrict it to
// OpenFlow 1.3
func (self *OvsDriver) SetController(target string) error {
	namedUuidStr := "ofrouter"

	// Insert the controller row
	ctrl := make(map[string]interface{})
	ctrl["target"] = target
	ctrlOp := libovsdb.Operation{
		Op:       "insert",
		Table:    "Controller",
		Row:      ctrl,
		UUIDName: namedUuidStr,
	}

	ctrlSet, err := libovsdb.NewOvsSet([]libovsdb.UUID{libovsdb.UUID{GoUuid: namedUuidStr}})
	if err != nil {
		return err
	}
	protoSet, err := libovsdb.NewOvsSet([]string{"OpenFlow13"})
	if err != nil {
		return err
	}

	// Point the bridge at it. Old controller rows are garbage collected.
	bridge := make(map[string]interface{})
	bridge["controller"] = ctrlSet
	bridge["protocols"] = protoSet
	condition := libovsdb.NewCondition("name", "==", self.ovsBridgeName)
	brOp := libovsdb.Operation{
		Op:    "update",
		Table: "Bridge",
		Row:   bridge,
		Where: []interface{}{condition},
	}

	reply, err := self.ovsdbTransact([]libovsdb.Operation{ctrlOp, brOp})
	if err != nil {
		glog.Errorf("Error setting controller %s on bridge %s. Err: %v", target, self.ovsBridgeName, err)
		return err
	}
	if reply[1].Count == 0 {
		return fmt.Errorf("bridge %s not found", self.ovsBridgeName)
	}

	glog.Infof("Bridge %s controller set to %s", self.ovsBridgeName, target)

	return nil
}
