// internal/canfix/control.go
package canfix

import "fmt"

// ControlCode is the first data byte of a node specific message.
type ControlCode uint8

const (
	NodeIdentification ControlCode = iota
	BitRateSet
	NodeIDSet
	DisableParameter
	EnableParameter
	NodeReport
	NodeStatus
	UpdateFirmware
	ConnectionRequest
	NodeConfigurationSet
	NodeConfigurationQuery
	NodeDescription
)

var controlCodeNames = map[ControlCode]string{
	NodeIdentification:     "Node Identification",
	BitRateSet:             "Bit Rate Set",
	NodeIDSet:              "Node ID Set",
	DisableParameter:       "Disable Parameter",
	EnableParameter:        "Enable Parameter",
	NodeReport:             "Node Report",
	NodeStatus:             "Node Status",
	UpdateFirmware:         "Update Firmware",
	ConnectionRequest:      "Connection Request",
	NodeConfigurationSet:   "Node Configuration Set",
	NodeConfigurationQuery: "Node Configuration Query",
	NodeDescription:        "Node Description",
}

func (c ControlCode) String() string {
	if name, ok := controlCodeNames[c]; ok {
		return name
	}
	if c < 128 {
		return fmt.Sprintf("Reserved NSM %d", uint8(c))
	}
	return fmt.Sprintf("User Defined NSM %d", uint8(c))
}

// MarshalText renders the code name in JSON.
func (c ControlCode) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}
