// internal/transport/serial/detect.go
package serial

import (
	"fmt"
	"strings"

	"go.bug.st/serial/enumerator"
)

// AutoDevice is the device path that asks for USB detection.
const AutoDevice = "auto"

// Detect returns the first USB serial port, optionally restricted to the
// given USB vendor ids (hex, case-insensitive).
func Detect(vendorIDs ...string) (string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", fmt.Errorf("failed to enumerate serial ports: %w", err)
	}
	return pickPort(ports, vendorIDs)
}

// PortInfo describes one serial port found on the host.
type PortInfo struct {
	Name         string `json:"name"`
	IsUSB        bool   `json:"is_usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Product      string `json:"product,omitempty"`
}

// ListPorts enumerates the serial ports on the host.
func ListPorts() ([]PortInfo, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}
	return portInfos(ports), nil
}

func portInfos(ports []*enumerator.PortDetails) []PortInfo {
	out := make([]PortInfo, 0, len(ports))
	for _, p := range ports {
		out = append(out, PortInfo{
			Name:         p.Name,
			IsUSB:        p.IsUSB,
			VID:          strings.ToLower(p.VID),
			PID:          strings.ToLower(p.PID),
			SerialNumber: p.SerialNumber,
			Product:      p.Product,
		})
	}
	return out
}

func pickPort(ports []*enumerator.PortDetails, vendorIDs []string) (string, error) {
	for _, p := range ports {
		if !p.IsUSB {
			continue
		}
		if len(vendorIDs) == 0 {
			return p.Name, nil
		}
		for _, vid := range vendorIDs {
			if strings.EqualFold(p.VID, vid) {
				return p.Name, nil
			}
		}
	}
	return "", fmt.Errorf("no USB serial adapter found among %d ports", len(ports))
}
