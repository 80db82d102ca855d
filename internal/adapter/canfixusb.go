// internal/adapter/canfixusb.go
package adapter

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"canfix-service/pkg/can"
)

// CanFixUsb bitrate commands by kbps
var canFixUsbBitrates = map[int]string{
	125:  "B125",
	250:  "B250",
	500:  "B500",
	1000: "B1000",
}

// NewCanFixUsb creates an adapter for the CAN-FIX USB dongle: newline
// terminated ASCII, replies echo the command letter, errors lead with '*'.
func NewCanFixUsb(deps Deps) Adapter {
	return newDongle(canFixUsbDialect, deps)
}

var canFixUsbDialect = &dialect{
	name:       "CAN-FIX USB",
	shortName:  "canfixusb",
	terminator: '\n',
	ignored:    '\r',

	reset: echoCommand("K"),
	open:  echoCommand("O"),
	close: echoCommand("C"),
	bitrate: func(kbps int) (command, error) {
		text, ok := canFixUsbBitrates[kbps]
		if !ok {
			return command{}, fmt.Errorf("%w: canfixusb does not support %d kbps", can.ErrValidation, kbps)
		}
		return echoCommand(text), nil
	},
	send: func(frame can.Frame) command {
		return echoCommand(fmt.Sprintf("W%03X:%s", frame.ID, strings.ToUpper(hex.EncodeToString(frame.Data))))
	},
	isFrame: func(line string) bool {
		return strings.HasPrefix(line, "R")
	},
	isError: func(line string) bool {
		return strings.HasPrefix(line, "*")
	},
	parseFrame: parseCanFixUsbFrame,
}

// echoCommand accepts any reply that starts with the command letter.
func echoCommand(text string) command {
	return command{
		text: text,
		accept: func(line string) bool {
			return line != "" && line[0] == text[0]
		},
	}
}

// parseCanFixUsbFrame parses "R<III>:<hex data>".
func parseCanFixUsbFrame(line string) (can.Frame, error) {
	body, ok := strings.CutPrefix(line, "R")
	if !ok {
		return can.Frame{}, fmt.Errorf("missing 'R' lead")
	}
	idPart, dataPart, ok := strings.Cut(body, ":")
	if !ok || len(idPart) != 3 {
		return can.Frame{}, fmt.Errorf("malformed identifier")
	}
	id, err := strconv.ParseUint(idPart, 16, 16)
	if err != nil {
		return can.Frame{}, err
	}
	data, err := hex.DecodeString(dataPart)
	if err != nil {
		return can.Frame{}, err
	}
	frame := can.Frame{ID: uint16(id), Data: data}
	return frame, frame.Validate()
}
