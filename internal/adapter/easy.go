// internal/adapter/easy.go
package adapter

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"canfix-service/pkg/can"
)

// Easy bitrate commands by kbps
var easyBitrates = map[int]string{
	10:   "S0",
	20:   "S1",
	50:   "S2",
	100:  "S3",
	125:  "S4",
	250:  "S5",
	500:  "S6",
	800:  "S7",
	1000: "S8",
}

const easyBell = 0x07

// NewEasy creates an adapter for the Lawicel style "Easy" dongle:
// carriage return terminated ASCII, BEL on error.
func NewEasy(deps Deps) Adapter {
	return newDongle(easyDialect, deps)
}

var easyDialect = &dialect{
	name:       "CAN Easy",
	shortName:  "easy",
	terminator: '\r',
	ignored:    '\n',
	bell:       easyBell,

	// a reset answers with CR or BEL depending on the channel state
	reset: command{text: "", accept: func(string) bool { return true }},
	open:  emptyAckCommand("O"),
	close: emptyAckCommand("C"),
	bitrate: func(kbps int) (command, error) {
		text, ok := easyBitrates[kbps]
		if !ok {
			return command{}, fmt.Errorf("%w: easy does not support %d kbps", can.ErrValidation, kbps)
		}
		return emptyAckCommand(text), nil
	},
	send: func(frame can.Frame) command {
		return command{
			text:   fmt.Sprintf("t%03X%d%s", frame.ID, len(frame.Data), strings.ToUpper(hex.EncodeToString(frame.Data))),
			accept: func(line string) bool { return line == "z" },
		}
	},
	isFrame: func(line string) bool {
		return strings.HasPrefix(line, "t")
	},
	isError: func(line string) bool {
		return line == string(rune(easyBell))
	},
	parseFrame: parseEasyFrame,
}

func emptyAckCommand(text string) command {
	return command{text: text, accept: func(line string) bool { return line == "" }}
}

// parseEasyFrame parses "t<III><L><hex data>" with an optional four digit
// hex timestamp.
func parseEasyFrame(line string) (can.Frame, error) {
	body, ok := strings.CutPrefix(line, "t")
	if !ok {
		return can.Frame{}, fmt.Errorf("missing 't' lead")
	}
	if len(body) < 4 {
		return can.Frame{}, fmt.Errorf("frame line too short")
	}
	id, err := strconv.ParseUint(body[:3], 16, 16)
	if err != nil {
		return can.Frame{}, err
	}
	length, err := strconv.Atoi(body[3:4])
	if err != nil || length > can.MaxDataLen {
		return can.Frame{}, fmt.Errorf("bad length %q", body[3:4])
	}

	rest := body[4:]
	switch len(rest) {
	case 2 * length:
	case 2*length + 4:
		rest = rest[:2*length]
	default:
		return can.Frame{}, fmt.Errorf("expected %d data bytes, line carries %d hex digits", length, len(rest))
	}
	data, err := hex.DecodeString(rest)
	if err != nil {
		return can.Frame{}, err
	}
	frame := can.Frame{ID: uint16(id), Data: data}
	return frame, frame.Validate()
}
