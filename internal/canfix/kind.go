// internal/canfix/kind.go
package canfix

// Identifier ranges of the four CAN-FIX message families.
const (
	NodeAlarmFirst    = 0
	ParameterFirst    = 256
	TwoWayFirst       = 1760
	NodeSpecificFirst = 1792
	LastID            = 2047
)

// Kind is the message family an identifier belongs to.
type Kind int

const (
	KindInvalid Kind = iota
	KindNodeAlarm
	KindParameter
	KindTwoWay
	KindNodeSpecific
)

func (k Kind) String() string {
	switch k {
	case KindNodeAlarm:
		return "node_alarm"
	case KindParameter:
		return "parameter"
	case KindTwoWay:
		return "two_way"
	case KindNodeSpecific:
		return "node_specific"
	default:
		return "invalid"
	}
}

// Classify maps an identifier onto its message family. Every id in
// 0..2047 has exactly one family.
func Classify(id uint16) Kind {
	switch {
	case id < ParameterFirst:
		return KindNodeAlarm
	case id < TwoWayFirst:
		return KindParameter
	case id < NodeSpecificFirst:
		return KindTwoWay
	case id <= LastID:
		return KindNodeSpecific
	default:
		return KindInvalid
	}
}
