package wire

// Kind selects how an inbound message body is decoded.
type Kind int

const (
	KindUnknown Kind = iota
	KindScheduleUpdate
	KindRemoval
)

func (k Kind) String() string {
	switch k {
	case KindScheduleUpdate:
		return "ScheduleUpdate"
	case KindRemoval:
		return "Removal"
	default:
		return "unknown"
	}
}

// ParseKind maps a kind tag to a Kind. The long TrainStation* tags are
// accepted for older senders.
func ParseKind(tag string) (Kind, bool) {
	switch tag {
	case "ScheduleUpdate", "TrainStationScheduleUpdate":
		return KindScheduleUpdate, true
	case "Removal", "TrainStationRemoval":
		return KindRemoval, true
	default:
		return KindUnknown, false
	}
}
