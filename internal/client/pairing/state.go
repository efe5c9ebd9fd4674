package pairing

// State is the explicit step of one bootstrap attempt.
type State int

const (
	Idle State = iota
	Scanning
	PayloadDecoded
	OwnershipValidated
	ServerVerified
	Rejected
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Scanning:
		return "Scanning"
	case PayloadDecoded:
		return "PayloadDecoded"
	case OwnershipValidated:
		return "OwnershipValidated"
	case ServerVerified:
		return "ServerVerified"
	case Rejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == ServerVerified || s == Rejected
}

// allowed lists the legal transitions. Idle is re-entered from Scanning when
// the decoder fails, leaving the attempt retryable.
var allowed = map[State][]State{
	Idle:               {Scanning},
	Scanning:           {Idle, PayloadDecoded, Rejected},
	PayloadDecoded:     {OwnershipValidated, Rejected},
	OwnershipValidated: {ServerVerified, Rejected},
}

func canMove(from, to State) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}
