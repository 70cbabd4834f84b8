package model

type OutcomeKind int

const (
	OutcomeFailed OutcomeKind = iota
	OutcomeCreated
	OutcomeAlreadyExists
	OutcomeBonusAwarded
	OutcomeNoBonus
	OutcomeLoginRejected
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeCreated:
		return "created"
	case OutcomeAlreadyExists:
		return "already_exists"
	case OutcomeBonusAwarded:
		return "bonus_awarded"
	case OutcomeNoBonus:
		return "no_bonus"
	case OutcomeLoginRejected:
		return "login_rejected"
	default:
		return "failed"
	}
}

// Outcome is the single classified result of a job. Message carries site
// text for login outcomes; Reason carries the classified failure cause.
type Outcome struct {
	Kind    OutcomeKind
	Message string
	Reason  string
}

func Created() Outcome { return Outcome{Kind: OutcomeCreated} }
func AlreadyExists() Outcome { return Outcome{Kind: OutcomeAlreadyExists} }
func BonusAwarded(message string) Outcome { return Outcome{Kind: OutcomeBonusAwarded, Message: message} }
func NoBonus(message string) Outcome { return Outcome{Kind: OutcomeNoBonus, Message: message} }
func LoginRejected(message string) Outcome {
	return Outcome{Kind: OutcomeLoginRejected, Message: message}
}
func Failed(reason string) Outcome { return Outcome{Kind: OutcomeFailed, Reason: reason} }

func (o Outcome) Succeeded() bool {
	return o.Kind == OutcomeCreated || o.Kind == OutcomeBonusAwarded
}

// JobResult pairs an outcome with the account it belongs to.
type JobResult struct {
	Username string
	Outcome  Outcome
}
