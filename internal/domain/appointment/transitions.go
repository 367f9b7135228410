package appointment

// successors lists every permitted edge of the lifecycle.
var successors = map[Status][]Status{
	StatusPending:                       {StatusConfirmed, StatusNeedsReschedule, StatusCancelled},
	StatusConfirmed:                     {StatusCompleted, StatusCancelled},
	StatusNeedsReschedule:               {StatusPendingRescheduleConfirmation, StatusCancelled},
	StatusPendingRescheduleConfirmation: {StatusConfirmed, StatusNeedsReschedule, StatusCancelled},
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func CanTransition(from, to Status) bool {
	for _, s := range successors[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Successors returns the statuses reachable from s in one step.
func Successors(s Status) []Status {
	return append([]Status(nil), successors[s]...)
}

// op is one workflow operation: the statuses it may start from and the
// status it moves to.
type op struct {
	name string
	from []Status
	to   Status
}

var (
	opConfirm           = op{"confirm", []Status{StatusPending}, StatusConfirmed}
	opAutoConfirm       = op{"auto_confirm", []Status{StatusPending}, StatusConfirmed}
	opRequestReschedule = op{"request_reschedule", []Status{StatusPending}, StatusNeedsReschedule}
	opProposeReschedule = op{"propose_reschedule", []Status{StatusNeedsReschedule}, StatusPendingRescheduleConfirmation}
	opConfirmReschedule = op{"confirm_reschedule", []Status{StatusPendingRescheduleConfirmation}, StatusConfirmed}
	opRejectReschedule  = op{"reject_reschedule", []Status{StatusPendingRescheduleConfirmation}, StatusNeedsReschedule}
	opCancel            = op{"cancel", []Status{StatusPending, StatusConfirmed, StatusNeedsReschedule, StatusPendingRescheduleConfirmation}, StatusCancelled}
	opComplete          = op{"complete", []Status{StatusConfirmed}, StatusCompleted}

	allOps = []op{opConfirm, opAutoConfirm, opRequestReschedule, opProposeReschedule,
		opConfirmReschedule, opRejectReschedule, opCancel, opComplete}
)

// check classifies a request to run o on a record in status from. Asking
// for the status the record already has means another request got there
// first.
func (o op) check(from Status) error {
	if from == o.to {
		return &StaleStateError{Current: from}
	}
	for _, s := range o.from {
		if s == from && CanTransition(from, o.to) {
			return nil
		}
	}
	return &TransitionError{From: from, To: o.to}
}
