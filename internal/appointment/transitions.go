package appointment

// TransitionPolicy decides which status changes UpdateStatus and Cancel accept.
type TransitionPolicy interface {
	Allowed(from, to AppointmentStatus) bool
}

// LoosePolicy accepts any status change. Front-desk staff use it to correct
// mistakes, e.g. reopening a cancelled visit.
type LoosePolicy struct{}

func (LoosePolicy) Allowed(_, _ AppointmentStatus) bool { return true }

// StrictPolicy follows the visit flow; completed and cancelled are terminal.
type StrictPolicy struct{}

var strictGraph = map[AppointmentStatus]map[AppointmentStatus]bool{
	StatusPending:     {StatusConfirmed: true, StatusCancelled: true, StatusRescheduled: true},
	StatusConfirmed:   {StatusCompleted: true, StatusCancelled: true, StatusRescheduled: true},
	StatusRescheduled: {StatusConfirmed: true, StatusCompleted: true, StatusCancelled: true},
}

func (StrictPolicy) Allowed(from, to AppointmentStatus) bool {
	if from == to {
		return true
	}
	return strictGraph[from][to]
}

func PolicyFor(strict bool) TransitionPolicy {
	if strict {
		return StrictPolicy{}
	}
	return LoosePolicy{}
}
