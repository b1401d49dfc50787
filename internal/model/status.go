package model

type ServiceStatus string

const (
	ServiceStatusScheduled   ServiceStatus = "PROGRAMADO"
	ServiceStatusEnRoute     ServiceStatus = "EN_RUTA"
	ServiceStatusInProgress  ServiceStatus = "EN_PROCESO"
	ServiceStatusCompleted   ServiceStatus = "COMPLETADO"
	ServiceStatusCancelled   ServiceStatus = "CANCELADO"
	ServiceStatusRescheduled ServiceStatus = "REPROGRAMADO"
	ServiceStatusIncomplete  ServiceStatus = "INCOMPLETO"
)

// ActiveServiceStatuses hold their resources for the scheduled day.
var ActiveServiceStatuses = []ServiceStatus{
	ServiceStatusScheduled,
	ServiceStatusEnRoute,
	ServiceStatusInProgress,
}

var serviceTransitions = map[ServiceStatus][]ServiceStatus{
	ServiceStatusScheduled: {
		ServiceStatusEnRoute,
		ServiceStatusCancelled,
		ServiceStatusRescheduled,
		ServiceStatusIncomplete,
	},
	ServiceStatusEnRoute: {
		ServiceStatusInProgress,
		ServiceStatusCancelled,
		ServiceStatusRescheduled,
		ServiceStatusIncomplete,
	},
	ServiceStatusInProgress: {
		ServiceStatusCompleted,
		ServiceStatusCancelled,
		ServiceStatusRescheduled,
		ServiceStatusIncomplete,
	},
	ServiceStatusRescheduled: {
		ServiceStatusScheduled,
		ServiceStatusCancelled,
		ServiceStatusIncomplete,
	},
}

func (s ServiceStatus) Valid() bool {
	switch s {
	case ServiceStatusScheduled, ServiceStatusEnRoute, ServiceStatusInProgress,
		ServiceStatusCompleted, ServiceStatusCancelled, ServiceStatusRescheduled, ServiceStatusIncomplete:
		return true
	}
	return false
}

func (s ServiceStatus) Active() bool {
	for _, active := range ActiveServiceStatuses {
		if s == active {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s ServiceStatus) Terminal() bool {
	return len(serviceTransitions[s]) == 0
}

// CanTransition reports whether to is reachable from s in one step.
func (s ServiceStatus) CanTransition(to ServiceStatus) bool {
	for _, next := range serviceTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStatuses returns a copy of the statuses reachable from s.
func (s ServiceStatus) NextStatuses() []ServiceStatus {
	next := serviceTransitions[s]
	out := make([]ServiceStatus, len(next))
	copy(out, next)
	return out
}
