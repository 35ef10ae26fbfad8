package health

import "time"

// NewHealthy returns a healthy status for the component
func NewHealthy(component, message string) Status {
	return newStatus(component, "healthy", message)
}

// NewUnhealthy returns an unhealthy status for the component
func NewUnhealthy(component, message string) Status {
	return newStatus(component, "unhealthy", message)
}

// NewDegraded returns a degraded status for the component
func NewDegraded(component, message string) Status {
	return newStatus(component, "degraded", message)
}

func newStatus(component, status, message string) Status {
	return Status{
		Component: component,
		Healthy:   status == "healthy",
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Aggregate rolls subsystem statuses up into one process-level status. Any
// unhealthy subsystem makes the aggregate unhealthy; otherwise a degraded
// subsystem makes it degraded. The inputs are attached as sub-statuses.
func Aggregate(component string, subStatuses []Status) Status {
	if len(subStatuses) == 0 {
		return NewHealthy(component, "no subsystems reported")
	}

	unhealthy := 0
	degraded := 0
	for _, sub := range subStatuses {
		switch {
		case sub.IsUnhealthy():
			unhealthy++
		case sub.IsDegraded():
			degraded++
		}
	}

	var status Status
	switch {
	case unhealthy > 0:
		status = NewUnhealthy(component, "one or more subsystems unhealthy")
	case degraded > 0:
		status = NewDegraded(component, "one or more subsystems degraded")
	default:
		status = NewHealthy(component, "all subsystems healthy")
	}

	status.SubStatuses = make([]Status, len(subStatuses))
	copy(status.SubStatuses, subStatuses)
	return status
}
