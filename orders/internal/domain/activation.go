package domain

type ActivationResult int

const (
	ActivationSuccess ActivationResult = iota
	ActivationOrderNotFound
	ActivationAlreadyProcessed
	ActivationInvalidStatus
)

func (r ActivationResult) String() string {
	switch r {
	case ActivationSuccess:
		return "success"
	case ActivationOrderNotFound:
		return "order_not_found"
	case ActivationAlreadyProcessed:
		return "already_processed"
	case ActivationInvalidStatus:
		return "invalid_status"
	default:
		return "unknown"
	}
}

// ClassifyMiss explains why a conditional transition to target touched no
// row. done lists the statuses that mean the same outcome was applied
// earlier.
func ClassifyMiss(order *Order, done ...OrderStatus) ActivationResult {
	if order == nil {
		return ActivationOrderNotFound
	}
	for _, s := range done {
		if order.Status == s {
			return ActivationAlreadyProcessed
		}
	}
	return ActivationInvalidStatus
}
