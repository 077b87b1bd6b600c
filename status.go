package swapflow

import "github.com/jerry-enebeli/swapflow/model"

// StatusProgress is the completion percentage reported for status. A failed
// attempt reports 0.
func StatusProgress(status model.OrderStatus) int {
	switch status {
	case model.StatusRouting:
		return 20
	case model.StatusBuilding:
		return 40
	case model.StatusSubmitted:
		return 60
	case model.StatusConfirmed:
		return 100
	default:
		return 0
	}
}

// StatusMessage is the human readable text for status.
func StatusMessage(status model.OrderStatus) string {
	switch status {
	case model.StatusPending:
		return "Order received and queued"
	case model.StatusRouting:
		return "Comparing DEX prices"
	case model.StatusBuilding:
		return "Building transaction"
	case model.StatusSubmitted:
		return "Transaction submitted"
	case model.StatusConfirmed:
		return "Transaction confirmed"
	case model.StatusFailed:
		return "Order failed"
	default:
		return string(status)
	}
}

// progressEvent builds the broadcast event for a stage of order.
func progressEvent(orderID string, status model.OrderStatus, data *model.OrderFields) model.ProgressEvent {
	return model.ProgressEvent{
		OrderID:  orderID,
		Status:   status,
		Progress: StatusProgress(status),
		Message:  StatusMessage(status),
		Data:     data,
	}
}
