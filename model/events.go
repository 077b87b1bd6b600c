package model

// ProgressEvent is the live update published for each pipeline stage.
type ProgressEvent struct {
	OrderID  string       `json:"orderId"`
	Status   OrderStatus  `json:"status"`
	Progress int          `json:"progress"`
	Message  string       `json:"message,omitempty"`
	Data     *OrderFields `json:"data,omitempty"`
}

// ConnectedMessage is the acknowledgment a subscriber receives on connect,
// before any progress event.
type ConnectedMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewConnectedMessage() ConnectedMessage {
	return ConnectedMessage{Type: "connected", Message: "Connected to order updates"}
}
