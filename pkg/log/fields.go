package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"

	// Chat
	FieldRoomID      = "room_id"
	FieldMessageID   = "message_id"
	FieldUserID      = "user_id"
	FieldEventType   = "event_type"
	FieldClientToken = "client_token"

	// Service
	FieldService = "service"
)
