package codes

// Session State Codes
const (
	SessionUnbound   = "unbound"
	SessionBinding   = "binding" // bind_transceiver sent, waiting for resp
	SessionBound     = "bound"
	SessionUnbinding = "unbinding"
	SessionDead      = "dead"
)

// Submit Outcome Codes (per segment, resolved exactly once)
const (
	OutcomeAcked          = "acked"
	OutcomeNacked         = "nacked" // submit_sm_resp with non-zero command_status
	OutcomeTimedOut       = "timed_out"
	OutcomeConnectionLost = "connection_lost"
)

// Delivery Report Status Codes (already used, but good to centralize)
const (
	DeliveryStatusDelivered = "delivered"
	DeliveryStatusFailed    = "failed"
	DeliveryStatusPending   = "pending"
)

// Transport Types
const (
	TransportTypeSMS  = "sms"
	TransportTypeUSSD = "ussd"
)

// USSD Session Events
const (
	SessionEventNew    = "new"
	SessionEventResume = "resume"
	SessionEventClose  = "close"
)
