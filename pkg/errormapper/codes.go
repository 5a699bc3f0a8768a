package errormapper

const (
	// Validation & admission failures
	ErrorCodeInvalidMSISDN     = "INVALID_MSISDN"
	ErrorCodeInvalidContent    = "INVALID_CONTENT"
	ErrorCodeValidationFailure = "VALIDATION_FAIL"

	// Billing failures
	ErrorCodeInsufficientFunds = "INSUF_FUNDS"
	ErrorCodeAccountNotFound   = "NO_ACCOUNT"

	// Provider/submission failures
	ErrorCodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	ErrorCodeProviderReject      = "PROVIDER_REJECT"
	ErrorCodeProviderTimeout     = "PROVIDER_TIMEOUT"

	// System errors
	ErrorCodeSystemError   = "SYS_ERR"
	ErrorCodeDatabaseError = "DB_ERR"
	ErrorCodeQueueError    = "QUEUE_ERR"
)

// Standard delivery receipt stat values (SMPP v3.4 appendix B).
const (
	ReceiptStatDelivered     = "DELIVRD"
	ReceiptStatExpired       = "EXPIRED"
	ReceiptStatDeleted       = "DELETED"
	ReceiptStatUndeliverable = "UNDELIV"
	ReceiptStatAccepted      = "ACCEPTD"
	ReceiptStatRejected      = "REJECTD"
	ReceiptStatEnroute       = "ENROUTE"
	ReceiptStatUnknown       = "UNKNOWN"
)
