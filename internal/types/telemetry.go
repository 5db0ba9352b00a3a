package types

// CloudWatch metric and dimension names shared by everything that emits
// telemetry.
const (
	MetricDeliveryAttempt     = "DeliveryAttempt"
	MetricDeliverySuccess     = "DeliverySuccess"
	MetricDeliveryFailed      = "DeliveryFailed"
	MetricDeliveryDeadLetter  = "DeliveryDeadLetter"
	MetricDeliveryRescheduled = "DeliveryRescheduled"
	MetricOutboxBacklog       = "OutboxBacklog"
	MetricTasksReaped         = "TasksReaped"
	MetricPublishFanOut       = "PublishFanOut"
	MetricAPILatency          = "APILatency"
	MetricExternalAPIFailure  = "ExternalAPIFailure"

	// Dimension Keys
	DimProvider  = "Provider"
	DimEndpoint  = "Endpoint"
	DimErrorCode = "ErrorCode"

	// Metric Namespace
	MetricNamespace = "LetterDrop"
)
