package events

// Topic constants for domain events emitted by the service.
const (
	TopicSurchargeRatesUploaded = "insurance.surcharge.rates_uploaded"
)
