package telemetry

type Provider interface {
	Get() *Telemetry
}
