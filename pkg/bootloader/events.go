package bootloader

// Severity classifies a state event for the UI (color-coding, log
// level), the way the Python original's RowColor did.
type Severity int8

const (
	SeverityInfo Severity = iota
	SeverityGood
	SeverityBad
)

// EventSink is the external collaborator the engine reports to. The
// desktop UI layer is a display-only consumer of these callbacks;
// localization of the text is entirely its concern.
type EventSink interface {
	OnState(text string, severity Severity)
	OnProgress(bytesSent uint32)
	OnFinished(success bool)
}

// SourceAddressSink receives the address-observer specific events
// listed in spec.md's event stream (source_address_applied,
// source_address_read, observer_updated). It is optional: engines
// constructed without one simply skip these callbacks.
type SourceAddressSink interface {
	OnSourceAddressApplied(device, tester uint8)
	OnSourceAddressRead(device, tester uint8)
	OnObserverUpdated(candidates []uint8)
}

// nullSink is used when no EventSink is supplied, so the engine never
// has to nil-check before reporting.
type nullSink struct{}

func (nullSink) OnState(string, Severity) {}
func (nullSink) OnProgress(uint32)         {}
func (nullSink) OnFinished(bool)           {}
