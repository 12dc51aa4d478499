package msauth

import (
	"sync"
	"time"

	"github.com/tidemc/msauth/microsoft"
)

// Status keys pushed to the display collaborator while an attempt runs.
// They are translation keys, never raw error text.
const (
	StatusWaiting    = "auth.waiting"
	StatusWorking    = "auth.working"
	StatusFinished   = "auth.finished"
	StatusNoProfile  = "auth.noProfile"
	StatusNoPurchase = "auth.noPurchase"
	StatusFailed     = "auth.failed"
)

// DeviceFlowData is the ephemeral state of one in-progress sign-in attempt.
// The provider-issued fields are immutable; the status sink is a single
// replaceable slot the display collaborator owns. The value is discarded
// once the attempt reaches a terminal state.
type DeviceFlowData struct {
	UserMessage     string
	VerificationURI string
	DeviceCode      string
	UserCode        string
	ExpiresIn       time.Duration
	PollInterval    time.Duration

	mu         sync.Mutex
	statusSink func(key string)
}

func newDeviceFlowData(dcr *microsoft.DeviceCodeResponse) *DeviceFlowData {
	interval := time.Duration(dcr.Interval) * time.Second
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &DeviceFlowData{
		UserMessage:     dcr.Message,
		VerificationURI: dcr.VerificationURI,
		DeviceCode:      dcr.DeviceCode,
		UserCode:        dcr.UserCode,
		ExpiresIn:       time.Duration(dcr.ExpiresIn) * time.Second,
		PollInterval:    interval,
	}
}

// SetStatusSink replaces the status sink. Passing nil silences updates.
func (d *DeviceFlowData) SetStatusSink(sink func(key string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statusSink = sink
}

func (d *DeviceFlowData) pushStatus(key string) {
	d.mu.Lock()
	sink := d.statusSink
	d.mu.Unlock()
	if sink != nil {
		sink(key)
	}
}
