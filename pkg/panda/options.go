package panda

import (
	"time"

	"github.com/herlein/gopanda/pkg/dfu"
	"github.com/herlein/gopanda/pkg/transport"
)

// Logger is an optional logging interface. Retries and state
// transitions are reported here so a flaky link can be diagnosed;
// the default discards everything.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// RetryPolicy controls a retrying loop. MaxAttempts <= 0 means retry
// without bound; Backoff yields the sleep before attempt n (1-based).
// Injected so tests can substitute fast, bounded policies.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
}

// FixedBackoff returns a backoff function with a constant delay.
func FixedBackoff(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return d }
}

// DefaultReconnectPolicy is the production reconnect behavior:
// 15 attempts, one second apart.
func DefaultReconnectPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 15, Backoff: FixedBackoff(time.Second)}
}

// DefaultCanRetryPolicy is the production CAN I/O behavior on transient
// overrun: retry without bound, pausing briefly. A caller that needs an
// upper bound imposes its own.
func DefaultCanRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 0, Backoff: FixedBackoff(100 * time.Millisecond)}
}

// opener produces a live transport for a target serial ("" = first
// match) and reports the bound serial and whether the bootstub firmware
// answered. Swapped out by tests.
type opener func(serial string) (transport.Handle, string, bool, error)

func usbOpener(serial string) (transport.Handle, string, bool, error) {
	usb, err := transport.OpenUSB(serial)
	if err != nil {
		return nil, "", false, err
	}
	return usb, usb.Serial, usb.Bootstub, nil
}

type config struct {
	serial       string
	wifiAddr     string
	wifi         bool
	open         opener
	dfuClient    dfu.Client
	logger       Logger
	reconnect    RetryPolicy
	canRetry     RetryPolicy
	scanInterval time.Duration
	installRoot  string
}

func defaultConfig() config {
	return config{
		open:         usbOpener,
		logger:       nopLogger{},
		reconnect:    DefaultReconnectPolicy(),
		canRetry:     DefaultCanRetryPolicy(),
		scanInterval: 100 * time.Millisecond,
	}
}

// Option is a functional option for configuring a Device.
type Option func(*config)

// WithSerial targets a specific device instead of the first match.
func WithSerial(serial string) Option {
	return func(c *config) { c.serial = serial }
}

// WithWifi reaches the device through the TCP tunnel instead of USB.
// addr may be empty for the default tunnel address.
func WithWifi(addr string) Option {
	return func(c *config) {
		c.wifi = true
		c.wifiAddr = addr
	}
}

// WithLogger sets a logger for retries and state transitions.
func WithLogger(logger Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDFU provides the external DFU client used for last-resort
// recovery. Without it, recovery attempts are skipped.
func WithDFU(client dfu.Client) Option {
	return func(c *config) { c.dfuClient = client }
}

// WithReconnectPolicy replaces the bounded reconnect retry policy.
func WithReconnectPolicy(policy RetryPolicy) Option {
	return func(c *config) { c.reconnect = policy }
}

// WithCanRetryPolicy replaces the CAN I/O transient-retry policy.
func WithCanRetryPolicy(policy RetryPolicy) Option {
	return func(c *config) { c.canRetry = policy }
}

// WithInstallRoot sets the root under which default firmware images are
// resolved.
func WithInstallRoot(root string) Option {
	return func(c *config) { c.installRoot = root }
}

// WithOpener replaces the USB enumeration/open step. Used by tests to
// substitute fake transports.
func WithOpener(open func(serial string) (transport.Handle, string, bool, error)) Option {
	return func(c *config) { c.open = open }
}
