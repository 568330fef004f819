package workers

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultConnectAttempts is the number of times the host retries
	// connection establishment before killing the worker.
	DefaultConnectAttempts = 5
	// DefaultConnectAttemptTimeout bounds a single connect attempt.
	DefaultConnectAttemptTimeout = 10 * time.Second
	// DefaultConnectBackoff is the fixed delay between connect attempts.
	DefaultConnectBackoff = 100 * time.Millisecond
	// MaxConnectBackoff caps the connect-retry backoff schedule.
	MaxConnectBackoff = 5 * time.Second

	// DefaultMessageTimeout is the fallback effective timeout for any
	// message type without a more specific entry.
	DefaultMessageTimeout = 300 * time.Second
	// DefaultStartupTimeout bounds the host's connect phase
	// ("WORKER_STARTUP").
	DefaultStartupTimeout = 10 * time.Second
	// DefaultServerConnectTimeout is handed to the worker as the deadline
	// within which the host must connect ("SERVER_CONNECT").
	DefaultServerConnectTimeout = 30 * time.Second

	// DefaultAcceptRetryFloor is the first retry delay after a Temporary
	// Accept error. The delay doubles on each consecutive retry up to
	// DefaultAcceptRetryCeiling, and resets after the next successful Accept.
	DefaultAcceptRetryFloor = 10 * time.Millisecond
	// DefaultAcceptRetryCeiling caps the accept-retry backoff schedule.
	DefaultAcceptRetryCeiling = 250 * time.Millisecond
	// DefaultCloseGrace is how long Close waits for a graceful remote close
	// or worker exit before force-closing/killing.
	DefaultCloseGrace = 5 * time.Second

	// timeoutKeyDefault is the catch-all timeout-table key.
	timeoutKeyDefault = "WORKER_MESSAGE"
	// timeoutKeyStartup bounds the host's connect phase.
	timeoutKeyStartup = "WORKER_STARTUP"
	// timeoutKeyServerConnect is passed to the worker server.
	timeoutKeyServerConnect = "SERVER_CONNECT"
)

// BackoffSchedule produces the delay before connect attempt n (1-indexed).
// The default is a fixed 100ms capped at 5s; callers may supply exponential
// or jittered schedules via WithConnectBackoff.
type BackoffSchedule func(attempt int) time.Duration

func defaultBackoffSchedule(_ int) time.Duration { return DefaultConnectBackoff }

// Strategy is the shutdown/retry policy for a message type:
// either reject outstanding requests outright, or retry them against a
// freshly respawned worker up to Attempts times.
type Strategy struct {
	Retry    bool
	Attempts int
}

// RejectStrategy is the default policy: fail in-flight requests once,
// without retrying them against a new worker.
var RejectStrategy = Strategy{Retry: false, Attempts: 1}

// RetryStrategy builds a bounded-retry policy.
func RetryStrategy(attempts int) Strategy {
	if attempts < 1 {
		attempts = 1
	}
	return Strategy{Retry: true, Attempts: attempts}
}

// Option configures a Client or Server. NewConfig starts from the defaults
// in defaultConfig(); users modify it through functional options.
type Option func(*Config)

// Config holds runtime settings shared by the host client and the worker
// server.
type Config struct {
	ctx    context.Context
	cancel context.CancelFunc

	serializer  Serializer
	txGen       TxGenerator
	logger      *logrus.Entry
	metrics     Metrics
	middlewares []Middleware

	connectAttempts int
	attemptTimeout  time.Duration
	backoff         BackoffSchedule

	timeouts       map[string]time.Duration
	startupTimeout time.Duration
	serverConnect  time.Duration
	closeGrace     time.Duration

	acceptRetryFloor   time.Duration
	acceptRetryCeiling time.Duration

	defaultStrategy    Strategy
	typeStrategies     map[string]Strategy
	maxRespawnsSession int // 0 = unbounded
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.connectAttempts < 1 {
		return ErrInvalidConfig
	}
	if c.defaultStrategy.Retry && c.defaultStrategy.Attempts < 1 {
		return ErrInvalidConfig
	}
	for _, s := range c.typeStrategies {
		if s.Retry && s.Attempts < 1 {
			return ErrInvalidConfig
		}
	}
	return nil
}

func defaultConfig() *Config {
	ctx, cancel := context.WithCancel(context.Background())
	return &Config{
		ctx:    ctx,
		cancel: cancel,

		serializer: JSONSerializer{},
		txGen:      NewTxGenerator(),
		logger:     logrus.NewEntry(logrus.StandardLogger()),
		metrics:    NewDefaultMetrics(),

		connectAttempts: DefaultConnectAttempts,
		attemptTimeout:  DefaultConnectAttemptTimeout,
		backoff:         defaultBackoffSchedule,

		timeouts:       map[string]time.Duration{},
		startupTimeout: DefaultStartupTimeout,
		serverConnect:  DefaultServerConnectTimeout,
		closeGrace:     DefaultCloseGrace,

		acceptRetryFloor:   DefaultAcceptRetryFloor,
		acceptRetryCeiling: DefaultAcceptRetryCeiling,

		defaultStrategy: RejectStrategy,
		typeStrategies:  map[string]Strategy{},
	}
}

func applyConfig(opts []Option) *Config {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// NewConfig builds a Config from functional options, applying defaults for
// anything not explicitly set. Shared by NewSession and bootstrap's Run.
func NewConfig(opts ...Option) *Config { return applyConfig(opts) }

// effectiveTimeout resolves the per-message-type timeout: the value under
// msgType if present, else WORKER_MESSAGE, else DefaultMessageTimeout.
func (c *Config) effectiveTimeout(msgType string) time.Duration {
	if d, ok := c.timeouts[msgType]; ok {
		return d
	}
	if d, ok := c.timeouts[timeoutKeyDefault]; ok {
		return d
	}
	return DefaultMessageTimeout
}

// strategyFor resolves the shutdown/retry strategy for a message type,
// falling back to the configured default.
func (c *Config) strategyFor(msgType string) Strategy {
	if s, ok := c.typeStrategies[msgType]; ok {
		return s
	}
	return c.defaultStrategy
}

// WithContext sets the base context for the client/server and everything it
// spawns. Useful for cancellation or shared tracing.
func WithContext(ctx context.Context) Option {
	return func(c *Config) {
		if ctx != nil {
			c.ctx, c.cancel = context.WithCancel(ctx)
		}
	}
}

// WithSerializer overrides the default JSON serializer. Host and worker
// must agree; a mismatch is reported as SerializerMismatch at worker
// startup.
func WithSerializer(s Serializer) Option {
	return func(c *Config) {
		if s != nil {
			c.serializer = s
		}
	}
}

// WithTxGenerator overrides the default transaction id generator.
func WithTxGenerator(g TxGenerator) Option {
	return func(c *Config) {
		if g != nil {
			c.txGen = g
		}
	}
}

// WithLogger overrides the structured logger used for every "logged, not
// fatal" event: dropped unknown-tx responses, failed middleware/handlers/
// listeners, discarded parse errors.
func WithLogger(l *logrus.Entry) Option {
	return func(c *Config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics sets a custom metrics implementation for tracking connection
// statistics. If not provided, an atomic-counter default is used.
func WithMetrics(m Metrics) Option {
	return func(c *Config) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithMiddleware appends a frame middleware, applied exactly once per frame
// in registration order.
func WithMiddleware(m Middleware) Option {
	return func(c *Config) {
		if m != nil {
			c.middlewares = append(c.middlewares, m)
		}
	}
}

// WithConnectRetry sets the bounded connect-retry attempt count and the
// per-attempt deadline.
func WithConnectRetry(attempts int, attemptTimeout time.Duration) Option {
	return func(c *Config) {
		if attempts > 0 {
			c.connectAttempts = attempts
		}
		if attemptTimeout > 0 {
			c.attemptTimeout = attemptTimeout
		}
	}
}

// WithConnectBackoff overrides the delay schedule between connect attempts.
func WithConnectBackoff(b BackoffSchedule) Option {
	return func(c *Config) {
		if b != nil {
			c.backoff = b
		}
	}
}

// WithTimeout sets the effective timeout for a specific message type (or
// the WORKER_MESSAGE/WORKER_STARTUP/SERVER_CONNECT lifecycle keys).
func WithTimeout(msgType string, d time.Duration) Option {
	return func(c *Config) {
		if d <= 0 {
			return
		}
		switch msgType {
		case timeoutKeyStartup:
			c.startupTimeout = d
		case timeoutKeyServerConnect:
			c.serverConnect = d
		default:
			c.timeouts[msgType] = d
		}
	}
}

// WithTimeouts sets several message-type timeouts at once.
func WithTimeouts(table map[string]time.Duration) Option {
	return func(c *Config) {
		for t, d := range table {
			WithTimeout(t, d)(c)
		}
	}
}

// WithCloseGrace sets how long Close waits for a graceful shutdown before
// force-closing the connection / killing the worker.
func WithCloseGrace(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.closeGrace = d
		}
	}
}

// WithAcceptRetry sets the retry backoff schedule a worker's accept loop
// uses when it rides out a Temporary Accept error.
func WithAcceptRetry(floor, ceiling time.Duration) Option {
	return func(c *Config) {
		if floor > 0 {
			c.acceptRetryFloor = floor
		}
		if ceiling > 0 {
			c.acceptRetryCeiling = ceiling
		}
	}
}

// WithDefaultStrategy sets the shutdown/retry policy applied to message
// types without a more specific entry.
func WithDefaultStrategy(s Strategy) Option {
	return func(c *Config) { c.defaultStrategy = s }
}

// WithStrategy overrides the shutdown/retry policy for one message type.
func WithStrategy(msgType string, s Strategy) Option {
	return func(c *Config) {
		if c.typeStrategies == nil {
			c.typeStrategies = map[string]Strategy{}
		}
		c.typeStrategies[msgType] = s
	}
}

// WithMaxRespawnsPerSession bounds the number of worker respawns the retry
// policy engine will perform across the whole client lifetime, regardless
// of per-type attempt budgets. 0 (the default) means unbounded.
func WithMaxRespawnsPerSession(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.maxRespawnsSession = n
		}
	}
}
