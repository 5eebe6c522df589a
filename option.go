package mongrel2

// options holds the configuration for a connection.
type options struct {
	transport Transport
	logger    Logger
	registry  *Registry
	chroots   ChrootResolver
}

// Option is a function that configures connection options.
type Option func(*options)

// TransportOption returns an Option that sets the message queue transport.
// If not set, ZeroMQ is used.
func TransportOption(t Transport) Option {
	return func(o *options) {
		o.transport = t
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// RegistryOption returns an Option that sets the registry requests are
// parsed with. If not set, DefaultRegistry is used.
func RegistryOption(r *Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}

// ChrootResolverOption returns an Option that sets how server chroots are
// found when binding asynchronous uploads. Without one, spool paths are used
// as the server reports them.
func ChrootResolverOption(r ChrootResolver) Option {
	return func(o *options) {
		o.chroots = r
	}
}

// checkOptions sets default values for connection options.
func checkOptions(opts *options) {
	if opts.transport == nil {
		opts.transport = ZMQTransport{}
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	if opts.registry == nil {
		opts.registry = DefaultRegistry
	}
}
