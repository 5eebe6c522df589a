package mongrel2

import (
	"context"
	"testing"
)

func TestTransportOption(t *testing.T) {
	tr := newFakeTransport()
	opt := TransportOption(tr)

	var opts options
	opt(&opts)

	if opts.transport != Transport(tr) {
		t.Error("transport not set correctly")
	}
}

func TestLoggerOption(t *testing.T) {
	logger := &mockLogger{}
	opt := LoggerOption(logger)

	var opts options
	opt(&opts)

	if opts.logger != Logger(logger) {
		t.Error("logger not set correctly")
	}
}

func TestRegistryOption(t *testing.T) {
	reg := NewRegistry()
	opt := RegistryOption(reg)

	var opts options
	opt(&opts)

	if opts.registry != reg {
		t.Error("registry not set correctly")
	}
}

func TestChrootResolverOption(t *testing.T) {
	opt := ChrootResolverOption(chrootMap{"a": "/srv"})

	var opts options
	opt(&opts)

	if opts.chroots == nil {
		t.Fatal("chroots is nil")
	}
	if got, _ := opts.chroots.ServerChroot(context.Background(), "a"); got != "/srv" {
		t.Errorf("ServerChroot = %q, want /srv", got)
	}
}

func TestCheckOptions(t *testing.T) {
	var opts options
	checkOptions(&opts)

	if _, ok := opts.transport.(ZMQTransport); !ok {
		t.Errorf("transport = %T, want ZMQTransport", opts.transport)
	}
	if opts.logger == nil {
		t.Error("logger should have default value")
	}
	if opts.registry != DefaultRegistry {
		t.Error("registry should default to DefaultRegistry")
	}
	if opts.chroots != nil {
		t.Error("chroots should stay unset")
	}
}

func TestCheckOptions_KeepsValues(t *testing.T) {
	tr := newFakeTransport()
	reg := NewRegistry()
	opts := options{transport: tr, registry: reg, logger: NopLogger{}}
	checkOptions(&opts)

	if opts.transport != Transport(tr) || opts.registry != reg {
		t.Error("checkOptions overwrote explicit values")
	}
	if _, ok := opts.logger.(NopLogger); !ok {
		t.Errorf("logger = %T, want NopLogger", opts.logger)
	}
}

func TestHandlerOptions(t *testing.T) {
	opts := defaultHandlerOptions()
	if !opts.signals {
		t.Error("signals should default to on")
	}

	for _, o := range []HandlerOption{
		SignalsOption(false),
		WatchFile("/etc/mongrel2/config.sqlite"),
		ConnectionOptions(RegistryOption(NewRegistry())),
		HandlerLoggerOption(NopLogger{}),
	} {
		o(&opts)
	}

	if opts.signals {
		t.Error("SignalsOption(false) not applied")
	}
	if len(opts.watch) != 1 || opts.watch[0] != "/etc/mongrel2/config.sqlite" {
		t.Errorf("watch = %v", opts.watch)
	}
	if len(opts.connOpts) != 1 {
		t.Errorf("connOpts = %d, want 1", len(opts.connOpts))
	}
	if opts.logger == nil {
		t.Error("logger not set")
	}
}

func TestNewHandler_InheritsConnectionLogger(t *testing.T) {
	logger := &mockLogger{}
	conn, _ := newTestConnection(t, LoggerOption(logger))
	h := NewHandler(conn)

	if h.logger != Logger(logger) {
		t.Error("handler did not inherit the connection logger")
	}
}
