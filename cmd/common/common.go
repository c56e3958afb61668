// Package common contains code shared by the commands.
package common

import (
	"crypto/tls"
	"crypto/x509"
	"flag"
	"io"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/ooni/maybetls/handlers"
	"github.com/ooni/maybetls/handlers/logger"
	"github.com/ooni/maybetls/internal/keylog"
	"github.com/ooni/maybetls/internal/tlsconf"
	"github.com/ooni/maybetls/model"
)

// FlagHelp is used to request the help screen
var FlagHelp = flag.Bool("help", false, "Print usage")

// FlagJSON is used to emit events as JSONL on the stdout
var FlagJSON = flag.Bool("json", false, "Emit events as JSON lines on the stdout")

// FlagVerbose is used to request debug messages
var FlagVerbose = flag.Bool("v", false, "Emit debug messages")

// SetupLogging configures apex/log for the command line.
func SetupLogging() {
	log.SetHandler(cli.Default)
	if *FlagVerbose {
		log.SetLevel(log.DebugLevel)
	}
}

// NewHandler returns the handler for network events selected
// by the command line flags.
func NewHandler() model.Handler {
	if *FlagJSON {
		return handlers.StdoutHandler
	}
	return logger.NewHandler(log.Log)
}

// NewClientTLSConfig creates the client TLS configuration. When caFile
// is empty we use the system roots. Key material is logged to the file
// named by SSLKEYLOGFILE, if set. Close the sink when done.
func NewClientTLSConfig(caFile string, nextProtos []string) (*tls.Config, *keylog.Sink, error) {
	var pool *x509.CertPool
	if caFile != "" {
		var err error
		pool, err = tlsconf.LoadCABundle(caFile)
		if err != nil {
			return nil, nil, err
		}
	}
	sink, err := keylog.FromEnv()
	if err != nil {
		return nil, nil, err
	}
	return tlsconf.NewClientConfig(pool, nextProtos, keyLogWriter(sink)), sink, nil
}

// NewServerTLSConfig is like NewClientTLSConfig but for servers.
func NewServerTLSConfig(certFile, keyFile string) (*tls.Config, *keylog.Sink, error) {
	cert, err := tlsconf.LoadKeyPair(certFile, keyFile)
	if err != nil {
		return nil, nil, err
	}
	sink, err := keylog.FromEnv()
	if err != nil {
		return nil, nil, err
	}
	config, err := tlsconf.NewServerConfig([]tls.Certificate{cert}, nil, keyLogWriter(sink))
	if err != nil {
		sink.Close()
		return nil, nil, err
	}
	return config, sink, nil
}

// keyLogWriter avoids storing a typed nil inside KeyLogWriter.
func keyLogWriter(sink *keylog.Sink) io.Writer {
	if sink == nil {
		return nil
	}
	return sink
}

type multiHandler []model.Handler

func (hs multiHandler) OnMeasurement(m model.Measurement) {
	for _, h := range hs {
		h.OnMeasurement(m)
	}
}

// Handlers returns a model.Handler forwarding to all hs.
func Handlers(hs ...model.Handler) model.Handler {
	return multiHandler(hs)
}
