// dnsclient is a simple DNS over TLS command line client.
//
// Usage:
//
//   dnsclient [-server dot://1.1.1.1] [-sni name] [-ca bundle.pem] [-json] [-v] NAME...
//
//   dnsclient -help
//
// For each NAME we print a JSON line on the stdout with the IPv4
// and IPv6 addresses or with the failure.
//
// Examples:
//
//   ./dnsclient -server dot://1.1.1.1 -sni cloudflare-dns.com www.example.com
//   ./dnsclient -server dot://dns.quad9.net www.example.com
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/m-lab/go/rtx"
	"github.com/ooni/maybetls"
	"github.com/ooni/maybetls/cmd/common"
	"github.com/ooni/maybetls/internal/dot"
)

var (
	flagCA     = flag.String("ca", "", "Optional PEM CA bundle")
	flagServer = flag.String("server", "dot://1.1.1.1", "DNS over TLS server URL")
	flagSNI    = flag.String("sni", "", "Force specific server name")
)

func main() {
	flag.Parse()
	common.SetupLogging()
	err := mainfunc(context.Background(), flag.Args(), os.Stdout)
	rtx.Must(err, "mainfunc failed")
}

type result struct {
	Addresses []string `json:",omitempty"`
	Failure   string   `json:",omitempty"`
	Name      string
}

func mainfunc(ctx context.Context, args []string, w io.Writer) error {
	if *common.FlagHelp {
		flag.CommandLine.SetOutput(w)
		fmt.Fprintf(w, "Usage: dnsclient [flags] NAME...\n")
		flag.PrintDefaults()
		fmt.Fprintf(w, "\nExamples:\n")
		fmt.Fprintf(w, "%s\n", "  ./dnsclient -server dot://1.1.1.1 -sni cloudflare-dns.com www.example.com")
		fmt.Fprintf(w, "%s\n", "  ./dnsclient -server dot://dns.quad9.net www.example.com")
		return nil
	}
	if len(args) < 1 {
		return errors.New("expected at least a NAME argument")
	}
	server, err := url.Parse(*flagServer)
	if err != nil {
		return err
	}
	if server.Scheme != dot.Scheme {
		return fmt.Errorf("expected a %s:// server URL", dot.Scheme)
	}
	config, sink, err := common.NewClientTLSConfig(*flagCA, []string{})
	if err != nil {
		return err
	}
	defer sink.Close()
	connector := maybetls.NewConnector(config)
	connector.RegisterScheme(dot.Scheme, dot.Schemes()[dot.Scheme])
	connector.SetHandler(common.NewHandler())
	if *flagSNI != "" {
		connector.SetServerNameResolver(maybetls.FixedServerName(*flagSNI))
	}
	transport := dot.NewTransport(connector, server)
	var firstErr error
	encoder := json.NewEncoder(w)
	for _, name := range args {
		addrs, err := transport.LookupHost(ctx, name)
		r := result{Addresses: addrs, Name: name}
		if err != nil {
			r.Failure = err.Error()
			if firstErr == nil {
				firstErr = err
			}
		}
		if err := encoder.Encode(r); err != nil {
			return err
		}
	}
	return firstErr
}
