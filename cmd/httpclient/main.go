// httpclient is a simple HTTP command line client.
//
// Usage:
//
//   httpclient [-ca bundle.pem] [-http2] [-force-https] [-sni name]
//              [-proxy socks5://host:port] [-json] [-v] URL
//
//   httpclient -help
//
// We print the response status, headers, and body on the stdout. Use
// -v to see the network events emitted while fetching, or -json to
// emit them as JSON lines.
//
// Examples:
//
//   ./httpclient https://www.example.com/
//   ./httpclient -http2 https://www.example.com/
//   ./httpclient -ca cert.pem -sni localhost https://127.0.0.1:1337/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/m-lab/go/rtx"
	"github.com/ooni/maybetls"
	"github.com/ooni/maybetls/cmd/common"
	"github.com/ooni/maybetls/httpx"
	"github.com/ooni/maybetls/internal/socks5"
)

var (
	flagCA         = flag.String("ca", "", "Optional PEM CA bundle")
	flagForceHTTPS = flag.Bool("force-https", false, "Refuse plaintext URLs")
	flagHTTP2      = flag.Bool("http2", false, "Use HTTP/2")
	flagProxy      = flag.String("proxy", "", "Optional socks5:// proxy URL")
	flagSNI        = flag.String("sni", "", "Force specific server name")
)

func main() {
	flag.Parse()
	common.SetupLogging()
	err := mainfunc(context.Background(), flag.Args(), os.Stdout)
	rtx.Must(err, "mainfunc failed")
}

func mainfunc(ctx context.Context, args []string, w io.Writer) error {
	if *common.FlagHelp {
		flag.CommandLine.SetOutput(w)
		fmt.Fprintf(w, "Usage: httpclient [flags] URL\n")
		flag.PrintDefaults()
		fmt.Fprintf(w, "\nExamples:\n")
		fmt.Fprintf(w, "%s\n", "  ./httpclient https://www.example.com/")
		fmt.Fprintf(w, "%s\n", "  ./httpclient -http2 https://www.example.com/")
		fmt.Fprintf(w, "%s\n", "  ./httpclient -ca cert.pem -sni localhost https://127.0.0.1:1337/")
		return nil
	}
	if len(args) != 1 {
		return errors.New("expected a single URL argument")
	}
	nextProtos := []string{"http/1.1"}
	if *flagHTTP2 {
		nextProtos = []string{"h2"}
	}
	config, sink, err := common.NewClientTLSConfig(*flagCA, nextProtos)
	if err != nil {
		return err
	}
	defer sink.Close()
	connector := maybetls.NewConnector(config)
	connector.HTTPSOnly(*flagForceHTTPS)
	connector.SetHandler(common.NewHandler())
	if *flagProxy != "" {
		proxyURL, err := url.Parse(*flagProxy)
		if err != nil {
			return err
		}
		connector.SetTransport(&socks5.Transport{ProxyURL: proxyURL})
	}
	if *flagSNI != "" {
		connector.SetServerNameResolver(maybetls.FixedServerName(*flagSNI))
	}
	transport := httpx.NewTransport(connector)
	if *flagHTTP2 {
		transport = httpx.NewHTTP2Transport(connector)
	}
	client := httpx.NewClient(transport)
	defer client.CloseIdleConnections()
	return fetch(ctx, client.HTTPClient, args[0], w)
}

func fetch(ctx context.Context, client *http.Client, URL string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, "GET", URL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	fmt.Fprintf(w, "%s %s\n", resp.Proto, resp.Status)
	if err := resp.Header.Write(w); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n")
	_, err = io.Copy(w, resp.Body)
	return err
}
