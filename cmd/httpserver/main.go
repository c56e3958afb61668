// httpserver is a simple HTTPS server.
//
// Usage:
//
//   httpserver [-address 127.0.0.1:1337] -cert cert.pem -key key.pem
//              [-metrics 127.0.0.1:9090] [-v]
//
//   httpserver -help
//
// The server negotiates either HTTP/2 or HTTP/1.1. GET / returns a
// short help message and POST /echo echoes the request body. When
// -metrics is set, we expose Prometheus metrics on such address.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"

	"github.com/apex/log"
	"github.com/m-lab/go/rtx"
	"github.com/ooni/maybetls"
	"github.com/ooni/maybetls/cmd/common"
	"github.com/ooni/maybetls/handlers/metrics"
	"github.com/ooni/maybetls/httpx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	flagAddress = flag.String("address", "127.0.0.1:1337", "Address to listen on")
	flagCert    = flag.String("cert", "", "PEM certificate file")
	flagKey     = flag.String("key", "", "PEM private key file")
	flagMetrics = flag.String("metrics", "", "Optional address for serving metrics")
)

func main() {
	flag.Parse()
	common.SetupLogging()
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	err := mainfunc(ctx, os.Stdout, func(net.Addr) {})
	rtx.Must(err, "mainfunc failed")
}

func newHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" || r.Method != "GET" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("Try POST /echo\n"))
	})
	mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			http.NotFound(w, r)
			return
		}
		if _, err := io.Copy(w, r.Body); err != nil {
			log.WithError(err).Debug("httpserver: echo failed")
		}
	})
	return mux
}

func mainfunc(ctx context.Context, w io.Writer, ready func(net.Addr)) error {
	if *common.FlagHelp {
		flag.CommandLine.SetOutput(w)
		fmt.Fprintf(w, "Usage: httpserver [flags]\n")
		flag.PrintDefaults()
		return nil
	}
	if *flagCert == "" || *flagKey == "" {
		return errors.New("both -cert and -key are required")
	}
	config, sink, err := common.NewServerTLSConfig(*flagCert, *flagKey)
	if err != nil {
		return err
	}
	defer sink.Close()
	handler := common.NewHandler()
	if *flagMetrics != "" {
		reg := prometheus.NewRegistry()
		handler = common.Handlers(handler, metrics.New(reg))
		listener, err := net.Listen("tcp", *flagMetrics)
		if err != nil {
			return err
		}
		msrv := &http.Server{Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go msrv.Serve(listener)
		defer msrv.Close()
		log.Infof("Serving metrics on http://%s/", listener.Addr())
	}
	a, err := maybetls.Listen(ctx, *flagAddress, config, handler)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Starting to serve on https://%s.\n", a.Addr())
	ready(a.Addr())
	srv := &httpx.Server{Handler: newHandler(), Logger: log.Log}
	err = srv.Serve(ctx, a)
	if ctx.Err() != nil && httpx.IsClosed(err) {
		return nil
	}
	return err
}
