package tlsstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"runtime"
	"syscall"
	"testing"
	"time"

	"github.com/ooni/maybetls/internal/handlers/savinghandler"
	"github.com/ooni/maybetls/internal/memconn"
	"github.com/ooni/maybetls/internal/mocks"
	"github.com/ooni/maybetls/internal/testingx"
	"github.com/ooni/maybetls/internal/tlssession"
	"github.com/ooni/maybetls/model"
)

type pair struct {
	client        *Conn
	server        *Conn
	clientRaw     *memconn.Conn
	serverRaw     *memconn.Conn
	clientHandler *savinghandler.Handler
	serverHandler *savinghandler.Handler
}

func (p *pair) Close() {
	p.client.Close()
	p.server.Close()
}

func newPair(capacity int, clientConfig, serverConfig *tls.Config) *pair {
	p := &pair{
		clientHandler: new(savinghandler.Handler),
		serverHandler: new(savinghandler.Handler),
	}
	p.clientRaw, p.serverRaw = memconn.Pipe(capacity)
	p.client = New(p.clientRaw, tlssession.NewClient(clientConfig, "example.com"), Config{
		ConnID:     1,
		Handler:    p.clientHandler,
		NextProtos: clientConfig.NextProtos,
		Role:       "client",
		ServerName: "example.com",
	})
	p.server = New(p.serverRaw, tlssession.NewServer(serverConfig), Config{
		ConnID:  2,
		Handler: p.serverHandler,
		Role:    "server",
	})
	return p
}

func newDefaultPair(capacity int) *pair {
	authority := testingx.MustNewAuthority()
	return newPair(capacity, authority.ClientConfig("h2"), authority.ServerConfig("h2"))
}

func tolerate(t *testing.T, err error) {
	if err != nil && !model.IsWouldBlock(err) {
		t.Fatal(err)
	}
}

func handshake(t *testing.T, p *pair) {
	for i := 0; i < 128; i++ {
		cerr := p.client.Handshake()
		serr := p.server.Handshake()
		tolerate(t, cerr)
		tolerate(t, serr)
		if cerr == nil && serr == nil {
			return
		}
	}
	t.Fatal("the handshake did not complete")
}

// transfer moves payload from one side to the other driving both of them
// from a single goroutine, like a cooperative scheduler would do.
func transfer(t *testing.T, from, to *Conn, payload []byte) []byte {
	var (
		got     []byte
		written int
	)
	buf := make([]byte, 4096)
	for i := 0; i < 1<<16 && len(got) < len(payload); i++ {
		if written < len(payload) {
			n, err := from.Write(payload[written:])
			tolerate(t, err)
			written += n
		} else {
			tolerate(t, from.Flush())
		}
		n, err := to.Read(buf)
		tolerate(t, err)
		got = append(got, buf[:n]...)
	}
	return got
}

func TestUnitNoBytesBeforeFirstUse(t *testing.T) {
	p := newDefaultPair(0)
	defer p.Close()
	if p.client.State() != Handshaking {
		t.Fatal("expected to be handshaking")
	}
	if err := p.client.Flush(); err != nil {
		t.Fatal("flush should be a no-op while handshaking")
	}
	if err := p.client.Shutdown(); err != nil {
		t.Fatal("shutdown should be a no-op while handshaking")
	}
	if p.clientRaw.BytesWritten() != 0 {
		t.Fatal("no byte should have been written")
	}
	if len(p.clientHandler.Measurements()) != 0 {
		t.Fatal("no event should have been emitted")
	}
	_, err := p.client.Read(make([]byte, 128))
	interest, ok := model.WouldBlockInterest(err)
	if !ok || interest != model.Readable {
		t.Fatalf("unexpected result: %+v", err)
	}
	if p.clientRaw.BytesWritten() <= 0 {
		t.Fatal("the ClientHello should have been written")
	}
}

func TestUnitRoundTrip(t *testing.T) {
	for _, size := range []int{1, 16<<10 + 1, 200 << 10} {
		p := newDefaultPair(4096)
		payload := bytes.Repeat([]byte("0123456789abcdef"), size/16+1)[:size]
		if got := transfer(t, p.client, p.server, payload); !bytes.Equal(got, payload) {
			t.Fatalf("client to server: corrupted data with size %d", size)
		}
		if got := transfer(t, p.server, p.client, payload); !bytes.Equal(got, payload) {
			t.Fatalf("server to client: corrupted data with size %d", size)
		}
		p.Close()
	}
}

func TestUnitZeroLengthBuffers(t *testing.T) {
	p := newDefaultPair(0)
	defer p.Close()
	if n, err := p.client.Read(nil); n != 0 || err != nil {
		t.Fatal("expected (0, nil)")
	}
	if n, err := p.client.Write(nil); n != 0 || err != nil {
		t.Fatal("expected (0, nil)")
	}
	if p.clientRaw.BytesWritten() != 0 {
		t.Fatal("zero-length buffers should not drive the handshake")
	}
}

func TestUnitZeroLengthBuffersWhenEstablished(t *testing.T) {
	p := newDefaultPair(4096)
	defer p.Close()
	handshake(t, p)
	tolerate(t, p.client.Flush())
	tolerate(t, p.server.Flush())
	clientWritten := p.clientRaw.BytesWritten()
	serverWritten := p.serverRaw.BytesWritten()
	if n, err := p.client.Write(nil); n != 0 || err != nil {
		t.Fatal("expected (0, nil)", n, err)
	}
	if n, err := p.server.Write([]byte{}); n != 0 || err != nil {
		t.Fatal("expected (0, nil)", n, err)
	}
	if n, err := p.client.Read(nil); n != 0 || err != nil {
		t.Fatal("expected (0, nil)", n, err)
	}
	if n, err := p.server.Read([]byte{}); n != 0 || err != nil {
		t.Fatal("expected (0, nil)", n, err)
	}
	tolerate(t, p.client.Flush())
	tolerate(t, p.server.Flush())
	if p.clientRaw.BytesWritten() != clientWritten {
		t.Fatal("the client emitted a record for an empty write")
	}
	if p.serverRaw.BytesWritten() != serverWritten {
		t.Fatal("the server emitted a record for an empty write")
	}
	if p.client.State() != Established || p.server.State() != Established {
		t.Fatal("expected both sides to stay established")
	}
}

func TestUnitDroppedConnStopsSession(t *testing.T) {
	baseline := runtime.NumGoroutine()
	func() {
		for i := 0; i < 8; i++ {
			p := newDefaultPair(4096)
			handshake(t, p)
		}
	}()
	if runtime.NumGoroutine() < baseline+8 {
		t.Fatal("expected the sessions to be running")
	}
	deadline := time.Now().Add(10 * time.Second)
	for runtime.NumGoroutine() > baseline+1 {
		if time.Now().After(deadline) {
			t.Fatal("sessions still running", runtime.NumGoroutine(), baseline)
		}
		runtime.GC()
		time.Sleep(10 * time.Millisecond)
	}
}

func TestUnitHandshakeHappensOnce(t *testing.T) {
	p := newDefaultPair(0)
	defer p.Close()
	for i := 0; i < 4; i++ {
		payload := []byte("hello, world")
		if got := transfer(t, p.client, p.server, payload); !bytes.Equal(got, payload) {
			t.Fatal("corrupted data")
		}
		if got := transfer(t, p.server, p.client, payload); !bytes.Equal(got, payload) {
			t.Fatal("corrupted data")
		}
	}
	if p.client.Handshakes() != 1 || p.server.Handshakes() != 1 {
		t.Fatal("expected exactly one handshake per side")
	}
	if p.client.State() != Established || p.server.State() != Established {
		t.Fatal("expected to be established")
	}
	done := p.clientHandler.TLSHandshakeDone()
	if len(done) != 1 {
		t.Fatal("expected a single handshake done event")
	}
	if done[0].Error != nil || done[0].ConnID != 1 || done[0].Role != "client" {
		t.Fatal("unexpected handshake done event")
	}
	if done[0].ConnectionState.NegotiatedProtocol != "h2" {
		t.Fatal("unexpected negotiated protocol")
	}
	if len(done[0].ConnectionState.PeerCertificates) != 1 {
		t.Fatal("unexpected peer certificates")
	}
	if p.server.ConnectionState().NegotiatedProtocol != "h2" {
		t.Fatal("unexpected server connection state")
	}
}

func TestUnitTransportEOFAfterHandshake(t *testing.T) {
	p := newDefaultPair(0)
	defer p.Close()
	handshake(t, p)
	if err := p.clientRaw.CloseWrite(); err != nil {
		t.Fatal(err)
	}
	n, err := p.server.Read(make([]byte, 128))
	if n != 0 || err != io.EOF {
		t.Fatalf("expected EOF, got (%d, %+v)", n, err)
	}
}

func TestUnitShutdownIsEOF(t *testing.T) {
	p := newDefaultPair(0)
	defer p.Close()
	handshake(t, p)
	if err := p.client.Shutdown(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 8; i++ {
		_, err := p.server.Read(make([]byte, 128))
		if err == io.EOF {
			return
		}
		tolerate(t, err)
	}
	t.Fatal("expected EOF")
}

func TestUnitHandshakeFailure(t *testing.T) {
	authority := testingx.MustNewAuthority()
	other := testingx.MustNewAuthority()
	p := newPair(0, other.ClientConfig(), authority.ServerConfig())
	defer p.Close()
	var err error
	for i := 0; i < 32; i++ {
		if err = p.client.Handshake(); err != nil && !model.IsWouldBlock(err) {
			break
		}
		p.server.Handshake()
	}
	if !errors.Is(err, model.ErrConnectionAborted) {
		t.Fatalf("expected a protocol error, got %+v", err)
	}
	var verr *tls.CertificateVerificationError
	if !errors.As(err, &verr) {
		t.Fatal("the engine error is not reachable")
	}
	var uerr x509.UnknownAuthorityError
	if !errors.As(err, &uerr) {
		t.Fatal("expected an unknown authority error")
	}
	if model.KindOf(err) != model.ErrorKindProtocol {
		t.Fatal("unexpected error kind")
	}
	if err.Error() != "ssl_unknown_authority" {
		t.Fatal("unexpected failure string")
	}
	if _, rerr := p.client.Read(make([]byte, 1)); rerr != err {
		t.Fatal("the error is not sticky")
	}
	if p.client.Handshakes() != 0 {
		t.Fatal("unexpected number of handshakes")
	}
	done := p.clientHandler.TLSHandshakeDone()
	if len(done) != 1 || done[0].Error == nil {
		t.Fatal("expected a failed handshake done event")
	}
}

func TestUnitHandshakeUnexpectedEOF(t *testing.T) {
	p := newDefaultPair(0)
	defer p.Close()
	tolerate(t, p.client.Handshake())
	p.serverRaw.Close()
	err := p.client.Handshake()
	for model.IsWouldBlock(err) {
		err = p.client.Handshake()
	}
	if !errors.Is(err, model.ErrConnectionAborted) || !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("unexpected error: %+v", err)
	}
}

func newMockedSession() *mocks.Session {
	return &mocks.Session{
		MockWantsRead:      func() bool { return true },
		MockWantsWrite:     func() bool { return false },
		MockIsHandshaking:  func() bool { return true },
		MockErr:            func() error { return nil },
		MockClose:          func() error { return nil },
		MockReadPlaintext:  func(p []byte) (int, error) { return 0, model.WouldBlock(model.Readable) },
		MockWritePlaintext: func(p []byte) (int, error) { return 0, nil },
		MockReadCiphertextFrom: func(r io.Reader) (int, error) {
			return r.Read(make([]byte, 1024))
		},
		MockWriteCiphertextTo: func(w io.Writer) (int, error) {
			return w.Write([]byte("hello"))
		},
	}
}

func TestUnitTransportErrorIsVerbatim(t *testing.T) {
	expected := &net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET}
	conn := &mocks.Conn{
		MockRead: func(b []byte) (int, error) {
			return 0, expected
		},
		MockClose: func() error {
			return nil
		},
	}
	c := New(conn, newMockedSession(), Config{})
	defer c.Close()
	if err := c.Handshake(); err != expected {
		t.Fatalf("expected the transport error verbatim, got %+v", err)
	}
	if _, err := c.Write([]byte("abc")); err != expected {
		t.Fatal("the error is not sticky")
	}
	if model.KindOf(expected) != 0 {
		t.Fatal("the transport error should not have been classified")
	}
}

func TestUnitZeroProgressWriteIsPending(t *testing.T) {
	var writes int
	conn := &mocks.Conn{
		MockRead: func(b []byte) (int, error) {
			return 0, model.WouldBlock(model.Readable)
		},
		MockWrite: func(b []byte) (int, error) {
			writes++
			return 0, nil
		},
		MockClose: func() error {
			return nil
		},
	}
	session := newMockedSession()
	session.MockWantsWrite = func() bool { return true }
	c := New(conn, session, Config{})
	defer c.Close()
	err := c.Handshake()
	interest, ok := model.WouldBlockInterest(err)
	if !ok || interest != model.Writable {
		t.Fatalf("unexpected result: %+v", err)
	}
	if writes != 1 {
		t.Fatal("the pump should have stopped after no progress")
	}
}

func TestUnitZeroProgressReadIsPending(t *testing.T) {
	conn := &mocks.Conn{
		MockRead: func(b []byte) (int, error) {
			return 0, nil
		},
		MockClose: func() error {
			return nil
		},
	}
	c := New(conn, newMockedSession(), Config{})
	defer c.Close()
	err := c.Handshake()
	interest, ok := model.WouldBlockInterest(err)
	if !ok || interest != model.Readable {
		t.Fatalf("unexpected result: %+v", err)
	}
}

func TestUnitClose(t *testing.T) {
	p := newDefaultPair(0)
	handshake(t, p)
	p.Close()
	if _, err := p.client.Read(make([]byte, 1)); !errors.Is(err, net.ErrClosed) {
		t.Fatal("expected a closed error")
	}
	if _, err := p.client.Write([]byte("abc")); !errors.Is(err, net.ErrClosed) {
		t.Fatal("expected a closed error")
	}
}

func TestUnitWait(t *testing.T) {
	p := newDefaultPair(0)
	defer p.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.server.Wait(ctx, model.Readable); !errors.Is(err, context.Canceled) {
		t.Fatal("expected the context error")
	}
	if err := p.client.Wait(context.Background(), model.Writable); err != nil {
		t.Fatal(err)
	}
	if p.client.LocalAddr().String() != "client" || p.client.RemoteAddr().String() != "server" {
		t.Fatal("unexpected addresses")
	}
}
