package detector

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"sync"
	"time"
)

// Proxy returns a forward HTTP proxy that observes every response whose
// headers arrive. CONNECT tunnels are relayed blind since their paths are
// encrypted. A nil transport uses http.DefaultTransport.
func (d *Detector) Proxy(transport http.RoundTripper) http.Handler {
	if transport == nil {
		transport = http.DefaultTransport
	}

	rp := &httputil.ReverseProxy{
		// Forward proxy requests already carry the absolute target URL.
		Rewrite:   func(pr *httputil.ProxyRequest) {},
		Transport: transport,
		ModifyResponse: func(resp *http.Response) error {
			d.Observe(resp.Request.URL.String())
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			d.logger.Warn("proxy request failed",
				slog.String("url", r.URL.String()),
				slog.Any("error", err))
			w.WriteHeader(http.StatusBadGateway)
		},
	}

	return &proxy{d: d, forward: rp}
}

type proxy struct {
	d       *Detector
	forward http.Handler
}

func (p *proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		p.tunnel(w, r)
		return
	}
	if !r.URL.IsAbs() {
		http.Error(w, "podcatch is a forward proxy; request an absolute URL", http.StatusBadRequest)
		return
	}
	p.forward.ServeHTTP(w, r)
}

func (p *proxy) tunnel(w http.ResponseWriter, r *http.Request) {
	upstream, err := net.DialTimeout("tcp", r.Host, 10*time.Second)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		upstream.Close()
		http.Error(w, "tunneling not supported", http.StatusInternalServerError)
		return
	}

	client, _, err := hijacker.Hijack()
	if err != nil {
		upstream.Close()
		p.d.logger.Warn("hijack failed", slog.String("host", r.Host), slog.Any("error", err))
		return
	}
	if _, err := io.WriteString(client, "HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		client.Close()
		upstream.Close()
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	relay := func(dst, src net.Conn) {
		defer wg.Done()
		io.Copy(dst, src)
		dst.Close()
	}
	go relay(upstream, client)
	go relay(client, upstream)
	wg.Wait()
}
