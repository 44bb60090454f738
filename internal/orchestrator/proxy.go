package orchestrator

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/archivore/mirror/internal/config"
)

const sessionTokenPlaceholder = "session-<hex>"

// ProxyRotator hands out *fasthttp.Client values for successive pages,
// rotating through a configured proxy list: stable
// session by default, advance every RotateEvery pages when stable
// sessions are off, and substitute a fresh session token per page when
// RotateSession is enabled.
type ProxyRotator struct {
	mu      sync.Mutex
	entries []config.ProxyEntry
	cfg     config.ProxiesConfig
	index   int
	served  int
}

// NewProxyRotator builds a rotator over cfg's proxy list. An empty list is
// valid: Next always returns nil, meaning "use the default transport".
func NewProxyRotator(cfg config.ProxiesConfig) *ProxyRotator {
	return &ProxyRotator{entries: cfg.Proxies, cfg: cfg}
}

// Next returns the client to use for the next page, advancing internal
// rotation state. Returns nil when no proxies are configured.
func (r *ProxyRotator) Next() *fasthttp.Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) == 0 {
		return nil
	}

	entry := r.entries[r.index%len(r.entries)]
	r.served++

	if !r.cfg.StableSession && r.cfg.RotateEvery > 0 && r.served%r.cfg.RotateEvery == 0 {
		r.index++
	}

	username := entry.Username
	if r.cfg.RotateSession && strings.Contains(username, sessionTokenPlaceholder) {
		username = strings.ReplaceAll(username, sessionTokenPlaceholder, "session-"+randomHex(8))
	}

	return &fasthttp.Client{
		Dial:         connectProxyDialer(entry.Server, username, entry.Password),
		ReadTimeout:  20 * time.Second,
		WriteTimeout: 20 * time.Second,
	}
}

// connectProxyDialer returns a fasthttp.DialFunc that opens a TCP
// connection to proxyAddr and tunnels to the requested addr with an HTTP
// CONNECT request, attaching Proxy-Authorization when credentials are set.
func connectProxyDialer(proxyAddr, username, password string) fasthttp.DialFunc {
	return func(addr string) (net.Conn, error) {
		conn, err := net.DialTimeout("tcp", proxyAddr, 10*time.Second)
		if err != nil {
			return nil, fmt.Errorf("dialing proxy %s: %w", proxyAddr, err)
		}

		var authHeader string
		if username != "" {
			auth := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
			authHeader = "Proxy-Authorization: Basic " + auth + "\r\n"
		}

		request := "CONNECT " + addr + " HTTP/1.1\r\nHost: " + addr + "\r\n" + authHeader + "\r\n"
		if _, err := conn.Write([]byte(request)); err != nil {
			conn.Close()
			return nil, fmt.Errorf("writing CONNECT request: %w", err)
		}

		resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("reading CONNECT response: %w", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			conn.Close()
			return nil, fmt.Errorf("proxy CONNECT to %s failed: %s", addr, resp.Status)
		}

		return conn, nil
	}
}

func randomHex(n int) string {
	buf := make([]byte, n/2+1)
	if _, err := rand.Read(buf); err != nil {
		return strings.Repeat("0", n)
	}
	return hex.EncodeToString(buf)[:n]
}
