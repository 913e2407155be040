package proxy

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startFakeSocks5 runs a loopback listener that answers the SOCKS5
// no-auth negotiation. When accept is false it replies with "no
// acceptable methods" instead.
func startFakeSocks5(t *testing.T, accept bool) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 3)
				if _, err := c.Read(buf); err != nil {
					return
				}
				if accept {
					c.Write([]byte{0x05, 0x00})
				} else {
					c.Write([]byte{0x05, 0xFF})
				}
			}(conn)
		}
	}()

	return ln.Addr().String()
}

func TestParseList(t *testing.T) {
	text := "# fetched 2024-03-01\n10.0.0.1:1080\n\n10.0.0.2:9050\nnot-an-address\n10.0.0.3\n"
	addrs := ParseList(text)
	assert.Equal(t, []string{"10.0.0.1:1080", "10.0.0.2:9050"}, addrs)
}

func TestParseListEmpty(t *testing.T) {
	assert.Empty(t, ParseList(""))
	assert.Empty(t, ParseList("# only comments\n"))
}

func TestRefreshKeepsOnlyWorkingProxies(t *testing.T) {
	good := startFakeSocks5(t, true)
	bad := startFakeSocks5(t, false)

	m := NewManager([]string{good, bad}, "")
	require.NoError(t, m.Refresh())

	assert.Equal(t, 1, m.Len())
	addr, ok := m.Current()
	assert.True(t, ok)
	assert.Equal(t, good, addr)
}

func TestRefreshFromListURL(t *testing.T) {
	good := startFakeSocks5(t, true)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "# pool\n%s\n", good)
	}))
	defer server.Close()

	m := NewManager(nil, server.URL)
	require.NoError(t, m.Refresh())

	addr, ok := m.Current()
	assert.True(t, ok)
	assert.Equal(t, good, addr)
}

func TestRefreshWithoutCandidates(t *testing.T) {
	m := NewManager(nil, "")
	err := m.Refresh()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no proxy addresses configured")
}

func TestMarkFailedRotates(t *testing.T) {
	first := startFakeSocks5(t, true)
	second := startFakeSocks5(t, true)

	m := NewManager([]string{first, second}, "")
	require.NoError(t, m.Refresh())
	require.Equal(t, 2, m.Len())

	addr, ok := m.Current()
	require.True(t, ok)

	m.MarkFailed(addr)
	next, ok := m.Current()
	assert.True(t, ok)
	assert.NotEqual(t, addr, next)

	m.MarkFailed(next)
	_, ok = m.Current()
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())
}

func TestMarkFailedUnknownAddr(t *testing.T) {
	good := startFakeSocks5(t, true)

	m := NewManager([]string{good}, "")
	require.NoError(t, m.Refresh())

	m.MarkFailed("192.0.2.1:1080")
	assert.Equal(t, 1, m.Len())
}

func TestCurrentBeforeRefresh(t *testing.T) {
	m := NewManager([]string{"127.0.0.1:1080"}, "")
	_, ok := m.Current()
	assert.False(t, ok)
}
