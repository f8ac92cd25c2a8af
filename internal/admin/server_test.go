package admin

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/wudi/gateway/internal/sharedctx"
)

type fakeTokenIssuer struct{}

func (fakeTokenIssuer) IssueToken(identity *sharedctx.Identity) (string, error) {
	return "token-for-" + identity.Subject, nil
}

type fakeConfigManager struct {
	reloadErr error
	validErr  error
}

func (f *fakeConfigManager) ShowConfig() (string, error) { return `{"ok":true}`, nil }
func (f *fakeConfigManager) Reload() error               { return f.reloadErr }
func (f *fakeConfigManager) Validate() error             { return f.validErr }

type fakePluginController struct {
	loaded map[string]bool
}

func (f *fakePluginController) Load(name string) error   { f.loaded[name] = true; return nil }
func (f *fakePluginController) Unload(name string) error { delete(f.loaded, name); return nil }
func (f *fakePluginController) Reload(name string) error { return nil }
func (f *fakePluginController) ReloadAll() error         { return nil }
func (f *fakePluginController) List() []string {
	names := make([]string, 0, len(f.loaded))
	for n := range f.loaded {
		names = append(names, n)
	}
	return names
}

func newTestServer() (*Server, net.Conn) {
	s := New("1.2.3")
	s.Tokens = fakeTokenIssuer{}
	s.Config = &fakeConfigManager{}
	s.Plugins = &fakePluginController{loaded: map[string]bool{"widgets": true}}

	client, srv := net.Pipe()
	go s.handleConn(srv)
	return s, client
}

func sendLine(t *testing.T, conn net.Conn, line string) string {
	t.Helper()
	conn.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	reader := bufio.NewReader(conn)
	reply, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return strings.TrimSpace(reply)
}

func TestAdminVersion(t *testing.T) {
	_, conn := newTestServer()
	defer conn.Close()
	if got := sendLine(t, conn, "version"); got != "1.2.3" {
		t.Errorf("version = %q", got)
	}
}

func TestAdminUserGenToken(t *testing.T) {
	_, conn := newTestServer()
	defer conn.Close()
	got := sendLine(t, conn, "userGenToken alice admin,editor")
	if got != "token-for-alice" {
		t.Errorf("userGenToken = %q", got)
	}
}

func TestAdminShowConfig(t *testing.T) {
	_, conn := newTestServer()
	defer conn.Close()
	got := sendLine(t, conn, "showConfig")
	if got != `{"ok":true}` {
		t.Errorf("showConfig = %q", got)
	}
}

func TestAdminListPlugins(t *testing.T) {
	_, conn := newTestServer()
	defer conn.Close()
	got := sendLine(t, conn, "listPlugins")
	if got != "widgets" {
		t.Errorf("listPlugins = %q", got)
	}
}

func TestAdminLoadUnloadPlugin(t *testing.T) {
	s, conn := newTestServer()
	defer conn.Close()

	if got := sendLine(t, conn, "load gizmo"); got != "OK load gizmo" {
		t.Errorf("load = %q", got)
	}
	pc := s.Plugins.(*fakePluginController)
	if !pc.loaded["gizmo"] {
		t.Error("expected gizmo to be loaded")
	}

	if got := sendLine(t, conn, "unload gizmo"); got != "OK unload gizmo" {
		t.Errorf("unload = %q", got)
	}
	if pc.loaded["gizmo"] {
		t.Error("expected gizmo to be unloaded")
	}
}

func TestAdminUnknownCommand(t *testing.T) {
	_, conn := newTestServer()
	defer conn.Close()
	got := sendLine(t, conn, "bogus")
	if !strings.HasPrefix(got, "ERR") {
		t.Errorf("expected ERR prefix, got %q", got)
	}
}

func TestAdminUnavailableDependency(t *testing.T) {
	s := New("1.0.0")
	client, srv := net.Pipe()
	go s.handleConn(srv)
	defer client.Close()

	got := sendLine(t, client, "showRules")
	if !strings.Contains(got, "unavailable") {
		t.Errorf("expected unavailable error, got %q", got)
	}
}

func TestAdminExitClosesConnection(t *testing.T) {
	_, conn := newTestServer()
	defer conn.Close()
	got := sendLine(t, conn, "exit")
	if got != "bye" {
		t.Errorf("exit = %q", got)
	}
}

func TestServeAndClose(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := New("1.0.0")

	done := make(chan error, 1)
	go func() { done <- s.Serve(ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if got := sendLine(t, conn, "version"); got != "1.0.0" {
		t.Errorf("version = %q", got)
	}
	conn.Close()

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
}
