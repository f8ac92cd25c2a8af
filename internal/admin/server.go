// Package admin implements the gateway's TCP control-plane: a
// newline-delimited text protocol re-exposing the routes, registry and
// plugin-status part of the surface the teacher ships as an HTTP admin API
// as line-protocol verbs instead (there is no health or stats verb),
// plus the config-reload, plugin-lifecycle, token-issuing and
// config-lock commands the gateway needs that have no teacher analog.
package admin

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/wudi/gateway/internal/logging"
	"github.com/wudi/gateway/internal/sharedctx"
)

// TokenIssuer signs bearer tokens for userGenToken/appGenToken.
type TokenIssuer interface {
	IssueToken(identity *sharedctx.Identity) (string, error)
}

// ConfigManager answers showConfig and drives configReload.
type ConfigManager interface {
	ShowConfig() (string, error)
	Reload() error
	Validate() error
}

// RulesManager answers showRules.
type RulesManager interface {
	ShowRules() (string, error)
}

// RouteLister answers routes and nodeInfo.
type RouteLister interface {
	Routes() (string, error)
	NodeInfo(routeOrTable, routeType string) (string, bool)
}

// PluginController backs load/unload/reload/reloadall/listPlugins.
type PluginController interface {
	Load(name string) error
	Unload(name string) error
	Reload(name string) error
	ReloadAll() error
	List() []string
}

// ActionLister answers listActions.
type ActionLister interface {
	Names() []string
}

// RequestLogLookup answers requestLog <id>.
type RequestLogLookup interface {
	RequestLog(id string) (string, bool)
}

// LockManager backs unlock/permalock/listlocks, operating config-lock
// keys on a dedicated (non-pubsub) Redis connection.
type LockManager interface {
	Unlock(file string) error
	Permalock(file, user string) error
	ListLocks() (string, error)
}

// Shutdowner is invoked by the shutdown command.
type Shutdowner interface {
	Shutdown()
}

// Server is the TCP admin listener. Every dependency is optional: a
// command whose backing interface is nil reports "unavailable" instead
// of panicking, so a gateway can run the admin server before every
// subsystem is wired up (e.g. in tests).
type Server struct {
	Version string

	Config     ConfigManager
	Rules      RulesManager
	Routes     RouteLister
	Plugins    PluginController
	Actions    ActionLister
	RequestLog RequestLogLookup
	Locks      LockManager
	Tokens     TokenIssuer
	Proc       Shutdowner

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// New builds an admin Server. Assign the exported dependency fields
// before calling Serve.
func New(version string) *Server {
	return &Server{Version: version}
}

// Serve accepts connections on ln until it's closed, handling each on its
// own goroutine. It blocks until ln.Accept returns a permanent error
// (typically from Close).
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if strings.Contains(err.Error(), "use of closed network connection") {
				s.wg.Wait()
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		reply := s.dispatch(line)
		if _, err := io.WriteString(conn, reply+"\n"); err != nil {
			logging.Warn("admin: write failed", zap.Error(err))
			return
		}
		if line == "exit" {
			return
		}
	}
}

func (s *Server) dispatch(line string) string {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "version":
		return s.Version
	case "help":
		return helpText
	case "exit":
		return "bye"
	case "shutdown":
		return s.cmdShutdown()
	case "userGenToken":
		return s.cmdGenToken(args, "user")
	case "appGenToken":
		return s.cmdGenToken(args, "app")
	case "showConfig":
		return s.cmdShowConfig()
	case "showRules":
		return s.cmdShowRules()
	case "nodeInfo":
		return s.cmdNodeInfo(args)
	case "configReload":
		return s.cmdConfigReload()
	case "validate-config":
		return s.cmdValidateConfig()
	case "load", "unload", "reload":
		return s.cmdPlugin(cmd, args)
	case "reloadall":
		return s.cmdReloadAll()
	case "list", "listPlugins":
		return s.cmdListPlugins()
	case "listActions":
		return s.cmdListActions()
	case "routes":
		return s.cmdRoutes()
	case "requestLog":
		return s.cmdRequestLog(args)
	case "unlock":
		return s.cmdUnlock(args)
	case "permalock":
		return s.cmdPermalock(args)
	case "listlocks":
		return s.cmdListLocks()
	default:
		return fmt.Sprintf("ERR unknown command %q", cmd)
	}
}

const helpText = `commands: version shutdown userGenToken appGenToken showConfig showRules ` +
	`nodeInfo configReload load unload reload reloadall list listPlugins listActions ` +
	`routes requestLog validate-config unlock permalock listlocks help exit`
