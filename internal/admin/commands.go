package admin

import (
	"fmt"
	"strings"

	"github.com/wudi/gateway/internal/sharedctx"
)

func (s *Server) cmdShutdown() string {
	if s.Proc == nil {
		return "ERR shutdown unavailable"
	}
	go s.Proc.Shutdown()
	return "OK shutting down"
}

func (s *Server) cmdGenToken(args []string, kind string) string {
	if s.Tokens == nil {
		return "ERR token issuer unavailable"
	}
	if len(args) < 1 {
		return "ERR usage: " + kind + "GenToken <subject> [acl,acl,...]"
	}
	subject := args[0]
	var acl []string
	if len(args) > 1 {
		acl = strings.Split(args[1], ",")
	}
	token, err := s.Tokens.IssueToken(&sharedctx.Identity{Subject: subject, ACL: acl})
	if err != nil {
		return "ERR " + err.Error()
	}
	return token
}

func (s *Server) cmdShowConfig() string {
	if s.Config == nil {
		return "ERR config unavailable"
	}
	out, err := s.Config.ShowConfig()
	if err != nil {
		return "ERR " + err.Error()
	}
	return out
}

func (s *Server) cmdShowRules() string {
	if s.Rules == nil {
		return "ERR rules unavailable"
	}
	out, err := s.Rules.ShowRules()
	if err != nil {
		return "ERR " + err.Error()
	}
	return out
}

func (s *Server) cmdNodeInfo(args []string) string {
	if s.Routes == nil {
		return "ERR routes unavailable"
	}
	if len(args) < 2 {
		return "ERR usage: nodeInfo <route|table> <routeType>"
	}
	info, ok := s.Routes.NodeInfo(args[0], args[1])
	if !ok {
		return "ERR no such route"
	}
	return info
}

func (s *Server) cmdConfigReload() string {
	if s.Config == nil {
		return "ERR config unavailable"
	}
	if err := s.Config.Reload(); err != nil {
		return "ERR " + err.Error()
	}
	return "OK config reloaded"
}

func (s *Server) cmdValidateConfig() string {
	if s.Config == nil {
		return "ERR config unavailable"
	}
	if err := s.Config.Validate(); err != nil {
		return "ERR " + err.Error()
	}
	return "OK config valid"
}

func (s *Server) cmdPlugin(verb string, args []string) string {
	if s.Plugins == nil {
		return "ERR plugin manager unavailable"
	}
	if len(args) < 1 {
		return fmt.Sprintf("ERR usage: %s <plugin>", verb)
	}
	name := args[0]
	var err error
	switch verb {
	case "load":
		err = s.Plugins.Load(name)
	case "unload":
		err = s.Plugins.Unload(name)
	case "reload":
		err = s.Plugins.Reload(name)
	}
	if err != nil {
		return "ERR " + err.Error()
	}
	return "OK " + verb + " " + name
}

func (s *Server) cmdReloadAll() string {
	if s.Plugins == nil {
		return "ERR plugin manager unavailable"
	}
	if err := s.Plugins.ReloadAll(); err != nil {
		return "ERR " + err.Error()
	}
	return "OK reloadall"
}

func (s *Server) cmdListPlugins() string {
	if s.Plugins == nil {
		return "ERR plugin manager unavailable"
	}
	names := s.Plugins.List()
	if len(names) == 0 {
		return "(none)"
	}
	return strings.Join(names, ",")
}

func (s *Server) cmdListActions() string {
	if s.Actions == nil {
		return "ERR action registry unavailable"
	}
	names := s.Actions.Names()
	if len(names) == 0 {
		return "(none)"
	}
	return strings.Join(names, ",")
}

func (s *Server) cmdRoutes() string {
	if s.Routes == nil {
		return "ERR routes unavailable"
	}
	out, err := s.Routes.Routes()
	if err != nil {
		return "ERR " + err.Error()
	}
	return out
}

func (s *Server) cmdRequestLog(args []string) string {
	if s.RequestLog == nil {
		return "ERR request log unavailable"
	}
	if len(args) < 1 {
		return "ERR usage: requestLog <id>"
	}
	out, ok := s.RequestLog.RequestLog(args[0])
	if !ok {
		return "ERR no such request id"
	}
	return out
}

func (s *Server) cmdUnlock(args []string) string {
	if s.Locks == nil {
		return "ERR lock manager unavailable"
	}
	if len(args) < 1 {
		return "ERR usage: unlock <file>"
	}
	if err := s.Locks.Unlock(args[0]); err != nil {
		return "ERR " + err.Error()
	}
	return "OK unlocked " + args[0]
}

func (s *Server) cmdPermalock(args []string) string {
	if s.Locks == nil {
		return "ERR lock manager unavailable"
	}
	if len(args) < 2 {
		return "ERR usage: permalock <file> <user>"
	}
	if err := s.Locks.Permalock(args[0], args[1]); err != nil {
		return "ERR " + err.Error()
	}
	return "OK permalocked " + args[0] + " by " + args[1]
}

func (s *Server) cmdListLocks() string {
	if s.Locks == nil {
		return "ERR lock manager unavailable"
	}
	out, err := s.Locks.ListLocks()
	if err != nil {
		return "ERR " + err.Error()
	}
	return out
}
