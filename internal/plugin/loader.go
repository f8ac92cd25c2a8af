package plugin

import (
	"fmt"
	gostdplugin "plugin"
)

// OpenFile is the production Opener: it opens the .so at path and looks
// up the exported "GatewayPlugin" symbol.
func OpenFile(path string) (Plugin, error) {
	p, err := gostdplugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("plugin: open %s: %w", path, err)
	}
	sym, err := p.Lookup("GatewayPlugin")
	if err != nil {
		return nil, fmt.Errorf("plugin: %s does not export GatewayPlugin: %w", path, err)
	}

	switch v := sym.(type) {
	case Plugin:
		return v, nil
	case *Plugin:
		return *v, nil
	default:
		return nil, fmt.Errorf("plugin: %s's GatewayPlugin symbol does not implement the Plugin interface", path)
	}
}
