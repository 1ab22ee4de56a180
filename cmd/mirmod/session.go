// ABOUTME: Argument parsing and security context setup shared by mirmod subcommands
// ABOUTME: Layers config file < proxy token < explicit flags

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/2389/mirmod/internal/config"
	"github.com/2389/mirmod/internal/logging"
	"github.com/2389/mirmod/internal/sctx"
)

// connectionFlags take a value and are consumed by openSession.
var connectionFlags = map[string]bool{
	"--config":   true,
	"--token":    true,
	"--host":     true,
	"--port":     true,
	"--user":     true,
	"--password": true,
	"--database": true,
}

// parsedArgs holds a subcommand's arguments.
type parsedArgs struct {
	values     map[string]string
	switches   map[string]bool
	positional []string
}

func (p *parsedArgs) value(name, fallback string) string {
	if v, ok := p.values[name]; ok {
		return v
	}
	return fallback
}

// parseArgs splits args into --flag value pairs, bare switches and
// positional arguments. valueFlags lists command flags that take a
// value in addition to the connection flags.
func parseArgs(args []string, valueFlags ...string) (*parsedArgs, error) {
	takesValue := make(map[string]bool, len(connectionFlags)+len(valueFlags))
	for f := range connectionFlags {
		takesValue[f] = true
	}
	for _, f := range valueFlags {
		takesValue[f] = true
	}

	p := &parsedArgs{values: map[string]string{}, switches: map[string]bool{}}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			p.positional = append(p.positional, arg)
			continue
		}
		if name, value, ok := strings.Cut(arg, "="); ok && takesValue[name] {
			p.values[name] = value
			continue
		}
		if takesValue[arg] {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("%s requires a value", arg)
			}
			p.values[arg] = args[i+1]
			i++
			continue
		}
		p.switches[arg] = true
	}
	return p, nil
}

// overrides collects the explicit connection flags.
func (p *parsedArgs) overrides() config.Overrides {
	var o config.Overrides
	set := func(flag string, dst **string) {
		if v, ok := p.values[flag]; ok {
			*dst = &v
		}
	}
	set("--host", &o.Host)
	set("--port", &o.Port)
	set("--user", &o.User)
	set("--password", &o.Password)
	set("--database", &o.Database)
	return o
}

// resolveConfig layers the config file, proxy token and flags.
func resolveConfig(p *parsedArgs) (config.Config, error) {
	var (
		base *config.Config
		err  error
	)
	if path, ok := p.values["--config"]; ok {
		base, err = config.Load(path)
	} else {
		base, err = config.LoadDefault()
	}
	if errors.Is(err, config.ErrNotFound) {
		// Flags alone may describe the whole connection.
		base, err = &config.Config{}, nil
	}
	if err != nil {
		return config.Config{}, fmt.Errorf("loading config: %w", err)
	}

	layers := []config.Overrides{}
	token := p.value("--token", os.Getenv("MIRANDA_PROXY_TOKEN"))
	if token != "" {
		fromToken, err := config.FromToken(token)
		if err != nil {
			return config.Config{}, err
		}
		layers = append(layers, fromToken)
	}
	layers = append(layers, p.overrides())

	merged := base.Merge(layers...)
	if err := merged.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("validating config: %w", err)
	}
	return merged, nil
}

// openSession resolves the configuration, installs the logger and opens
// a security context.
func openSession(ctx context.Context, p *parsedArgs) (*sctx.SecurityContext, error) {
	cfg, err := resolveConfig(p)
	if err != nil {
		return nil, err
	}
	logging.Setup(cfg.Logging, os.Stderr)

	sc, err := sctx.NewFromConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening session: %w", err)
	}
	if p.switches["--admin"] {
		sc.SetAdmin(true)
	}
	return sc, nil
}
