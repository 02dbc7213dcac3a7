package cli

import (
	"context"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dispatchkit/core/internal/acl"
	"github.com/dispatchkit/core/internal/core/config"
	"github.com/dispatchkit/core/internal/core/errs"
	"github.com/dispatchkit/core/internal/executor"
	"github.com/dispatchkit/core/internal/extension"
	"github.com/dispatchkit/core/internal/registry"
)

// Functions is the process-wide binding registry: the embedding binary
// registers its module factories here at init() time (spec §4.2 "bindings
// resolve against an in-process function registry, populated at init()
// time by generated or hand-written adapters"). The CLI's discover/call
// commands resolve *.module.yaml manifests against whatever is registered
// here; a manifest naming a callable nothing has registered is skipped by
// discovery, with a BINDING_CALLABLE_NOT_FOUND reason.
var Functions = registry.NewFunctionRegistry()

// Extensions is the process-wide extension manager: the embedding binary
// registers middleware/acl/approval plug-ins here at init() time (spec §2
// "Extension manager"). buildPipeline initializes them and wires any
// middleware/ACL/approval extension into the Executor it builds.
var Extensions = extension.New()

// buildPipeline discovers modules under opts.RegistryRoot into a fresh
// Registry, optionally loads an ACL from opts.ACLPath, and wires both into
// an Executor. It is the shared setup path for call, discover and
// validate.
func buildPipeline(ctx context.Context, opts *RootOptions) (*registry.Registry, *executor.Executor, error) {
	reg := registry.New(Functions)

	if _, err := reg.Discover(ctx, registry.DiscoverConfig{
		Roots: []registry.DiscoveryRoot{{Path: opts.RegistryRoot}},
	}); err != nil {
		return nil, nil, err
	}

	if opts.BindingsPath != "" {
		if _, err := reg.RegisterBindings(ctx, opts.BindingsPath); err != nil {
			return nil, nil, err
		}
	}

	if err := Extensions.InitAll(ctx); err != nil {
		return nil, nil, err
	}

	var execOpts []executor.Option
	// WithExtensions first, so ACL/config options below still take
	// precedence over an extension-supplied ACL.
	execOpts = append(execOpts, executor.WithExtensions(Extensions))
	if opts.ConfigPath != "" {
		cfg, err := loadConfig(opts.ConfigPath)
		if err != nil {
			return nil, nil, err
		}
		// WithConfig first, so an ACL (set below) and any future explicit
		// option still takes precedence over file-sourced values.
		execOpts = append(execOpts, executor.WithConfig(cfg))
	}
	if opts.ACLPath != "" {
		a, err := acl.LoadFromYAML(opts.ACLPath)
		if err != nil {
			return nil, nil, err
		}
		execOpts = append(execOpts, executor.WithACL(a))
	}

	ex, err := executor.New(reg, execOpts...)
	if err != nil {
		return nil, nil, err
	}
	return reg, ex, nil
}

// loadConfig parses path as a YAML document of nested executor/acl/registry
// configuration (spec §4.1 "Configuration (recognized options)") into a
// config.Accessor.
func loadConfig(path string) (*config.Accessor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.CodeConfigNotFound, "cli: reading config file", err)
	}
	var data map[string]any
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, errs.Wrap(errs.CodeConfigInvalid, "cli: parsing config file", err)
	}
	return config.New(data), nil
}
