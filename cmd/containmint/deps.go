/*
Copyright © 2025 Jayson Grace <jayson.e.grace@gmail.com>

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/

package main

import (
	"context"
	"os"

	"github.com/cowdogmoo/containmint/broker"
	"github.com/cowdogmoo/containmint/broker/coreci"
	"github.com/cowdogmoo/containmint/broker/ec2"
	"github.com/cowdogmoo/containmint/builder"
	"github.com/cowdogmoo/containmint/config"
	"github.com/cowdogmoo/containmint/engine"
	"github.com/cowdogmoo/containmint/errors"
	"github.com/cowdogmoo/containmint/registry"
	"github.com/cowdogmoo/containmint/remote"
)

// Broker providers.
const (
	providerCoreCI = "coreci"
	providerEC2    = "ec2"
)

// dependencies are the external systems the commands reach.
type dependencies struct {
	lookupEnv   func(string) (string, bool)
	newBroker   func(ctx context.Context, cfg *config.Config) (broker.Broker, error)
	dial        func(cfg config.SSHConfig) builder.Dialer
	localEngine func(ctx context.Context, preferred string) (engine.NativeEngine, error)
}

func defaultDependencies() *dependencies {
	return &dependencies{
		lookupEnv:   os.LookupEnv,
		newBroker:   newBroker,
		dial:        builder.SSHDialer,
		localEngine: detectLocalEngine,
	}
}

// sessions returns the registry session manager. Credentials come from the
// environment and are required unless --no-login is given, in which case
// whatever login already exists is used.
func (d *dependencies) sessions(noLogin bool) (*registry.Manager, error) {
	if noLogin {
		return registry.NewManager(nil), nil
	}
	creds, err := registry.FromEnv(d.lookupEnv)
	if err != nil {
		return nil, err
	}
	return registry.NewManager(creds), nil
}

// newBroker wires the configured provider into a broker client.
func newBroker(ctx context.Context, cfg *config.Config) (broker.Broker, error) {
	var provider broker.Provider
	switch cfg.Broker.Provider {
	case providerCoreCI, "":
		p, err := coreci.New(cfg.CoreCI)
		if err != nil {
			return nil, err
		}
		provider = p
	case providerEC2:
		client, err := ec2.NewEC2Client(ctx, cfg.AWS)
		if err != nil {
			return nil, errors.Wrap("create EC2 client", cfg.AWS.Region, err)
		}
		provider = ec2.New(client, cfg.AWS, cfg.SSH.Port)
	default:
		return nil, errors.NewConfigError("broker.provider", "unknown provider %q (expected %s or %s)",
			cfg.Broker.Provider, providerCoreCI, providerEC2)
	}
	return broker.NewClient(provider, broker.OptionsFromConfig(cfg)), nil
}

// detectLocalEngine finds the container engine on this machine, used by the
// engine merge backend.
func detectLocalEngine(ctx context.Context, preferred string) (engine.NativeEngine, error) {
	return engine.Detect(ctx, remote.NewLocalExecutor("local"), preferred)
}
