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

package manifests

import (
	"context"

	"github.com/samber/lo"

	"github.com/cowdogmoo/containmint/engine"
	"github.com/cowdogmoo/containmint/errors"
	"github.com/cowdogmoo/containmint/logging"
)

// EnginePublisher publishes manifest lists with a local container engine's
// manifest commands.
type EnginePublisher struct {
	Engine engine.NativeEngine
}

var _ Publisher = (*EnginePublisher)(nil)

// Publish implements Publisher.
//
// When the list and its images live in different repositories the engine
// copies the images first, and the copies can get new digests that the list
// does not reference. If that push fails, the sources are pulled and pushed
// again so their digests settle, and the push is retried once.
func (p *EnginePublisher) Publish(ctx context.Context, list *ManifestList) error {
	sources := lo.Map(list.Entries, func(e ManifestEntry, _ int) string { return e.Ref.String() })

	for _, target := range list.Targets {
		err := p.publish(ctx, target.String(), sources)
		if err == nil {
			continue
		}
		if !crossRepository(list) {
			return errors.Wrap("push manifest list", target.String(), err)
		}

		logging.WarnContext(ctx, "Pushing %s failed, re-pushing sources to settle digests: %v", target, err)
		if err := p.repushSources(ctx, sources); err != nil {
			return err
		}
		if err := p.publish(ctx, target.String(), sources); err != nil {
			return errors.Wrap("push manifest list", target.String(), err)
		}
	}
	return nil
}

func (p *EnginePublisher) publish(ctx context.Context, target string, sources []string) error {
	if err := p.Engine.ManifestRemove(ctx, target); err != nil {
		logging.DebugContext(ctx, "No existing manifest list %s to remove", target)
	}
	if err := p.Engine.ManifestCreate(ctx, target, sources); err != nil {
		return err
	}
	logging.InfoContext(ctx, "Pushing manifest list %s", target)
	return p.Engine.ManifestPush(ctx, target, target)
}

func (p *EnginePublisher) repushSources(ctx context.Context, sources []string) error {
	for _, src := range sources {
		if err := p.Engine.Pull(ctx, src); err != nil {
			return errors.Wrap("pull", src, err)
		}
		if _, err := p.Engine.Push(ctx, src); err != nil {
			return errors.Wrap("push", src, err)
		}
	}
	return nil
}

// crossRepository reports whether the list's targets and entries span more
// than one repository.
func crossRepository(list *ManifestList) bool {
	repos := lo.Map(list.Targets, func(r ImageReference, _ int) string { return r.FullRepo() })
	for _, e := range list.Entries {
		repos = append(repos, e.Ref.FullRepo())
	}
	return len(lo.Uniq(repos)) > 1
}
