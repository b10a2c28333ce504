package lifecycle

import (
	"context"
	"fmt"

	"github.com/artpar/stackctl/internal/core/domain"
	"github.com/artpar/stackctl/internal/shell/engine"
)

// Builder produces versioned application images.
type Builder struct {
	deps     Deps
	settings Settings
}

// NewBuilder creates a Builder.
func NewBuilder(deps Deps, settings Settings) *Builder {
	return &Builder{deps: deps, settings: settings}
}

// Ensure makes sure the image for version exists locally. With force unset
// an existing tag is reused; with force set the image is always rebuilt.
func (b *Builder) Ensure(ctx context.Context, version string, force bool) (domain.ImageRef, error) {
	ref, err := domain.NewImageRef(b.settings.ImageName, version)
	if err != nil {
		return domain.ImageRef{}, err
	}

	if !force {
		exists, err := b.deps.Engine.ImageExists(ctx, ref.String())
		if err != nil {
			return domain.ImageRef{}, err
		}
		if exists {
			b.deps.logger().Debug("image present, skipping build", "image", ref.String())
			return ref, nil
		}
	}

	b.deps.Console.Infof("Building %s", ref)
	err = b.deps.Engine.BuildImage(ctx, engine.BuildSpec{
		Ref:        ref.String(),
		Context:    b.settings.BuildContext,
		Dockerfile: b.settings.Dockerfile,
		Labels: map[string]string{
			engine.LabelManaged: "true",
			engine.LabelVersion: ref.Tag,
		},
	}, engine.Streams{Out: b.deps.Streams.Out, Err: b.deps.Streams.Err})
	if err != nil {
		return domain.ImageRef{}, fmt.Errorf("building %s: %w", ref, err)
	}

	b.deps.Console.Successf("Built %s", ref)
	return ref, nil
}
