// Package image turns a profile's container reference into a runnable image:
// either a locally built boxci template image or an explicit external
// reference. Bare names that match no template are rejected outright rather
// than guessed at.
package image

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/felixgeelhaar/boxci/internal/engine"
	"github.com/felixgeelhaar/boxci/internal/errors"
	"github.com/felixgeelhaar/boxci/internal/template"
)

// BuildEngine is the slice of the container engine the resolver needs.
type BuildEngine interface {
	ImageExists(ctx context.Context, image string) (bool, error)
	RemoveImage(ctx context.Context, image string) error
	BuildImage(ctx context.Context, contextDir, containerfile, tag string, pull, noCache bool) error
	InspectImageDigest(ctx context.Context, image string) (engine.ImageDigest, error)
}

// RefKind classifies a profile's container reference.
type RefKind int

const (
	// RefTemplate is a symbolic template name backed by an embedded Containerfile.
	RefTemplate RefKind = iota
	// RefExplicit is an explicit external image reference.
	RefExplicit
)

// Classify decides whether a container reference names a boxci template or an
// explicit external image. External images must be explicit (contain '/',
// ':' or '@') to avoid ambiguity with symbolic template names; anything else
// is an error.
func Classify(container string) (RefKind, error) {
	if template.IsContainerTemplate(container) {
		return RefTemplate, nil
	}

	if containsAny(container, "/:@") {
		// Guardrail, not a full OCI reference parser.
		for _, c := range container {
			if !validRefChar(c) {
				return 0, errors.Newf(errors.ErrCodeImageRefInvalid,
					"invalid container reference %q: use only ASCII alphanumerics and .-_/ @ : (no whitespace)", container)
			}
		}
		return RefExplicit, nil
	}

	return 0, errors.Newf(errors.ErrCodeImageRefInvalid,
		"unknown container template %q. To use an external image, specify an explicit image reference (e.g. 'docker.io/library/ubuntu:24.04')", container)
}

// Options control template image building.
type Options struct {
	// Pull passes --pull to the build so base layers are refreshed.
	Pull bool
	// Rebuild removes any existing template image and rebuilds without cache.
	Rebuild bool
}

// Resolved is the image the run will use plus its best-effort digest.
type Resolved struct {
	Image string
	// Digest is set only when DigestStatus is "present".
	Digest string
	// DigestStatus is the manifest wire value: present, unavailable or error.
	DigestStatus string
}

// Resolver materializes template Containerfiles under the cache directory
// and builds them through the engine.
type Resolver struct {
	Engine   BuildEngine
	CacheDir string
	// Version stamps template image tags (localhost/boxci-<name>:v<version>)
	// so upgrades never silently reuse stale local builds.
	Version string
}

// Resolve returns the runnable image for a container reference. Explicit
// references are digest-inspected only and never pulled or built. Template
// names are built locally when the tagged image is absent or a rebuild was
// requested.
func (r *Resolver) Resolve(ctx context.Context, container string, opts Options) (Resolved, error) {
	kind, err := Classify(container)
	if err != nil {
		return Resolved{}, err
	}

	if kind == RefExplicit {
		digest, err := r.Engine.InspectImageDigest(ctx, container)
		if err != nil {
			return Resolved{}, err
		}
		return resolved(container, digest), nil
	}

	cf, err := template.Containerfile(container)
	if err != nil {
		return Resolved{}, err
	}

	imageDir := filepath.Join(r.CacheDir, "images", container)
	if err := os.MkdirAll(imageDir, 0o755); err != nil {
		return Resolved{}, errors.Wrap(errors.ErrCodeDirectoryFailed, fmt.Sprintf("create %s", imageDir), err)
	}
	containerfile := filepath.Join(imageDir, "Containerfile")
	if err := os.WriteFile(containerfile, cf, 0o644); err != nil {
		return Resolved{}, errors.Wrap(errors.ErrCodeFileWriteFailed, fmt.Sprintf("write %s", containerfile), err)
	}

	tag := fmt.Sprintf("localhost/boxci-%s:v%s", container, r.Version)

	exists, err := r.Engine.ImageExists(ctx, tag)
	if err != nil {
		return Resolved{}, err
	}
	if opts.Rebuild && exists {
		if err := r.Engine.RemoveImage(ctx, tag); err != nil {
			return Resolved{}, err
		}
	}

	if opts.Rebuild || !exists {
		if err := r.Engine.BuildImage(ctx, imageDir, containerfile, tag, opts.Pull, opts.Rebuild); err != nil {
			return Resolved{}, errors.Wrap(errors.ErrCodeImageBuild, fmt.Sprintf("build image %s", tag), err)
		}
	}

	digest, err := r.Engine.InspectImageDigest(ctx, tag)
	if err != nil {
		return Resolved{}, err
	}
	return resolved(tag, digest), nil
}

func resolved(image string, digest engine.ImageDigest) Resolved {
	out := Resolved{Image: image, DigestStatus: digest.State.String()}
	if digest.State == engine.DigestPresent {
		out.Digest = digest.Digest
	}
	return out
}

func containsAny(s, chars string) bool {
	for _, c := range s {
		for _, want := range chars {
			if c == want {
				return true
			}
		}
	}
	return false
}

func validRefChar(c rune) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '.', c == '-', c == '_', c == '/', c == '@', c == ':':
		return true
	}
	return false
}
