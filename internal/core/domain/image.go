package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// DefaultVersion is the tag used when a command is given no version.
const DefaultVersion = "latest"

var ErrInvalidVersion = errors.New("invalid version tag")

// tagRegex is the Docker tag grammar.
var tagRegex = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]{0,127}$`)

// ImageRef identifies an immutable build of the application image.
type ImageRef struct {
	Name string
	Tag  string
}

// NewImageRef builds a reference for name and version, defaulting the
// version to "latest".
func NewImageRef(name, version string) (ImageRef, error) {
	version = strings.TrimSpace(version)
	if version == "" {
		version = DefaultVersion
	}
	if !tagRegex.MatchString(version) {
		return ImageRef{}, fmt.Errorf("%w: %q", ErrInvalidVersion, version)
	}
	return ImageRef{Name: name, Tag: version}, nil
}

// String returns the reference in name:tag form.
func (r ImageRef) String() string {
	return r.Name + ":" + r.Tag
}

// ParseImageRef splits an engine image string into name and tag.
// Digests ("@sha256:...") are dropped and a missing tag reads as "latest".
//
// Example:
//
//	ParseImageRef("registry:5000/bot:v2@sha256:ab") // {Name: "registry:5000/bot", Tag: "v2"}
func ParseImageRef(image string) ImageRef {
	if i := strings.Index(image, "@"); i >= 0 {
		image = image[:i]
	}
	slash := strings.LastIndex(image, "/")
	colon := strings.LastIndex(image, ":")
	if colon > slash {
		return ImageRef{Name: image[:colon], Tag: image[colon+1:]}
	}
	return ImageRef{Name: image, Tag: DefaultVersion}
}
