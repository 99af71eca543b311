package model

import (
	"fmt"
	"strings"
)

// Release identifies one version of a project.
type Release struct {
	Project string `json:"project" yaml:"project"`
	Version string `json:"version" yaml:"version"`
}

func (r Release) String() string {
	return r.Project + "@" + r.Version
}

// IsZero reports whether neither field is set.
func (r Release) IsZero() bool {
	return r.Project == "" && r.Version == ""
}

// ParseRelease parses "project@version".
func ParseRelease(s string) (Release, error) {
	project, version, ok := strings.Cut(s, "@")
	if !ok || project == "" || version == "" {
		return Release{}, fmt.Errorf("invalid release %q: want project@version", s)
	}
	return Release{Project: project, Version: version}, nil
}
