package replicate

import (
	"fmt"
	"strings"
)

// ModelRef is a parsed model identifier: "owner/name", "owner/name:version"
// or a bare version id.
type ModelRef struct {
	Owner   string
	Name    string
	Version string
}

func ParseModelRef(s string) (ModelRef, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ModelRef{}, fmt.Errorf("empty model identifier")
	}
	var ref ModelRef
	path := s
	if i := strings.LastIndex(s, ":"); i >= 0 {
		path, ref.Version = s[:i], s[i+1:]
		if ref.Version == "" {
			return ModelRef{}, fmt.Errorf("model %q: empty version", s)
		}
	}
	if !strings.Contains(path, "/") {
		if ref.Version != "" {
			return ModelRef{}, fmt.Errorf("model %q: expected owner/name:version", s)
		}
		// bare version id
		return ModelRef{Version: path}, nil
	}
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return ModelRef{}, fmt.Errorf("model %q: expected owner/name", s)
	}
	ref.Owner, ref.Name = parts[0], parts[1]
	return ref, nil
}

func (r ModelRef) Pinned() bool { return r.Version != "" }

// CanFallback reports whether an unpinned form of the reference exists.
func (r ModelRef) CanFallback() bool { return r.Pinned() && r.Owner != "" }

// Unpinned drops the version so the provider serves its latest revision.
func (r ModelRef) Unpinned() ModelRef { return ModelRef{Owner: r.Owner, Name: r.Name} }

func (r ModelRef) String() string {
	switch {
	case r.Owner == "":
		return r.Version
	case r.Version == "":
		return r.Owner + "/" + r.Name
	default:
		return r.Owner + "/" + r.Name + ":" + r.Version
	}
}
