package target

import (
	"strings"

	"github.com/zoravur/materialize-live/internal/apperr"
)

const (
	pathRoot    = "tail"
	segRelation = "relation"
	segQuery    = "query"
	// accepted on decode only
	segSelect = "select"
)

// Path is the external form of a Target: tail/relation/<name> or
// tail/query/<fingerprint>. It never embeds raw query text.
type Path string

// Resolver maps fingerprints back to the query text they were taken from.
type Resolver interface {
	Lookup(Fingerprint) (QueryText, bool)
}

// EncodePath returns the path for t.
func EncodePath(t Target) Path {
	if t.Kind == KindQuery {
		return Path(pathRoot + "/" + segQuery + "/" + string(FingerprintOf(t.Text)))
	}
	return Path(pathRoot + "/" + segRelation + "/" + string(t.Name))
}

// DecodePath parses p. Relation names are re-validated; query fingerprints
// must be known to r.
func DecodePath(p string, r Resolver) (Target, error) {
	parts := strings.Split(p, "/")
	if len(parts) != 3 || parts[0] != pathRoot {
		return Target{}, apperr.Newf(apperr.MalformedPath, "invalid path %q", p)
	}

	switch parts[1] {
	case segRelation:
		return NewRelation(parts[2])
	case segQuery, segSelect:
		fp := Fingerprint(parts[2])
		if r == nil {
			return Target{}, apperr.Newf(apperr.UnknownFingerprint, "no query cached for %s", fp)
		}
		text, ok := r.Lookup(fp)
		if !ok {
			return Target{}, apperr.Newf(apperr.UnknownFingerprint, "no query cached for %s", fp)
		}
		return Query(text), nil
	default:
		return Target{}, apperr.Newf(apperr.MalformedPath, "unknown path kind %q in %q", parts[1], p)
	}
}

// Channel scopes a path to a datasource: ds/<uid>/<path>.
func Channel(datasourceUID string, p Path) string {
	return "ds/" + datasourceUID + "/" + string(p)
}

// SplitChannel is the inverse of Channel. A bare path is returned with an
// empty uid.
func SplitChannel(ch string) (uid string, p string, err error) {
	if !strings.HasPrefix(ch, "ds/") {
		return "", ch, nil
	}
	rest := strings.TrimPrefix(ch, "ds/")
	i := strings.IndexByte(rest, '/')
	if i <= 0 {
		return "", "", apperr.Newf(apperr.MalformedPath, "invalid channel %q", ch)
	}
	return rest[:i], rest[i+1:], nil
}
