// Package target names the things a caller can observe (a relation or an
// arbitrary read query) and maps them to and from transport-safe paths.
//
// Relation paths always decode. Query paths only carry a fingerprint of the
// query text, so decoding one needs a Resolver that has seen the text before:
// callers must issue a one-shot query before subscribing to its path.
package target

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zoravur/materialize-live/internal/apperr"
)

// Kind tags a Target.
type Kind int

const (
	KindRelation Kind = iota + 1
	KindQuery
)

func (k Kind) String() string {
	switch k {
	case KindRelation:
		return "relation"
	case KindQuery:
		return "query"
	default:
		return "unknown"
	}
}

// SourceName is a relation identifier restricted to [A-Za-z0-9._]. It is
// interpolated directly into generated SQL.
type SourceName string

// NewSourceName validates name.
func NewSourceName(name string) (SourceName, error) {
	if name == "" {
		return "", apperr.New(apperr.InvalidTarget, "relation name is empty")
	}
	for _, c := range name {
		if !validNameChar(c) {
			return "", apperr.Newf(apperr.InvalidTarget, "invalid character %q in relation name %q", c, name)
		}
	}
	return SourceName(name), nil
}

func validNameChar(c rune) bool {
	return c >= 'a' && c <= 'z' ||
		c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9' ||
		c == '.' || c == '_'
}

// QueryText is an unvalidated read query.
type QueryText string

// Fingerprint is the hex md5 digest of a query's raw bytes.
type Fingerprint string

// FingerprintOf digests q.
func FingerprintOf(q QueryText) Fingerprint {
	sum := md5.Sum([]byte(q))
	return Fingerprint(hex.EncodeToString(sum[:]))
}

// Target is either a relation or a query. Construct with Relation or Query.
type Target struct {
	Kind Kind
	Name SourceName
	Text QueryText
}

func Relation(name SourceName) Target { return Target{Kind: KindRelation, Name: name} }
func Query(text QueryText) Target     { return Target{Kind: KindQuery, Text: text} }

// NewRelation validates name and returns a relation target.
func NewRelation(name string) (Target, error) {
	n, err := NewSourceName(name)
	if err != nil {
		return Target{}, err
	}
	return Relation(n), nil
}

// NewQuery returns a query target, rejecting blank text.
func NewQuery(text string) (Target, error) {
	if strings.TrimSpace(text) == "" {
		return Target{}, apperr.New(apperr.InvalidTarget, "query text is empty")
	}
	return Query(QueryText(text)), nil
}

func (t Target) String() string {
	switch t.Kind {
	case KindRelation:
		return "relation " + string(t.Name)
	case KindQuery:
		return "query " + string(FingerprintOf(t.Text))
	default:
		return "invalid target"
	}
}

// SnapshotSQL is the one-shot read for t.
func (t Target) SnapshotSQL() string {
	if t.Kind == KindRelation {
		return "SELECT * FROM " + string(t.Name)
	}
	return string(t.Text)
}

// Statement is the changefeed keyword understood by the server.
type Statement string

const (
	Subscribe Statement = "SUBSCRIBE"
	// Tail is the keyword used by Materialize releases before SUBSCRIBE existed.
	Tail Statement = "TAIL"
)

// ParseStatement accepts SUBSCRIBE or TAIL in any case.
func ParseStatement(s string) (Statement, error) {
	switch Statement(strings.ToUpper(strings.TrimSpace(s))) {
	case Subscribe:
		return Subscribe, nil
	case Tail:
		return Tail, nil
	default:
		return "", fmt.Errorf("unknown changefeed statement %q", s)
	}
}

// ChangefeedSQL opens a changefeed for t without an initial snapshot; the
// snapshot is always delivered separately.
func (t Target) ChangefeedSQL(stmt Statement) string {
	if stmt == "" {
		stmt = Subscribe
	}
	if t.Kind == KindRelation {
		return fmt.Sprintf("%s %s WITH (SNAPSHOT = false)", stmt, t.Name)
	}
	return fmt.Sprintf("%s (%s) WITH (SNAPSHOT = false)", stmt, t.Text)
}
