package target

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zoravur/materialize-live/internal/apperr"
)

type mapResolver map[Fingerprint]QueryText

func (m mapResolver) Lookup(fp Fingerprint) (QueryText, bool) {
	q, ok := m[fp]
	return q, ok
}

func TestFingerprintIsStable(t *testing.T) {
	r := require.New(t)

	r.Equal(Fingerprint("9ebfce3b05a248842876e8ed1706a451"), FingerprintOf("SELECT * FROM my_table"))
	r.Equal(FingerprintOf("SELECT 1"), FingerprintOf("SELECT 1"))
	r.NotEqual(FingerprintOf("SELECT 1"), FingerprintOf("SELECT 1 "))
}

func TestSourceNameValidation(t *testing.T) {
	valid := []string{"orders", "public.orders", "mz_catalog.mz_relations", "T_1"}
	for _, name := range valid {
		_, err := NewSourceName(name)
		require.NoError(t, err, name)
	}

	invalid := []string{"", "orders;drop", "a b", "a/b", "\"quoted\"", "naïve"}
	for _, name := range invalid {
		_, err := NewSourceName(name)
		require.Error(t, err, name)
		require.True(t, apperr.Is(err, apperr.InvalidTarget), name)
	}
}

func TestRelationPathRoundTrip(t *testing.T) {
	for _, name := range []string{"orders", "public.orders", "x_1.y_2"} {
		tgt, err := NewRelation(name)
		require.NoError(t, err)

		p := EncodePath(tgt)
		require.Equal(t, Path("tail/relation/"+name), p)

		got, err := DecodePath(string(p), nil)
		require.NoError(t, err)
		require.Equal(t, tgt, got)
	}
}

func TestQueryPathRoundTrip(t *testing.T) {
	r := require.New(t)

	text := QueryText("SELECT id, total\nFROM orders WHERE note = 'a/b'")
	tgt := Query(text)
	p := EncodePath(tgt)
	r.Equal(Path("tail/query/"+string(FingerprintOf(text))), p)
	r.NotContains(string(p), "SELECT")

	cache := mapResolver{FingerprintOf(text): text}
	got, err := DecodePath(string(p), cache)
	r.NoError(err)
	r.Equal(KindQuery, got.Kind)
	r.Equal(text, got.Text)
}

func TestDecodeLegacySelectPath(t *testing.T) {
	text := QueryText("SELECT * FROM my_table")
	cache := mapResolver{FingerprintOf(text): text}

	got, err := DecodePath("tail/select/9ebfce3b05a248842876e8ed1706a451", cache)
	require.NoError(t, err)
	require.Equal(t, Query(text), got)
}

func TestDecodeUnknownFingerprint(t *testing.T) {
	_, err := DecodePath("tail/query/b1698e52a0f16203489454196a0c6307", mapResolver{})
	require.True(t, apperr.Is(err, apperr.UnknownFingerprint))

	_, err = DecodePath("tail/query/b1698e52a0f16203489454196a0c6307", nil)
	require.True(t, apperr.Is(err, apperr.UnknownFingerprint))
}

func TestDecodeMalformed(t *testing.T) {
	cases := []string{
		"",
		"tail",
		"tail/relation",
		"tail/relation/a/b",
		"head/relation/orders",
		"tail/table/orders",
	}
	for _, p := range cases {
		_, err := DecodePath(p, mapResolver{})
		require.True(t, apperr.Is(err, apperr.MalformedPath), p)
	}

	_, err := DecodePath("tail/relation/bad;name", nil)
	require.True(t, apperr.Is(err, apperr.InvalidTarget))
}

func TestGeneratedSQL(t *testing.T) {
	r := require.New(t)

	rel := Relation("orders")
	r.Equal("SELECT * FROM orders", rel.SnapshotSQL())
	r.Equal("SUBSCRIBE orders WITH (SNAPSHOT = false)", rel.ChangefeedSQL(Subscribe))
	r.Equal("TAIL orders WITH (SNAPSHOT = false)", rel.ChangefeedSQL(Tail))
	r.Equal("SUBSCRIBE orders WITH (SNAPSHOT = false)", rel.ChangefeedSQL(""))

	q := Query("SELECT 1")
	r.Equal("SELECT 1", q.SnapshotSQL())
	r.Equal("TAIL (SELECT 1) WITH (SNAPSHOT = false)", q.ChangefeedSQL(Tail))
}

func TestParseStatement(t *testing.T) {
	s, err := ParseStatement(" tail ")
	require.NoError(t, err)
	require.Equal(t, Tail, s)

	_, err = ParseStatement("watch")
	require.Error(t, err)
}

func TestChannel(t *testing.T) {
	r := require.New(t)

	ch := Channel("mz1", "tail/relation/orders")
	r.Equal("ds/mz1/tail/relation/orders", ch)

	uid, p, err := SplitChannel(ch)
	r.NoError(err)
	r.Equal("mz1", uid)
	r.Equal("tail/relation/orders", p)

	uid, p, err = SplitChannel("tail/relation/orders")
	r.NoError(err)
	r.Empty(uid)
	r.Equal("tail/relation/orders", p)

	_, _, err = SplitChannel("ds/")
	r.True(apperr.Is(err, apperr.MalformedPath))
}
