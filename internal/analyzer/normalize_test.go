package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize_IntegerLiterals(t *testing.T) {
	a := Normalize("SELECT * FROM t WHERE id = 42")
	b := Normalize("SELECT * FROM t WHERE id = 7")

	assert.Equal(t, a, b, "queries differing only in integer literals must normalize identically")
	assert.Equal(t, "select * from t where id = N", a)
}

func TestNormalize_StringLiterals(t *testing.T) {
	a := Normalize(`SELECT * FROM users WHERE name = 'alice'`)
	b := Normalize(`SELECT * FROM users WHERE name = 'bob'`)
	assert.Equal(t, a, b)
	assert.Equal(t, `select * from users where name = 'S'`, a)

	c := Normalize(`SELECT * FROM users WHERE name = "alice"`)
	d := Normalize(`SELECT * FROM users WHERE name = "bob"`)
	assert.Equal(t, c, d)
}

func TestNormalize_DigitsInsideStringsNotRewritten(t *testing.T) {
	a := Normalize(`SELECT * FROM t WHERE tag = 'v123'`)
	b := Normalize(`SELECT * FROM t WHERE tag = 'v999'`)
	assert.Equal(t, a, b)
	assert.Equal(t, `select * from t where tag = 'S'`, a)
}

func TestNormalize_PlaceholderStyles(t *testing.T) {
	variants := []string{
		"SELECT * FROM t WHERE id = %s",
		"SELECT * FROM t WHERE id = %(id)s",
		"SELECT * FROM t WHERE id = $1",
		"SELECT * FROM t WHERE id = ?",
		"SELECT * FROM t WHERE id = ??",
	}
	want := Normalize(variants[0])
	for _, v := range variants[1:] {
		assert.Equal(t, want, Normalize(v), "variant %q", v)
	}
	assert.Equal(t, "select * from t where id = ?", want)
}

func TestNormalize_Deterministic(t *testing.T) {
	const sql = "  SELECT a, b FROM t WHERE x = 99 AND y = 'val'  "
	first := Normalize(sql)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Normalize(sql))
	}
}

func TestFingerprint_MatchesNormalizedEquivalence(t *testing.T) {
	a := Fingerprint("SELECT * FROM t WHERE id = 42")
	b := Fingerprint("select * from t where id = 7")
	c := Fingerprint("SELECT * FROM other WHERE id = 7")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 16)
}
