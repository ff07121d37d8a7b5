package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const peopleNT = `# people
<http://ex/alice> <http://ex/knows> <http://ex/bob> .
<http://ex/bob> <http://ex/knows> <http://ex/carol> .
<http://ex/bob> <http://ex/age> "30"^^<http://www.w3.org/2001/XMLSchema#integer> .
`

const knowsQuery = `
select: ["?a", "?b"]
where:
  - triple: ["?a", "<http://ex/knows>", "?b"]
`

const askQuery = `
form: ask
where:
  - triple: ["<http://ex/alice>", "<http://ex/knows>", "?x"]
  - minus:
      - triple: ["?x", "<http://ex/age>", '"99"^^<http://www.w3.org/2001/XMLSchema#integer>']
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// loadedStore returns the path of a store holding peopleNT.
func loadedStore(t *testing.T) (dir, db string) {
	t.Helper()
	dir = t.TempDir()
	db = filepath.Join(dir, "data.db")
	nt := writeFile(t, dir, "people.nt", peopleNT)
	out, err := run(t, "--db", db, "--log-level", "error", "load", nt)
	require.NoError(t, err)
	assert.Contains(t, out, "3 triples added")
	return dir, db
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "rdfgraph", cmd.Use)
	assert.Contains(t, cmd.Long, "bbolt")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"load", "query", "explain", "stats", "check", "compact"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err, "command %s should exist", name)
			require.NotNil(t, sub)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	for _, name := range []string{"db", "config", "log-level"} {
		f := cmd.PersistentFlags().Lookup(name)
		require.NotNil(t, f, name)
		assert.Equal(t, "", f.DefValue)
	}
	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)
}

func TestExplainCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	explain, _, err := cmd.Find([]string{"explain"})
	require.NoError(t, err)

	f := explain.Flags().Lookup("profile")
	require.NotNil(t, f)
	assert.Equal(t, "false", f.DefValue)
}

func TestLoadAndQuery(t *testing.T) {
	dir, db := loadedStore(t)
	q := writeFile(t, dir, "knows.yaml", knowsQuery)

	out, err := run(t, "--db", db, "--log-level", "error", "query", q)
	require.NoError(t, err)
	assert.Contains(t, out, "?a\t?b\n")
	assert.Contains(t, out, "<http://ex/alice>\t<http://ex/bob>\n")
	assert.Contains(t, out, "<http://ex/bob>\t<http://ex/carol>\n")
}

func TestQueryBatch(t *testing.T) {
	dir, db := loadedStore(t)
	knows := writeFile(t, dir, "knows.yaml", knowsQuery)
	ask := writeFile(t, dir, "ask.yaml", askQuery)

	out, err := run(t, "--db", db, "--log-level", "error", "query", knows, ask)
	require.NoError(t, err)
	assert.Contains(t, out, "# "+knows+"\n?a\t?b\n")
	assert.Contains(t, out, "<http://ex/bob>\t<http://ex/carol>\n")
	assert.Contains(t, out, "# "+ask+"\ntrue\n")
}

func TestCheck(t *testing.T) {
	_, db := loadedStore(t)

	out, err := run(t, "--db", db, "--log-level", "error", "check")
	require.NoError(t, err)
	assert.Contains(t, out, "6 terms, 3 triples checked, 0 errors")

	out, err = run(t, "--db", db, "--log-level", "error", "--format", "json", "check")
	require.NoError(t, err)
	var report struct {
		TriplesChecked int `json:"triples_checked"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 3, report.TriplesChecked)
}

func TestCompact(t *testing.T) {
	_, db := loadedStore(t)

	out, err := run(t, "--db", db, "--log-level", "error", "compact")
	require.NoError(t, err)
	assert.Contains(t, out, "KB reclaimed")

	out, err = run(t, "--db", db, "--log-level", "error", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Triples:     3")
}

func TestLoadIsIdempotent(t *testing.T) {
	dir, db := loadedStore(t)
	nt := filepath.Join(dir, "people.nt")

	out, err := run(t, "--db", db, "--log-level", "error", "load", nt)
	require.NoError(t, err)
	assert.Contains(t, out, "0 triples added")
}

func TestQueryJSON(t *testing.T) {
	dir, db := loadedStore(t)
	q := writeFile(t, dir, "knows.yaml", knowsQuery)

	out, err := run(t, "--db", db, "--log-level", "error", "--format", "json", "query", q)
	require.NoError(t, err)

	var doc resultDoc
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.NotEmpty(t, doc.QueryID)
	assert.Equal(t, "rewrite", doc.Path)
	assert.Equal(t, []string{"?a", "?b"}, doc.Vars)
	assert.Len(t, doc.Rows, 2)
}

func TestAskYAML(t *testing.T) {
	dir, db := loadedStore(t)
	q := writeFile(t, dir, "ask.yaml", askQuery)

	out, err := run(t, "--db", db, "--log-level", "error", "--format", "yaml", "query", q)
	require.NoError(t, err)
	assert.Contains(t, out, "ask: true")
	assert.Contains(t, out, "path: plan")
}

func TestExplain(t *testing.T) {
	dir, db := loadedStore(t)
	q := writeFile(t, dir, "knows.yaml", knowsQuery)

	out, err := run(t, "--db", db, "--log-level", "error", "explain", q)
	require.NoError(t, err)
	assert.Contains(t, out, "path: rewrite")
	assert.Contains(t, out, "EXPLAIN:")

	out, err = run(t, "--db", db, "--log-level", "error", "explain", "--profile", q)
	require.NoError(t, err)
	assert.Contains(t, out, "PROFILE:")
}

func TestStats(t *testing.T) {
	_, db := loadedStore(t)

	out, err := run(t, "--db", db, "--log-level", "error", "--format", "json", "stats")
	require.NoError(t, err)

	var st struct {
		Triples    uint64 `json:"triples"`
		Predicates uint64 `json:"predicates"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, uint64(3), st.Triples)
	assert.Equal(t, uint64(2), st.Predicates)
}

func TestConfigFile(t *testing.T) {
	_, db := loadedStore(t)
	dir := t.TempDir()
	cfg := writeFile(t, dir, "rdfgraph.yaml", "db: "+db+"\nlog_level: error\nengine:\n  default_query_timeout: 5s\n")

	out, err := run(t, "--config", cfg, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Triples:     3")
}

func TestCommandErrors(t *testing.T) {
	dir := t.TempDir()
	q := writeFile(t, dir, "knows.yaml", knowsQuery)

	tests := []struct {
		name string
		args []string
	}{
		{"missing store", []string{"--db", filepath.Join(dir, "none.db"), "query", q}},
		{"no db flag", []string{"stats"}},
		{"bad format", []string{"--db", filepath.Join(dir, "x.db"), "--format", "xml", "stats"}},
		{"bad log level", []string{"--db", filepath.Join(dir, "x.db"), "--log-level", "loud", "load", q}},
		{"compact missing store", []string{"--db", filepath.Join(dir, "none.db"), "compact"}},
		{"missing query file", []string{"--db", filepath.Join(dir, "x.db"), "query", filepath.Join(dir, "nope.yaml")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, exitCommandError, exitCode(err))
		})
	}
}

func TestBadNTriplesIsFailure(t *testing.T) {
	dir := t.TempDir()
	nt := writeFile(t, dir, "bad.nt", "<http://ex/a> ?p <http://ex/b> .\n")

	_, err := run(t, "--db", filepath.Join(dir, "data.db"), "--log-level", "error", "load", nt)
	require.Error(t, err)
	assert.Equal(t, exitFailure, exitCode(err))
}
