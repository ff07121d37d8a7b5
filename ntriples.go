package rdfgraph

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/knakk/rdf"
)

// ErrBadTerm is returned for input that is not an RDF term in N-Triples
// notation, or a triple containing a variable.
var ErrBadTerm = errors.New("rdfgraph: bad term")

// maxNTriplesLine bounds a single input line (long literals included).
const maxNTriplesLine = 16 * 1024 * 1024

// NTriplesReader reads triples from N-Triples input, one per line. Blank
// lines and comments are skipped. Each line is decoded with knakk/rdf and
// its terms are rewritten into the notation the store keys on.
type NTriplesReader struct {
	sc   *bufio.Scanner
	line int
}

// NewNTriplesReader returns a reader over r.
func NewNTriplesReader(r io.Reader) *NTriplesReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxNTriplesLine)
	return &NTriplesReader{sc: sc}
}

// Next returns the next triple, or io.EOF at the end of the input.
func (r *NTriplesReader) Next() (TriplePattern, error) {
	for r.sc.Scan() {
		r.line++
		line := strings.TrimSpace(r.sc.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		t, err := decodeNTriple(line)
		if err != nil {
			return TriplePattern{}, fmt.Errorf("line %d: %w", r.line, err)
		}
		return t, nil
	}
	if err := r.sc.Err(); err != nil {
		return TriplePattern{}, err
	}
	return TriplePattern{}, io.EOF
}

// Line returns the number of the last line read.
func (r *NTriplesReader) Line() int { return r.line }

// decodeNTriple decodes exactly one triple from line.
func decodeNTriple(line string) (TriplePattern, error) {
	dec := rdf.NewTripleDecoder(strings.NewReader(line), rdf.NTriples)
	tr, err := dec.Decode()
	if err == io.EOF {
		return TriplePattern{}, fmt.Errorf("%w: no triple", ErrBadTerm)
	}
	if err != nil {
		return TriplePattern{}, fmt.Errorf("%w: %v", ErrBadTerm, err)
	}
	if _, err := dec.Decode(); err != io.EOF {
		return TriplePattern{}, fmt.Errorf("%w: trailing input after triple", ErrBadTerm)
	}

	t := TriplePattern{
		Subject:   ntTerm(tr.Subj),
		Predicate: ntTerm(tr.Pred),
		Object:    ntTerm(tr.Obj),
	}
	for _, term := range [...]string{t.Subject, t.Predicate, t.Object} {
		if err := checkTerm(term); err != nil {
			return TriplePattern{}, err
		}
	}
	return t, nil
}

// ntTerm writes a decoded term in N-Triples notation. Literal text is
// re-escaped; plain literals drop their implicit xsd:string datatype.
func ntTerm(term rdf.Term) string {
	switch v := term.(type) {
	case rdf.IRI:
		return ntIRI(v.String())
	case rdf.Blank:
		return "_:" + strings.TrimPrefix(v.String(), "_:")
	case rdf.Literal:
		lex := `"` + literalEscaper.Replace(v.String()) + `"`
		if lang := v.Lang(); lang != "" {
			return lex + "@" + lang
		}
		if dt := strings.Trim(v.DataType.String(), "<>"); dt != "" && dt != xsdNS+"string" {
			return lex + "^^" + ntIRI(dt)
		}
		return lex
	}
	return term.Serialize(rdf.NTriples)
}

func ntIRI(iri string) string {
	return "<" + strings.Trim(iri, "<>") + ">"
}

var literalEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`)

// checkTerm reports whether s is exactly one RDF term.
func checkTerm(s string) error {
	term, next, err := scanTerm(s, 0)
	if err != nil {
		return err
	}
	if next != len(s) {
		return fmt.Errorf("%w: trailing input after %s", ErrBadTerm, term)
	}
	return nil
}

func skipSpace(s string, pos int) int {
	for pos < len(s) && (s[pos] == ' ' || s[pos] == '\t') {
		pos++
	}
	return pos
}

// scanTerm reads one term starting at pos and returns it with the position
// after it.
func scanTerm(s string, pos int) (string, int, error) {
	if pos >= len(s) {
		return "", pos, fmt.Errorf("%w: unexpected end of input", ErrBadTerm)
	}
	start := pos
	switch s[pos] {
	case '<':
		end := strings.IndexByte(s[pos:], '>')
		if end < 0 {
			return "", pos, fmt.Errorf("%w: unterminated IRI", ErrBadTerm)
		}
		if strings.ContainsAny(s[pos+1:pos+end], " \t\"{}|^`\\") {
			return "", pos, fmt.Errorf("%w: invalid IRI %s", ErrBadTerm, s[pos:pos+end+1])
		}
		return s[pos : pos+end+1], pos + end + 1, nil

	case '_':
		if !strings.HasPrefix(s[pos:], "_:") {
			return "", pos, fmt.Errorf("%w: invalid blank node", ErrBadTerm)
		}
		pos += 2
		for pos < len(s) && s[pos] != ' ' && s[pos] != '\t' {
			pos++
		}
		if pos == start+2 {
			return "", pos, fmt.Errorf("%w: empty blank node label", ErrBadTerm)
		}
		return s[start:pos], pos, nil

	case '"':
		pos++
		for pos < len(s) && s[pos] != '"' {
			if s[pos] == '\\' {
				pos++
			}
			pos++
		}
		if pos >= len(s) {
			return "", pos, fmt.Errorf("%w: unterminated literal", ErrBadTerm)
		}
		pos++
		switch {
		case strings.HasPrefix(s[pos:], "@"):
			pos++
			tag := pos
			for pos < len(s) && (isAlnum(s[pos]) || s[pos] == '-') {
				pos++
			}
			if pos == tag {
				return "", pos, fmt.Errorf("%w: empty language tag", ErrBadTerm)
			}
		case strings.HasPrefix(s[pos:], "^^"):
			dt, next, err := scanTerm(s, pos+2)
			if err != nil {
				return "", pos, err
			}
			if dt[0] != '<' {
				return "", pos, fmt.Errorf("%w: datatype %s is not an IRI", ErrBadTerm, dt)
			}
			pos = next
		}
		return s[start:pos], pos, nil
	}
	return "", pos, fmt.Errorf("%w: unexpected %q", ErrBadTerm, s[pos])
}

func isAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}
