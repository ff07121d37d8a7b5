package rdfgraph

import (
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// IntegrityError describes a single data corruption issue found during verification.
type IntegrityError struct {
	Bucket  string `json:"bucket" yaml:"bucket"`
	Key     string `json:"key" yaml:"key"` // hex-encoded key
	Message string `json:"message" yaml:"message"`
}

func (e IntegrityError) Error() string {
	return fmt.Sprintf("%s[%s]: %s", e.Bucket, e.Key, e.Message)
}

// IntegrityReport is the result of a VerifyIntegrity scan.
type IntegrityReport struct {
	TermsChecked   int              `json:"terms_checked" yaml:"terms_checked"`
	TriplesChecked int              `json:"triples_checked" yaml:"triples_checked"`
	Errors         []IntegrityError `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// OK returns true if no integrity errors were found.
func (r *IntegrityReport) OK() bool {
	return len(r.Errors) == 0
}

func (r *IntegrityReport) add(bucket []byte, key []byte, format string, args ...any) {
	r.Errors = append(r.Errors, IntegrityError{
		Bucket:  string(bucket),
		Key:     fmt.Sprintf("%x", key),
		Message: fmt.Sprintf(format, args...),
	})
}

// VerifyIntegrity scans the store in one read transaction. It verifies the
// CRC32 of every term record, that the term dictionaries map both ways, and
// that every triple is present in all three indexes with known term IDs.
// This is a read-only operation safe for concurrent use.
func (s *Store) VerifyIntegrity() (*IntegrityReport, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	report := &IntegrityReport{}
	err := s.db.View(func(tx *bolt.Tx) error {
		for _, d := range [...]struct{ recs, ids []byte }{
			{bucketTerms, bucketTermIDs},
			{bucketPreds, bucketPredIDs},
		} {
			if err := verifyDictionary(tx, d.recs, d.ids, report); err != nil {
				return err
			}
		}
		return verifyIndexes(tx, report)
	})
	if err != nil {
		return report, fmt.Errorf("rdfgraph: integrity check failed: %w", err)
	}

	if report.OK() {
		s.log.Info("integrity check passed",
			"terms_checked", report.TermsChecked,
			"triples_checked", report.TriplesChecked,
		)
	} else {
		s.log.Error("integrity check found errors",
			"terms_checked", report.TermsChecked,
			"triples_checked", report.TriplesChecked,
			"errors", len(report.Errors),
		)
	}
	return report, nil
}

func verifyDictionary(tx *bolt.Tx, recsName, idsName []byte, report *IntegrityReport) error {
	recs, ids := tx.Bucket(recsName), tx.Bucket(idsName)
	if recs == nil || ids == nil {
		return nil
	}
	err := recs.ForEach(func(k, v []byte) error {
		report.TermsChecked++
		rec, err := decodeTermRecord(v)
		if err != nil {
			report.add(recsName, k, "%v", err)
			return nil // continue scanning even on error
		}
		back := ids.Get([]byte(rec.Term))
		if back == nil || decodeID(back) != decodeID(k) {
			report.add(recsName, k, "term %s has no matching %s entry", rec.Term, idsName)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return ids.ForEach(func(k, v []byte) error {
		if recs.Get(v) == nil {
			report.add(idsName, k, "id %d has no term record", decodeID(v))
		}
		return nil
	})
}

func verifyIndexes(tx *bolt.Tx, report *IntegrityReport) error {
	spo, pos, osp := tx.Bucket(bucketSPO), tx.Bucket(bucketPOS), tx.Bucket(bucketOSP)
	if spo == nil || pos == nil || osp == nil {
		return nil
	}
	terms, preds := tx.Bucket(bucketTerms), tx.Bucket(bucketPreds)

	err := spo.ForEach(func(k, _ []byte) error {
		report.TriplesChecked++
		if len(k) != tripleKeyLen {
			report.add(bucketSPO, k, "key length %d", len(k))
			return nil
		}
		s, p, o := decodeTripleKey(k)
		if !hasKey(pos, encodeTripleKey(p, o, s)) {
			report.add(bucketSPO, k, "missing from pos")
		}
		if !hasKey(osp, encodeTripleKey(o, s, p)) {
			report.add(bucketSPO, k, "missing from osp")
		}
		if terms.Get(encodeID(s)) == nil || terms.Get(encodeID(o)) == nil {
			report.add(bucketSPO, k, "unknown subject or object id")
		}
		if preds.Get(encodeID(p)) == nil {
			report.add(bucketSPO, k, "unknown predicate id %d", p)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Entries of the rotated indexes without a primary triple.
	for _, idx := range [...]struct {
		name  []byte
		b     *bolt.Bucket
		toSPO func(a, b, c ID) (ID, ID, ID)
	}{
		{bucketPOS, pos, fromPOS},
		{bucketOSP, osp, fromOSP},
	} {
		err := idx.b.ForEach(func(k, _ []byte) error {
			if len(k) != tripleKeyLen {
				report.add(idx.name, k, "key length %d", len(k))
				return nil
			}
			if !hasKey(spo, encodeTripleKey(idx.toSPO(decodeTripleKey(k)))) {
				report.add(idx.name, k, "missing from spo")
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
