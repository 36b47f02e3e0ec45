package schema

import (
	"errors"
	"fmt"
)

// DocumentSet is a raw remote snapshot keyed by collection name.
type DocumentSet map[string][]Document

// Len returns the number of documents across all collections.
func (ds DocumentSet) Len() int {
	n := 0
	for _, docs := range ds {
		n += len(docs)
	}
	return n
}

// Dropped describes a document skipped during decoding because of an unparseable id.
type Dropped struct {
	Collection string
	ID         string
	Err        error
}

// DecodeSnapshot converts a remote snapshot into records.
//
// Documents with an unparseable id or reference are skipped and reported in the
// returned slice. Any other decoding error aborts the whole conversion.
func DecodeSnapshot(ds DocumentSet) (*Snapshot, []Dropped, error) {
	snap := &Snapshot{}
	var dropped []Dropped

	for _, coll := range Collections {
		for _, doc := range ds[coll] {
			if doc.Collection == "" {
				doc.Collection = coll
			}
			err := snap.add(doc)
			if err == nil {
				continue
			}
			if errors.Is(err, ErrBadID) {
				dropped = append(dropped, Dropped{Collection: coll, ID: doc.ID, Err: err})
				continue
			}
			return nil, dropped, fmt.Errorf("failed to decode %s/%s: %w", coll, doc.ID, err)
		}
	}
	for coll := range ds {
		if !knownCollection(coll) {
			return nil, dropped, fmt.Errorf("unknown collection %q", coll)
		}
	}
	return snap, dropped, nil
}

func (s *Snapshot) add(doc Document) error {
	switch doc.Collection {
	case CollectionStudents:
		st, err := StudentFromDocument(doc)
		if err != nil {
			return err
		}
		s.Students = append(s.Students, st)
	case CollectionCourses:
		c, err := CourseFromDocument(doc)
		if err != nil {
			return err
		}
		s.Courses = append(s.Courses, c)
	case CollectionEnrollments:
		e, err := EnrollmentFromDocument(doc)
		if err != nil {
			return err
		}
		s.Enrollments = append(s.Enrollments, e)
	case CollectionAttendance:
		a, err := AttendanceFromDocument(doc)
		if err != nil {
			return err
		}
		s.Attendance = append(s.Attendance, a)
	default:
		return fmt.Errorf("unknown collection %q", doc.Collection)
	}
	return nil
}

// Documents encodes every record of the snapshot, owners first.
func (s *Snapshot) Documents() []Document {
	docs := make([]Document, 0, s.Len())
	for _, st := range s.Students {
		docs = append(docs, st.ToDocument())
	}
	for _, c := range s.Courses {
		docs = append(docs, c.ToDocument())
	}
	for _, e := range s.Enrollments {
		docs = append(docs, e.ToDocument())
	}
	for _, a := range s.Attendance {
		docs = append(docs, a.ToDocument())
	}
	return docs
}

// GroupDocuments groups documents by collection.
func GroupDocuments(docs []Document) DocumentSet {
	ds := make(DocumentSet, len(Collections))
	for _, doc := range docs {
		ds[doc.Collection] = append(ds[doc.Collection], doc)
	}
	return ds
}

func knownCollection(name string) bool {
	for _, c := range Collections {
		if c == name {
			return true
		}
	}
	return false
}
