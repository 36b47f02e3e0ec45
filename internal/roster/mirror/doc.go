// Package mirror keeps a remote document-store copy of the local records.
//
// The mirror follows the local store and never generates identities: every
// document id is the decimal string of a local id. Writes merge into existing
// documents, so a partial payload never erases fields it does not carry.
//
// # Backends
//
// A Client runs on top of any DocumentStore:
//   - memdoc: in-process maps, used for tests and offline use
//   - filedoc: one JSON file per document on a local or shared filesystem
//   - libsqldoc: a documents table in a libSQL / Turso database
//   - cloudstore: Google Cloud Firestore
//
// # Cascading deletes
//
// The document store has no foreign keys. Deleting a student or course
// queries Enrollments and Attendance for documents that reference it and
// removes them, together with the root document, in one atomic batch.
//
// # Pending writes
//
// When a write fails because the backend is unreachable it is kept in an
// in-memory pending buffer and reported to the caller as ErrQueued. Later
// writes queue behind it so per-document order is preserved.
// WaitForPendingWrites flushes the buffer in order and blocks until it is
// empty or the context ends:
//
//	client := mirror.New(store, nil)
//	if err := client.SaveStudent(ctx, student); errors.Is(err, mirror.ErrQueued) {
//	    // delivered later by a drain
//	}
//	if err := client.WaitForPendingWrites(ctx); err != nil {
//	    return err
//	}
package mirror
