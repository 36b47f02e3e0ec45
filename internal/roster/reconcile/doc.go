// Package reconcile orchestrates every mutation of the roster so the local
// store and the remote mirror stay consistent.
//
// Each command follows the same path:
//
//	Pending -> LocalCommitted -> MirrorCommitted
//	                          -> MirrorFailed
//
// The local write is canonical. If it fails the command fails and the mirror
// is never touched. If the mirror write fails afterwards the command still
// succeeds; the failure is logged and returned as data on the Receipt.
//
// Once the local write has committed, the mirror attempt runs to completion
// even if the caller's context is canceled. It is bounded by
// Config.MirrorTimeout instead.
//
// Sync performs the reconciliation pull: drain buffered mirror writes, fetch
// the full remote snapshot, decode it, and upsert every record into the local
// store in one transaction. Any failure aborts the pull and leaves the local
// store untouched. A pull never deletes local rows.
//
// Example:
//
//	engine := reconcile.New(store, mirrorClient, nil)
//	rec, err := engine.AddStudent(ctx, &schema.Student{
//	    Name:               "Ayesha Khan",
//	    RegistrationNumber: "BSCS210042001",
//	})
//	if err != nil {
//	    return err // nothing was written
//	}
//	if rec.State == reconcile.StateMirrorFailed {
//	    log.Printf("student %d saved locally only: %v", rec.ID, rec.MirrorErr)
//	}
package reconcile
