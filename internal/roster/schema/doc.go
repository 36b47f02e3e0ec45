// Package schema defines the rollcall record types and their remote document form.
//
// # Overview
//
// Four record types live in the local store: Student, Course, Enrollment and
// Attendance. Each has an integer identity generated by the local store. The
// remote mirror keeps the same records as schema-less documents in four
// collections, with every identity re-encoded as a decimal string:
//
//	Students/42
//	{
//	  "studentId": "42",
//	  "name": "Ayesha Khan",
//	  "registrationNumber": "FAST123456789",
//	  "contactNumber": "03001234567",
//	  "email": "ayesha@example.com",
//	  "isCR": false,
//	  "isRepeater": false,
//	  "createdAt": 1767225600000
//	}
//
//	Attendance/7
//	{
//	  "attendanceId": "7",
//	  "studentId": "42",
//	  "courseId": "3",
//	  "date": "2026-01-01T09:30:00Z",
//	  "isPresent": true
//	}
//
// # Decoding
//
// Documents written by different backends carry numbers and times in different
// shapes (Firestore returns int64 and time.Time, JSON backends return numbers
// and RFC 3339 strings). The From*Document functions accept all of them.
//
// A document whose own id or any referenced id cannot be parsed back into an
// integer is rejected with ErrBadID; callers drop such documents. Any other
// decoding error means the document is malformed.
//
// # Validation
//
// Validate checks records against the course code, registration number,
// contact number and name formats before they reach the store:
//
//	if err := schema.Validate(course); err != nil {
//	    var verrs schema.FieldErrors
//	    if errors.As(err, &verrs) {
//	        for _, fe := range verrs {
//	            fmt.Println(fe.Field, fe.Message)
//	        }
//	    }
//	}
package schema
