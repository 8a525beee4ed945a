// Package registration models the trust record of one extension installation.
//
// A Registration starts pending and moves through a fixed table:
//
//	pending  --approve--> trusted
//	pending  --reject-->  rejected
//	trusted  --revoke-->  rejected
//
// Every other move returns an *Error of KindInvalidState. Malformed data
// (empty extension id or key, empty optional strings) returns KindValidation.
// Reading or reassigning the persisted id incorrectly is a programming error
// and panics.
package registration
