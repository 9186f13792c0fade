// Package auth holds the bearer credential the chat client logs in with.
//
// # Credentials
//
// The service issues an opaque bearer token at login. When the token is a
// JWT, the client reads two claims without verifying the signature:
//
//   - exp: a credential past its expiry is treated as logged out
//   - username (or sub): recovers the display name when none was saved
//
// Signature checks stay with the service. Non-JWT tokens are accepted as
// long as they are non-empty.
//
//	cred := &auth.Credential{Token: token, Username: "alice"}
//	if err := cred.Validate(time.Now()); errors.Is(err, auth.ErrExpiredToken) {
//		// prompt for login
//	}
package auth
