// Package registration lets a host application register new users (or let
// existing users set a new password) purely through an emailed, signed,
// time-limited link. No password is ever transmitted or required up front.
//
// Token codec:
//   - Codec serializes a RegistrationIntent (email, optional user id,
//     replay marker, optional redirect target) into a single tamper-evident
//     URL-safe string signed with an HMAC derived from the host signing key
//     and a fixed salt. Expiry is enforced entirely by the timestamp embedded
//     at signing time, so no token state is ever persisted and no cleanup
//     job is needed.
//
// Confirmation flow:
//   - ConfirmationStateMachine consumes a decoded intent and decides whether
//     to provision a new account, let a pending account set its password, or
//     reject the link (already registered, already used, expired, tampered).
//     Replay of recovery links is detected by comparing the login marker
//     embedded in the token against the user's current last-login timestamp.
//
// Integration:
//   - RegisterRegistrationRoutes wires the form, "check your email", and
//     password-set views onto any go-router Router. Mail is rendered through
//     pongo2 templates (first non-empty line is the subject, the rest the
//     body) and handed to a pluggable Sender. A PasswordSetListener receives
//     the user and plaintext password after a successful set so the host can
//     auto-login or audit; JWTAutoLogin provides a cookie-based default.
package registration
