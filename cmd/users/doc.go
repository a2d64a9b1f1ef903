// Package users implements Warden's identity service.
//
// Service[U] orchestrates registration, authentication, role management and
// the email-verification and password-reset token flows on top of an
// identity.Repository. It is generic over the user record so applications
// can add their own fields by embedding identity.User.
//
// Extension points are invoked in a fixed order with fixed failure rules:
//
//	PreRegistration   error aborts Register before anything is persisted
//	PostRegistration  error is returned as *HookError with the created user
//	PreLogin          false rejects the attempt without a lookup; error aborts
//	PostLogin         error aborts Authenticate after any rehash was persisted
//	PostVerification  error is returned as *HookError after is_verified was set
//
// Delivery of tokens is the Sender's job. The default NopSender drops them,
// so integrators must supply one.
package users
