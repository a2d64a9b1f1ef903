// Package password hashes and verifies user passwords.
//
// New hashes are Argon2id in the PHC string format:
//
//	$argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<key_b64>
//
// Manager adds rehash detection on top: a stored hash produced with other
// Argon2id parameters, or a legacy bcrypt hash, verifies as usual and comes
// back with a replacement hash under the current parameters.
//
// Stored hashes are untrusted input. Malformed hashes and hashes whose cost
// parameters exceed generous bounds never verify.
package password
