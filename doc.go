// Package credhub stores versioned, encrypted credentials and manages the
// keys that protect them.
//
// Every write appends an immutable CredentialVersion. The value, and the
// generation parameters when there are any, are sealed with AES-GCM under the
// active key of a KeyDirectory. Older versions stay readable for as long as
// the key that sealed them is configured.
//
// # Key Features
//
//   - Append-only versions with case-insensitive names
//   - Typed credentials: value, password, json, certificate, ssh, rsa and user
//   - Generation and regeneration of passwords, users, SSH and RSA keys and certificates
//   - Software keys, HashiCorp Vault Transit and AWS KMS envelope keys
//   - Key rotation with background re-encryption and key usage reporting
//   - Pluggable version stores: in-memory and SQLite
//
// # Quick Start
//
// Build a store over a key directory:
//
//	directory, err := credhub.NewKeyDirectory(entries)
//	if err != nil {
//	    return err
//	}
//	encryption := credhub.NewEncryptionService(directory)
//	store, err := credhub.NewCredentialStore(credhub.NewInMemoryVersionStore(), encryption)
//	if err != nil {
//	    return err
//	}
//
//	_, err = store.Set(ctx, "/app/db-password", credhub.PasswordCredential("s3cret"))
//	view, err := store.Get(ctx, "/APP/db-password")
//
// # Names
//
// Names are paths separated by "/". A leading separator is added when it is
// missing. Lookups fold case, while stored versions keep the casing they
// were written with.
//
// # Key Rotation
//
// Add a new key, mark it active and demote the old one, then reload the
// directory. New versions are sealed by the new key at once. A Reencryptor
// copies older versions under the active key:
//
//	result, err := credhub.NewReencryptor(store, usage).Run(ctx)
//
// The copy keeps the original's name, type and timestamp and records the
// original as its source. Originals are not removed, so a key can only be
// dropped from the configuration once nothing references it. KeyUsageService
// reports how many versions sit under each bucket of keys.
//
// # Error Handling
//
// Errors wrap sentinel values and can be checked with errors.Is or the Is*
// helpers:
//
//	view, err := store.Get(ctx, name)
//	switch {
//	case credhub.IsNotFoundError(err):
//	    // no such credential
//	case credhub.IsAuthError(err):
//	    // ciphertext was tampered with or sealed by another key
//	case credhub.IsRetryableError(err):
//	    // provider or store is temporarily unavailable
//	}
//
// # Testing
//
// NewTestCredentialStore builds a store over in-memory components, and
// SimpleTestKMS stands in for a hardware-backed provider.
package credhub
