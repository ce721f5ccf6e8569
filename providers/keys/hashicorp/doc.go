// Package hashicorp implements credhub.KeyManagementService with the
// HashiCorp Vault Transit engine.
//
// A key configured with provider "vault-transit" names a Transit key in
// provider_key_id. Each credential version gets a fresh DEK, which Transit
// wraps; the wrapped DEK travels inside the stored ciphertext.
//
//	encryption:
//	  keys:
//	    - id: 6c1c1a53-3b0f-4f38-9a54-3fb0e25a46a1
//	      provider: vault-transit
//	      provider_key_id: credhub
//	      active: true
//
// Connection settings come from VAULT_ADDR, VAULT_NAMESPACE and either
// VAULT_TOKEN or VAULT_ROLE_ID plus VAULT_SECRET_ID.
package hashicorp
