// Package hashicorp implements credhub.SecretManagementService with the
// HashiCorp Vault KV v2 engine.
//
// Software keys can keep their 32 byte material in Vault:
//
//	encryption:
//	  keys:
//	    - id: 6c1c1a53-3b0f-4f38-9a54-3fb0e25a46a1
//	      provider: internal
//	      secret:
//	        backend: vault-kv
//	        path: secret/data/credhub/keys/6c1c1a53-3b0f-4f38-9a54-3fb0e25a46a1
//
// Connection settings come from the VAULT_* environment variables.
package hashicorp
