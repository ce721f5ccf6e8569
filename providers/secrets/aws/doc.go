// Package aws implements credhub.SecretManagementService with AWS Secrets
// Manager.
//
// Software keys can keep their 32 byte material in Secrets Manager instead of
// the configuration file:
//
//	encryption:
//	  keys:
//	    - id: 6c1c1a53-3b0f-4f38-9a54-3fb0e25a46a1
//	      provider: internal
//	      secret:
//	        backend: aws-secrets-manager
//	        path: credhub/keys/6c1c1a53-3b0f-4f38-9a54-3fb0e25a46a1
//
// The secret string is the base64 encoding of the key. "credhub keys
// provision" creates it.
package aws
