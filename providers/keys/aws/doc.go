// Package aws implements credhub.KeyManagementService with AWS KMS.
//
// A key configured with provider "aws-kms" names a KMS key id, ARN or alias in
// provider_key_id. KMS wraps the per-version DEK; the payload itself is sealed
// locally with AES-256-GCM.
//
//	encryption:
//	  keys:
//	    - id: 0d4bb5f4-8f2e-4bb9-9e0b-55d4b8f2cd10
//	      provider: aws-kms
//	      provider_key_id: alias/credhub
//	      region: eu-west-1
//	      active: true
//
// Credentials come from the default AWS chain (environment, shared config,
// instance role).
package aws
