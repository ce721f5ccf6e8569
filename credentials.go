package credhub

import (
	"encoding/json"
	"fmt"
)

// CredentialValue is implemented by every typed credential payload.
type CredentialValue interface {
	CredentialType() CredentialType
}

// ValueCredential is an opaque string.
type ValueCredential string

// PasswordCredential is a password string.
type PasswordCredential string

// JSONCredential is an arbitrary JSON object.
type JSONCredential map[string]any

type CertificateCredential struct {
	CA          string `json:"ca,omitempty"`
	Certificate string `json:"certificate"`
	PrivateKey  string `json:"private_key"`
}

type SSHCredential struct {
	PublicKey            string `json:"public_key"`
	PrivateKey           string `json:"private_key"`
	PublicKeyFingerprint string `json:"public_key_fingerprint,omitempty"`
}

type RSACredential struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

type UserCredential struct {
	Username     string `json:"username,omitempty"`
	Password     string `json:"password"`
	PasswordHash string `json:"password_hash,omitempty"`
}

func (ValueCredential) CredentialType() CredentialType       { return TypeValue }
func (PasswordCredential) CredentialType() CredentialType    { return TypePassword }
func (JSONCredential) CredentialType() CredentialType        { return TypeJSON }
func (CertificateCredential) CredentialType() CredentialType { return TypeCertificate }
func (SSHCredential) CredentialType() CredentialType         { return TypeSSH }
func (RSACredential) CredentialType() CredentialType         { return TypeRSA }
func (UserCredential) CredentialType() CredentialType        { return TypeUser }

// validateValue rejects payloads that could never be rendered back.
func validateValue(v CredentialValue) error {
	switch c := v.(type) {
	case ValueCredential:
		if c == "" {
			return fmt.Errorf("%w: value cannot be empty", ErrInvalidValue)
		}
	case PasswordCredential:
		if c == "" {
			return fmt.Errorf("%w: password cannot be empty", ErrInvalidValue)
		}
	case JSONCredential:
		if c == nil {
			return fmt.Errorf("%w: json value must be an object", ErrInvalidValue)
		}
	case CertificateCredential:
		if c.Certificate == "" && c.CA == "" {
			return fmt.Errorf("%w: certificate or ca is required", ErrInvalidValue)
		}
	case SSHCredential:
		if c.PublicKey == "" && c.PrivateKey == "" {
			return fmt.Errorf("%w: public or private key is required", ErrInvalidValue)
		}
	case RSACredential:
		if c.PublicKey == "" && c.PrivateKey == "" {
			return fmt.Errorf("%w: public or private key is required", ErrInvalidValue)
		}
	case UserCredential:
		if c.Password == "" {
			return fmt.Errorf("%w: user password cannot be empty", ErrInvalidValue)
		}
	case nil:
		return fmt.Errorf("%w: value is required", ErrInvalidValue)
	default:
		return NewUnknownCredentialTypeError(string(v.CredentialType()))
	}
	return nil
}

// DecodeCredentialValue parses operator input for typ. Value and password
// credentials are taken verbatim; every other type is a JSON object.
func DecodeCredentialValue(typ CredentialType, raw []byte) (CredentialValue, error) {
	var (
		value CredentialValue
		err   error
	)
	switch typ {
	case TypeValue:
		value = ValueCredential(raw)
	case TypePassword:
		value = PasswordCredential(raw)
	case TypeJSON:
		var v JSONCredential
		err = json.Unmarshal(raw, &v)
		value = v
	case TypeCertificate:
		var v CertificateCredential
		err = json.Unmarshal(raw, &v)
		value = v
	case TypeSSH:
		var v SSHCredential
		err = json.Unmarshal(raw, &v)
		value = v
	case TypeRSA:
		var v RSACredential
		err = json.Unmarshal(raw, &v)
		value = v
	case TypeUser:
		var v UserCredential
		err = json.Unmarshal(raw, &v)
		value = v
	default:
		return nil, NewUnknownCredentialTypeError(string(typ))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s value: %w", ErrInvalidValue, typ, err)
	}
	if err := validateValue(value); err != nil {
		return nil, err
	}
	return value, nil
}

// GenerationParameters is implemented by the parameter sets accepted by Generate.
type GenerationParameters interface {
	CredentialType() CredentialType
}

type PasswordParameters struct {
	Length         int  `json:"length,omitempty"`
	ExcludeUpper   bool `json:"exclude_upper,omitempty"`
	ExcludeLower   bool `json:"exclude_lower,omitempty"`
	ExcludeNumber  bool `json:"exclude_number,omitempty"`
	IncludeSpecial bool `json:"include_special,omitempty"`
	OnlyHex        bool `json:"only_hex,omitempty"`
}

type UserParameters struct {
	Username string             `json:"username,omitempty"`
	Password PasswordParameters `json:"password"`
}

type SSHParameters struct {
	KeyLength int    `json:"key_length,omitempty"`
	Comment   string `json:"ssh_comment,omitempty"`
}

type RSAParameters struct {
	KeyLength int `json:"key_length,omitempty"`
}

type CertificateParameters struct {
	CommonName         string   `json:"common_name,omitempty"`
	Organization       string   `json:"organization,omitempty"`
	OrganizationalUnit string   `json:"organization_unit,omitempty"`
	Locality           string   `json:"locality,omitempty"`
	State              string   `json:"state,omitempty"`
	Country            string   `json:"country,omitempty"`
	AlternativeNames   []string `json:"alternative_names,omitempty"`
	KeyLength          int      `json:"key_length,omitempty"`
	DurationDays       int      `json:"duration,omitempty"`
	IsCA               bool     `json:"is_ca,omitempty"`
	SelfSign           bool     `json:"self_sign,omitempty"`
	// CA names a stored certificate credential that signs the new certificate.
	CA string `json:"ca,omitempty"`
}

func (PasswordParameters) CredentialType() CredentialType    { return TypePassword }
func (UserParameters) CredentialType() CredentialType        { return TypeUser }
func (SSHParameters) CredentialType() CredentialType         { return TypeSSH }
func (RSAParameters) CredentialType() CredentialType         { return TypeRSA }
func (CertificateParameters) CredentialType() CredentialType { return TypeCertificate }

// ParseGenerationParameters decodes raw JSON parameters for typ.
func ParseGenerationParameters(typ CredentialType, raw []byte) (GenerationParameters, error) {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	var (
		params GenerationParameters
		err    error
	)
	switch typ {
	case TypePassword:
		var p PasswordParameters
		err = json.Unmarshal(raw, &p)
		params = p
	case TypeUser:
		var p UserParameters
		err = json.Unmarshal(raw, &p)
		params = p
	case TypeSSH:
		var p SSHParameters
		err = json.Unmarshal(raw, &p)
		params = p
	case TypeRSA:
		var p RSAParameters
		err = json.Unmarshal(raw, &p)
		params = p
	case TypeCertificate:
		var p CertificateParameters
		err = json.Unmarshal(raw, &p)
		params = p
	case TypeValue, TypeJSON:
		return nil, fmt.Errorf("%w: %s credentials cannot be generated", ErrNotRegeneratable, typ)
	default:
		return nil, NewUnknownCredentialTypeError(string(typ))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s parameters: %w", ErrInvalidValue, typ, err)
	}
	return params, nil
}
