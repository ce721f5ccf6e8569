package credhub

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CredentialView is the decrypted, typed rendering of one credential version.
type CredentialView struct {
	ID                   uuid.UUID            `json:"id"`
	Name                 string               `json:"name"`
	Type                 CredentialType       `json:"type"`
	VersionCreatedAt     time.Time            `json:"version_created_at"`
	Value                CredentialValue      `json:"value"`
	GenerationParameters GenerationParameters `json:"generation_parameters,omitempty"`
}

// ToView decrypts v and decodes its value into the typed credential for its
// type tag. An unknown tag fails with ErrUnknownCredentialType before any
// decryption happens.
func (s *CredentialStore) ToView(ctx context.Context, v *CredentialVersion) (*CredentialView, error) {
	if !v.Type.Valid() {
		return nil, NewUnknownCredentialTypeError(string(v.Type))
	}

	rawValue, rawParams, err := s.open(ctx, v)
	if err != nil {
		return nil, err
	}

	view := &CredentialView{
		ID:               v.ID,
		Name:             v.Name,
		Type:             v.Type,
		VersionCreatedAt: v.CreatedAt,
	}

	switch v.Type {
	case TypeValue:
		var val string
		err = s.serializer.Deserialize(rawValue, &val)
		view.Value = ValueCredential(val)
	case TypePassword:
		var val string
		err = s.serializer.Deserialize(rawValue, &val)
		view.Value = PasswordCredential(val)
	case TypeJSON:
		var val JSONCredential
		err = s.serializer.Deserialize(rawValue, &val)
		view.Value = val
	case TypeCertificate:
		var val CertificateCredential
		err = s.serializer.Deserialize(rawValue, &val)
		view.Value = val
	case TypeSSH:
		var val SSHCredential
		err = s.serializer.Deserialize(rawValue, &val)
		view.Value = val
	case TypeRSA:
		var val RSACredential
		err = s.serializer.Deserialize(rawValue, &val)
		view.Value = val
	case TypeUser:
		var val UserCredential
		err = s.serializer.Deserialize(rawValue, &val)
		view.Value = val
	default:
		return nil, NewUnknownCredentialTypeError(string(v.Type))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s value of version %s: %w", ErrInvalidValue, v.Type, v.ID, err)
	}

	if rawParams != nil {
		view.GenerationParameters, err = ParseGenerationParameters(v.Type, rawParams)
		if err != nil {
			return nil, err
		}
	}
	return view, nil
}

// Get returns the decrypted current version of name.
func (s *CredentialStore) Get(ctx context.Context, name string) (*CredentialView, error) {
	v, err := s.MostRecent(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.ToView(ctx, v)
}
