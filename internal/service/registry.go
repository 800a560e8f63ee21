package service

import (
	"context"
	"errors"
	"fmt"

	"dbinventory/internal/core"

	"github.com/go-playground/validator/v10"
)

// Registry manages instances and the credentials used to reach them.
type Registry struct {
	instances core.InstanceRepository
	creds     core.CredentialRepository
	crypto    *EncryptionService
	validate  *validator.Validate
}

func NewRegistry(instances core.InstanceRepository, creds core.CredentialRepository, crypto *EncryptionService) *Registry {
	return &Registry{
		instances: instances,
		creds:     creds,
		crypto:    crypto,
		validate:  validator.New(),
	}
}

func (r *Registry) CreateCredential(ctx context.Context, name, username, password, description string) (*core.Credential, error) {
	if name == "" || username == "" {
		return nil, core.Errorf(core.CodeValidation, "credential.create", "name and username are required")
	}
	enc, err := r.crypto.Encrypt(password)
	if err != nil {
		return nil, fmt.Errorf("encrypt credential: %w", err)
	}
	c := &core.Credential{Name: name, Username: username, PasswordEnc: enc, Description: description}
	if err := r.creds.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// RotateCredential replaces the stored password and, when set, the username.
func (r *Registry) RotateCredential(ctx context.Context, id int64, username, password string) (*core.Credential, error) {
	c, err := r.creds.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if username != "" {
		c.Username = username
	}
	if c.PasswordEnc, err = r.crypto.Encrypt(password); err != nil {
		return nil, fmt.Errorf("encrypt credential: %w", err)
	}
	if err := r.creds.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *Registry) ListCredentials(ctx context.Context) ([]core.Credential, error) {
	return r.creds.GetAll(ctx)
}

func (r *Registry) DeleteCredential(ctx context.Context, id int64) error {
	return r.creds.Delete(ctx, id)
}

func (r *Registry) validateInstance(ctx context.Context, op string, inst *core.Instance) error {
	if inst.Port == 0 {
		inst.Port = inst.Vendor.DefaultPort()
	}
	if err := r.validate.Struct(inst); err != nil {
		return core.E(core.CodeValidation, op, err)
	}
	if inst.CredentialID != nil {
		if _, err := r.creds.GetByID(ctx, *inst.CredentialID); err != nil {
			if errors.Is(err, core.ErrNotFound) {
				return core.Errorf(core.CodeValidation, op, "credential %d does not exist", *inst.CredentialID)
			}
			return err
		}
	}
	return nil
}

func (r *Registry) CreateInstance(ctx context.Context, inst *core.Instance) error {
	if err := r.validateInstance(ctx, "instance.create", inst); err != nil {
		return err
	}
	return r.instances.Create(ctx, inst)
}

func (r *Registry) UpdateInstance(ctx context.Context, inst *core.Instance) error {
	if err := r.validateInstance(ctx, "instance.update", inst); err != nil {
		return err
	}
	return r.instances.Update(ctx, inst)
}

func (r *Registry) GetInstance(ctx context.Context, id int64) (*core.Instance, error) {
	return r.instances.GetByID(ctx, id)
}

func (r *Registry) ListInstances(ctx context.Context, includeDeleted bool) ([]core.Instance, error) {
	return r.instances.GetAll(ctx, includeDeleted)
}

func (r *Registry) DeleteInstance(ctx context.Context, id int64) error {
	return r.instances.SoftDelete(ctx, id)
}

// ResolveLogin decrypts the credential linked to the instance.
func (r *Registry) ResolveLogin(ctx context.Context, inst core.Instance) (string, string, error) {
	if inst.CredentialID == nil {
		return "", "", core.Errorf(core.CodeConnect, "credential.resolve", "instance %s has no credential", inst.Name)
	}
	c, err := r.creds.GetByID(ctx, *inst.CredentialID)
	if err != nil {
		return "", "", core.E(core.CodeConnect, "credential.resolve", err)
	}
	password, err := r.crypto.Decrypt(c.PasswordEnc)
	if err != nil {
		return "", "", core.E(core.CodeConnect, "credential.resolve", errors.New("credential cannot be decrypted with the current key"))
	}
	return c.Username, password, nil
}
