// Package twofa owns TOTP secret lifecycle and challenge verification. The
// rest of the service never sees a raw secret: secrets live on the user
// record envelope-encrypted, and only this package decrypts them.
package twofa

import (
	"context"
	"fmt"
	"time"

	otplib "github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"teamhub/internal/common"
	"teamhub/internal/encryption"
	"teamhub/internal/model"
)

const (
	// totpPeriod is the rolling window length in seconds.
	totpPeriod = 30
	// totpSkew accepts exactly one adjacent window on either side, to
	// tolerate client clock drift. Anything further off is rejected.
	totpSkew = 1
)

// Controller drives the Disabled -> PendingSetup -> Enabled -> Disabled
// state machine on a user record. Persistence of the mutated user is the
// caller's job; the controller only decides legality and mutates in memory.
type Controller struct {
	enc    *encryption.Manager
	issuer string
	now    func() time.Time
}

func NewController(enc *encryption.Manager, issuer string) *Controller {
	return &Controller{
		enc:    enc,
		issuer: issuer,
		now:    time.Now,
	}
}

// WithClock overrides the time source. Test helper.
func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now
	return c
}

// BeginSetup generates a fresh TOTP secret, stores it encrypted on the user
// in pending-setup state, and returns the provisioning values for a one-time
// display to the client.
func (c *Controller) BeginSetup(ctx context.Context, user *model.User) (secret, otpauthURL string, err error) {
	if user.TwoFaStatus == model.TwoFaEnabled {
		return "", "", common.ErrTwoFaAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      c.issuer,
		AccountName: user.Email,
		Period:      totpPeriod,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to generate totp secret: %w", err)
	}

	sealed, err := c.enc.EncryptSecret(ctx, key.Secret())
	if err != nil {
		return "", "", fmt.Errorf("failed to encrypt totp secret: %w", err)
	}

	user.TwoFaStatus = model.TwoFaPendingSetup
	user.TwoFaSecretEnc = sealed.EncryptedValue
	user.TwoFaSecretDEK = sealed.EncryptedDEK
	user.TwoFaKeyID = sealed.KeyID

	return key.Secret(), key.URL(), nil
}

// ConfirmSetup verifies one code against the pending secret and flips the
// user to enabled.
func (c *Controller) ConfirmSetup(ctx context.Context, user *model.User, code string) error {
	if user.TwoFaStatus != model.TwoFaPendingSetup {
		return common.ErrTwoFaNotEnabled
	}

	if err := c.validate(ctx, user, code); err != nil {
		return err
	}

	user.TwoFaStatus = model.TwoFaEnabled
	return nil
}

// Challenge verifies a sign-in code against an enabled secret.
func (c *Controller) Challenge(ctx context.Context, user *model.User, code string) error {
	if user.TwoFaStatus != model.TwoFaEnabled {
		return common.ErrTwoFaNotEnabled
	}
	return c.validate(ctx, user, code)
}

// Disable requires a currently valid code (proof of possession) and clears
// the secret from the user record.
func (c *Controller) Disable(ctx context.Context, user *model.User, code string) error {
	if user.TwoFaStatus != model.TwoFaEnabled {
		return common.ErrTwoFaNotEnabled
	}

	if err := c.validate(ctx, user, code); err != nil {
		return err
	}

	user.TwoFaStatus = model.TwoFaDisabled
	user.TwoFaSecretEnc = ""
	user.TwoFaSecretDEK = ""
	user.TwoFaKeyID = ""
	return nil
}

func (c *Controller) validate(ctx context.Context, user *model.User, code string) error {
	secret, err := c.enc.DecryptSecret(ctx, &encryption.EncryptedData{
		EncryptedValue: user.TwoFaSecretEnc,
		EncryptedDEK:   user.TwoFaSecretDEK,
		KeyID:          user.TwoFaKeyID,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrInternal, err)
	}

	ok, err := totp.ValidateCustom(code, secret, c.now().UTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otplib.DigitsSix,
		Algorithm: otplib.AlgorithmSHA1,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrInternal, err)
	}
	if !ok {
		return common.ErrTwoFaMismatch
	}

	return nil
}
