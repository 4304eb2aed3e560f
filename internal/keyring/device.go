package keyring

import (
	"errors"
	"io"
	"time"

	"recall254/signing-core/pkg/models"

	"github.com/google/uuid"
)

// ErrDeviceMismatch means the device identity embedded in KeyMaterial no
// longer matches the persisted installation identity. Signing with such keys
// would produce evidence bound to the wrong device, so the keyring clears
// all crypto state and forces regeneration.
var ErrDeviceMismatch = errors.New("DEVICE_IDENTITY_MISMATCH")

func newDeviceIdentity(rng io.Reader, now time.Time) (models.DeviceIdentity, error) {
	id, err := uuid.NewRandomFromReader(rng)
	if err != nil {
		return models.DeviceIdentity{}, err
	}
	return models.DeviceIdentity{
		ID:        id.String(),
		CreatedAt: now.UTC(),
	}, nil
}

// deviceSecret is the wrapping secret used when the caller supplies no
// passphrase. Both inputs live in KeyMaterial, so it is re-derivable on the
// same installation and nowhere else.
func deviceSecret(deviceID, keyVersion string) string {
	return deviceID + "-" + keyVersion
}
