package service

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-account-portal/internal/model"
	"go-account-portal/pkg/apierror"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func TestUpdateAvatarStoresScaledPNG(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	pair := register(t, svc, "alice@example.com", "correct horse battery")

	upload := encodePNG(t, 1024, 512)
	err := svc.UpdateAvatar(ctx, pair.User.ID, bytes.NewReader(upload), 5<<20, model.Actor{})
	require.NoError(t, err)

	stored, err := svc.Avatar(ctx, pair.User.ID)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(stored))
	require.NoError(t, err)
	assert.Equal(t, 256, img.Bounds().Dx())
	assert.Equal(t, 128, img.Bounds().Dy())
}

func TestUpdateAvatarKeepsSmallImages(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	pair := register(t, svc, "alice@example.com", "correct horse battery")

	err := svc.UpdateAvatar(ctx, pair.User.ID, bytes.NewReader(encodePNG(t, 64, 64)), 5<<20, model.Actor{})
	require.NoError(t, err)

	stored, err := svc.Avatar(ctx, pair.User.ID)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(stored))
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
}

func TestUpdateAvatarRejectsOversizedUpload(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	pair := register(t, svc, "alice@example.com", "correct horse battery")

	upload := encodePNG(t, 512, 512)
	err := svc.UpdateAvatar(ctx, pair.User.ID, bytes.NewReader(upload), 16, model.Actor{})

	var apiErr *apierror.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "PAYLOAD_TOO_LARGE", apiErr.Code)
}

func TestUpdateAvatarRejectsNonImage(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	pair := register(t, svc, "alice@example.com", "correct horse battery")

	err := svc.UpdateAvatar(ctx, pair.User.ID, strings.NewReader("definitely not an image"), 5<<20, model.Actor{})

	var apiErr *apierror.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "BAD_REQUEST", apiErr.Code)
}

func TestAvatarMissing(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	pair := register(t, svc, "alice@example.com", "correct horse battery")

	_, err := svc.Avatar(ctx, pair.User.ID)
	assert.ErrorIs(t, err, model.ErrUserNotFound)
}
