package service

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"io"
	"net/http"

	_ "image/gif"
	_ "image/jpeg"

	"golang.org/x/image/draw"

	"go-account-portal/internal/event"
	"go-account-portal/internal/model"
	"go-account-portal/pkg/apierror"
)

// Avatars are normalized to PNG and capped at this edge length before they
// hit the database.
const avatarMaxEdge = 256

// UpdateAvatar decodes an uploaded image, scales it down to the avatar
// bounds, and stores the PNG bytes on the user record.
func (s *AuthService) UpdateAvatar(ctx context.Context, userID string, r io.Reader, maxBytes int64, actor model.Actor) error {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return apierror.New("BAD_REQUEST", "could not read upload", "", http.StatusBadRequest)
	}
	if int64(len(data)) > maxBytes {
		return apierror.New("PAYLOAD_TOO_LARGE", "avatar exceeds the size limit", "", http.StatusRequestEntityTooLarge)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return apierror.New("BAD_REQUEST", "avatar must be a PNG, JPEG, or GIF image", "", http.StatusBadRequest)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, scaleAvatar(src)); err != nil {
		return apierror.New("BAD_REQUEST", "could not encode avatar", "", http.StatusBadRequest)
	}

	if err := s.users.UpdateAvatar(ctx, userID, buf.Bytes()); err != nil {
		return err
	}

	s.publish(event.TypeProfileUpdated, actor, model.AuditStatusOK, userID, "avatar")
	return nil
}

// Avatar returns the stored PNG bytes for a user, or ErrUserNotFound when
// none is set.
func (s *AuthService) Avatar(ctx context.Context, userID string) ([]byte, error) {
	return s.users.GetAvatar(ctx, userID)
}

func scaleAvatar(src image.Image) image.Image {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= avatarMaxEdge && h <= avatarMaxEdge {
		return src
	}

	if w >= h {
		h = h * avatarMaxEdge / w
		w = avatarMaxEdge
	} else {
		w = w * avatarMaxEdge / h
		h = avatarMaxEdge
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	return dst
}
