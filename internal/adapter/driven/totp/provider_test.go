package totp_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/guardpanel/internal/adapter/driven/totp"
	"github.com/ericfisherdev/guardpanel/internal/domain/model"
	"github.com/ericfisherdev/guardpanel/internal/domain/port/driven"
)

func newEntry(uri string) model.AccountEntry {
	return model.AccountEntry{
		Name:    "github",
		Kind:    model.KindTOTP,
		Payload: []byte(`{"uri":"` + uri + `"}`),
	}
}

func TestProvider_GenerateCode(t *testing.T) {
	p, err := totp.New(newEntry("otpauth://totp/GitHub:alice?secret=JBSWY3DPEHPK3PXP&issuer=GitHub"))
	require.NoError(t, err)

	tests := []struct {
		unix int64
		want string
	}{
		{0, "282760"},
		{59, "996554"},
		{1700000000, "324550"},
	}
	for _, tt := range tests {
		code, err := p.GenerateCode(time.Unix(tt.unix, 0))
		require.NoError(t, err)
		assert.Equal(t, tt.want, code, "t=%d", tt.unix)
	}
}

func TestProvider_HonorsPeriodAndDigits(t *testing.T) {
	p, err := totp.New(newEntry("otpauth://totp/x?secret=JBSWY3DPEHPK3PXP&period=60&digits=8"))
	require.NoError(t, err)

	code, err := p.GenerateCode(time.Unix(1700000000, 0))
	require.NoError(t, err)
	assert.Equal(t, "19508648", code)
	assert.Equal(t, time.Minute, p.CodePeriod())

	plain, err := totp.New(newEntry("otpauth://totp/x?secret=JBSWY3DPEHPK3PXP"))
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, plain.CodePeriod())
}

func TestProvider_RejectsBadPayload(t *testing.T) {
	tests := []struct {
		name  string
		entry model.AccountEntry
	}{
		{"not json", model.AccountEntry{Name: "x", Payload: []byte("{")}},
		{"hotp uri", newEntry("otpauth://hotp/x?secret=JBSWY3DPEHPK3PXP&counter=1")},
		{"no secret", newEntry("otpauth://totp/x")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := totp.New(tt.entry)
			assert.Error(t, err)
		})
	}
}

func TestProvider_NoRemoteSurface(t *testing.T) {
	entry := newEntry("otpauth://totp/x?secret=JBSWY3DPEHPK3PXP")
	p, err := totp.Factory.NewProvider(entry, nil)
	require.NoError(t, err)
	ctx := context.Background()

	assert.NoError(t, p.RefreshSession(ctx))

	confs, err := p.FetchConfirmations(ctx)
	require.NoError(t, err)
	assert.Empty(t, confs)

	assert.ErrorIs(t, p.RespondToConfirmation(ctx, model.Confirmation{}, model.ResponseAccept), driven.ErrNotSupported)
	assert.ErrorIs(t, p.Deactivate(ctx, model.DeactivateToEmail), driven.ErrNotSupported)

	out, err := p.Export()
	require.NoError(t, err)
	assert.Equal(t, entry.Payload, out)
	assert.Equal(t, model.KindTOTP, p.Kind())
}
