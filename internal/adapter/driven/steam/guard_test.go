package steam

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var rfcSecret = []byte("12345678901234567890")

func TestGenerateCode_KnownVectors(t *testing.T) {
	tests := []struct {
		unix int64
		want string
	}{
		{59, "PV9M4"},
		{1111111109, "PY4YB"},
		{1234567890, "VHHQY"},
		{1700000000, "R87JJ"},
		{1700000029, "5MWGC"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, generateCode(rfcSecret, time.Unix(tt.unix, 0)))
		})
	}
}

func TestGenerateCode_StableWithinWindow(t *testing.T) {
	start := time.Unix(1700000010, 0)
	want := generateCode(rfcSecret, start)

	for offset := range 30 {
		got := generateCode(rfcSecret, start.Add(time.Duration(offset)*time.Second))
		assert.Equal(t, want, got, "offset %d", offset)
	}
	assert.NotEqual(t, want, generateCode(rfcSecret, start.Add(30*time.Second)))
}

func TestGenerateCode_Alphabet(t *testing.T) {
	for i := range 200 {
		code := generateCode(rfcSecret, time.Unix(int64(i)*30, 0))
		assert.Len(t, code, codeLength)
		for _, r := range code {
			assert.Contains(t, codeAlphabet, string(r))
		}
	}
}

func TestConfirmationKey(t *testing.T) {
	key := confirmationKey([]byte("identity-secret-bytes"), time.Unix(1700000000, 0), "conf")
	assert.Equal(t, "HVFUf++PLB/uel1FSjq64QXjcZ0=", key)
}
