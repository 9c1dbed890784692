package steam

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"time"

	"github.com/ericfisherdev/guardpanel/internal/domain/model"
)

// codeAlphabet is the character set of Steam Guard codes.
const codeAlphabet = "23456789BCDFGHJKMNPQRTVWXY"

const codeLength = 5

// generateCode derives the Steam Guard code for the window containing t.
func generateCode(sharedSecret []byte, t time.Time) string {
	var counter [8]byte
	binary.BigEndian.PutUint64(counter[:], uint64(model.CodeWindow(t)))

	mac := hmac.New(sha1.New, sharedSecret)
	mac.Write(counter[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	full := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	code := make([]byte, codeLength)
	for i := range code {
		code[i] = codeAlphabet[full%uint32(len(codeAlphabet))]
		full /= uint32(len(codeAlphabet))
	}
	return string(code)
}

// confirmationKey signs a confirmation request: HMAC-SHA1 over the big-endian
// timestamp followed by the tag, which Steam truncates at 32 bytes.
func confirmationKey(identitySecret []byte, t time.Time, tag string) string {
	if len(tag) > 32 {
		tag = tag[:32]
	}

	buf := make([]byte, 8, 8+len(tag))
	binary.BigEndian.PutUint64(buf, uint64(t.Unix()))
	buf = append(buf, tag...)

	mac := hmac.New(sha1.New, identitySecret)
	mac.Write(buf)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
