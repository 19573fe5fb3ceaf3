package signature

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerify(t *testing.T) {
	body := []byte(`{"message":"hi"}`)
	sig := Sign("s3cret", body)

	assert.True(t, strings.HasPrefix(sig, "sha256="))
	assert.True(t, Verify("s3cret", body, sig))
	assert.True(t, Verify("s3cret", body, strings.TrimPrefix(sig, "sha256=")), "prefix is optional")
	assert.True(t, Verify("s3cret", body, "  "+sig+" "))

	assert.False(t, Verify("other", body, sig), "wrong secret")
	assert.False(t, Verify("s3cret", []byte(`{"message":"ho"}`), sig), "tampered body")
	assert.False(t, Verify("s3cret", body, ""), "missing signature")
	assert.False(t, Verify("s3cret", body, "sha256=zz"), "not hex")
}
