package mandate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveForPod(t *testing.T) {
	master := []byte("platform-master-secret")

	alpha, err := DeriveForPod(master, "pod-alpha")
	require.NoError(t, err)
	require.Len(t, alpha, 32)

	// Deterministic per pod, distinct across pods.
	again, err := DeriveForPod(master, "pod-alpha")
	require.NoError(t, err)
	assert.Equal(t, alpha, again)

	beta, err := DeriveForPod(master, "pod-beta")
	require.NoError(t, err)
	assert.NotEqual(t, alpha, beta)
}

func TestDeriveForPodRejectsEmptyInputs(t *testing.T) {
	if _, err := DeriveForPod(nil, "pod-alpha"); err == nil {
		t.Fatal("expected error for empty master")
	}
	if _, err := DeriveForPod([]byte("m"), ""); err == nil {
		t.Fatal("expected error for empty podID")
	}
}

func TestDerivedSecretsDoNotCrossValidate(t *testing.T) {
	master := []byte("platform-master-secret")
	alpha, err := DeriveForPod(master, "pod-alpha")
	require.NoError(t, err)
	beta, err := DeriveForPod(master, "pod-beta")
	require.NoError(t, err)

	token, err := Sign(Payload{Intent: "memory.compact"}, alpha)
	require.NoError(t, err)

	assert.True(t, signatureValid(token, alpha))
	assert.False(t, signatureValid(token, beta))
	assert.False(t, signatureValid(token, master))
}

func TestHMACSignerCopiesSecret(t *testing.T) {
	secret := []byte("mutable")
	s, err := NewHMACSigner(secret)
	require.NoError(t, err)

	sig1, err := s.Sign([]byte("msg"))
	require.NoError(t, err)

	secret[0] = 'X'
	sig2, err := s.Sign([]byte("msg"))
	require.NoError(t, err)
	assert.Equal(t, sig1, sig2)
}
