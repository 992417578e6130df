package signer

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DeIDPlatform/pkg/errors"
	"DeIDPlatform/pkg/logger"
	"DeIDPlatform/services/deid-backend/internal/domain"
)

const (
	testKey     = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testAddress = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"
	testWallet  = "0x000000000000000000000000000000000000dEaD"
)

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := NewSigner(testKey, logger.NewNop())
	require.NoError(t, err)
	return s
}

// TestNewSigner_Address проверяет вычисление адреса из ключа
func TestNewSigner_Address(t *testing.T) {
	s := newTestSigner(t)
	assert.True(t, s.Configured())
	assert.Equal(t, testAddress, s.Address())

	noPrefix, err := NewSigner(strings.TrimPrefix(testKey, "0x"), logger.NewNop())
	require.NoError(t, err)
	assert.Equal(t, testAddress, noPrefix.Address())
}

// TestNewSigner_InvalidKey проверяет ошибки конфигурации ключа
func TestNewSigner_InvalidKey(t *testing.T) {
	for _, key := range []string{"0xzz", "0x1234", "0x" + strings.Repeat("00", 32)} {
		_, err := NewSigner(key, logger.NewNop())
		assert.Error(t, err, key)
	}
}

// TestSigner_NotConfigured проверяет поведение без ключа
func TestSigner_NotConfigured(t *testing.T) {
	s, err := NewSigner("", logger.NewNop())
	require.NoError(t, err)
	assert.False(t, s.Configured())

	_, signErr := s.SignPlain("ipfs://meta")
	require.NotNil(t, signErr)
	assert.Equal(t, errors.ErrSignerNotConfigured, signErr.Code)

	_, signErr = s.SignSubjectBound(testWallet, "task-1")
	require.NotNil(t, signErr)
	assert.Equal(t, errors.ErrSignerNotConfigured, signErr.Code)
}

// TestSignSubjectBound_Payload проверяет упаковку адреса и идентификатора задания
func TestSignSubjectBound_Payload(t *testing.T) {
	s := newTestSigner(t)

	att, err := s.SignSubjectBound(testWallet, "task-1")
	require.Nil(t, err)

	expectedPayload, _ := hex.DecodeString("000000000000000000000000000000000000dead")
	expectedPayload = append(expectedPayload, []byte("task-1")...)
	assert.Equal(t, expectedPayload, att.Payload)
	assert.Len(t, att.Payload, 26)
	assert.Equal(t, "0x"+hex.EncodeToString(Keccak256(expectedPayload)), att.MessageHash)
	assert.Equal(t, testAddress, att.SignerAddress)
}

// TestSign_Determinism проверяет, что одинаковые входы дают одинаковую подпись
func TestSign_Determinism(t *testing.T) {
	s := newTestSigner(t)

	first, err := s.SignSubjectBound(testWallet, "task-1")
	require.Nil(t, err)
	second, err := s.SignSubjectBound(testWallet, "task-1")
	require.Nil(t, err)
	assert.Equal(t, first.Signature, second.Signature)
	assert.Equal(t, first.MessageHash, second.MessageHash)

	// Регистр адреса не влияет на байты payload
	lower, err := s.SignSubjectBound(strings.ToLower(testWallet), "task-1")
	require.Nil(t, err)
	assert.Equal(t, first.Signature, lower.Signature)
}

// TestSign_Distinctness проверяет, что разные привязки дают разные хэши
func TestSign_Distinctness(t *testing.T) {
	s := newTestSigner(t)

	base, _ := s.SignSubjectBound(testWallet, "task-1")
	otherTask, _ := s.SignSubjectBound(testWallet, "task-2")
	otherWallet, _ := s.SignSubjectBound("0x000000000000000000000000000000000000bEEF", "task-1")
	plain, _ := s.SignPlain("task-1")

	assert.NotEqual(t, base.MessageHash, otherTask.MessageHash)
	assert.NotEqual(t, base.MessageHash, otherWallet.MessageHash)
	assert.NotEqual(t, base.MessageHash, plain.MessageHash)
}

// TestSign_Recoverable проверяет восстановление адреса подписанта
func TestSign_Recoverable(t *testing.T) {
	s := newTestSigner(t)

	subject, _ := s.SignSubjectBound(testWallet, "task-1")
	plain, _ := s.SignPlain("ipfs://QmMetadata")

	for _, att := range []*domain.Attestation{subject, plain} {
		hash, sig := att.MessageHash, att.Signature
		require.Len(t, sig, 132)

		v := sig[130:]
		assert.Contains(t, []string{"1b", "1c"}, v)

		recovered, err := Recover(hash, sig)
		require.NoError(t, err)
		assert.Equal(t, testAddress, recovered)
		assert.True(t, Verify(hash, sig, strings.ToLower(testAddress)))
		assert.False(t, Verify(hash, sig, testWallet))
	}
}

// TestSign_LowS проверяет нормализацию s
func TestSign_LowS(t *testing.T) {
	s := newTestSigner(t)
	att, err := s.SignPlain("low-s")
	require.Nil(t, err)

	raw, decodeErr := hex.DecodeString(att.Signature[2:])
	require.NoError(t, decodeErr)
	// половина порядка кривой: 7fffffff ffffffff ffffffff ffffffff 5d576e73 57a4501d dfe92f46 681b20a0
	halfOrder, _ := hex.DecodeString("7fffffffffffffffffffffffffffffff5d576e7357a4501ddfe92f46681b20a0")
	assert.LessOrEqual(t, strings.Compare(hex.EncodeToString(raw[32:64]), hex.EncodeToString(halfOrder)), 0)
}

// TestSignSubjectBound_InvalidAddress проверяет отклонение некорректного адреса
func TestSignSubjectBound_InvalidAddress(t *testing.T) {
	s := newTestSigner(t)
	for _, addr := range []string{"", "0x1234", "dead000000000000000000000000000000000000dE", "0xzz0000000000000000000000000000000000dEaD"} {
		_, err := s.SignSubjectBound(addr, "task-1")
		require.NotNil(t, err, addr)
		assert.Equal(t, errors.ErrInvalidWalletAddress, err.Code)
	}
}

// TestRecover_Invalid проверяет ошибки разбора подписи
func TestRecover_Invalid(t *testing.T) {
	hash := "0x" + strings.Repeat("11", 32)
	_, err := Recover(hash, "0x1234")
	assert.Error(t, err)
	_, err = Recover("0x12", "0x"+strings.Repeat("11", 65))
	assert.Error(t, err)
	_, err = Recover(hash, "0x"+strings.Repeat("11", 64)+"05")
	assert.Error(t, err)
}

// TestKeccak256 проверяет legacy Keccak на известном значении
func TestKeccak256(t *testing.T) {
	assert.Equal(t,
		"c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470",
		hex.EncodeToString(Keccak256(nil)))
}

// TestChecksumAddress проверяет EIP-55 на эталонных адресах
func TestChecksumAddress(t *testing.T) {
	for _, want := range []string{
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
		"0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB",
		"0xD1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb",
	} {
		got, err := ChecksumAddress(strings.ToLower(want))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

// TestSignSubjectBound_KnownVector проверяет подпись на зафиксированном векторе
func TestSignSubjectBound_KnownVector(t *testing.T) {
	s := newTestSigner(t)

	att, err := s.SignSubjectBound(testWallet, "task-1")
	require.Nil(t, err)
	assert.Equal(t,
		"0x2db883093c7a31152976e3cdc90632a563b8d42a32618406833d04ba21cf4598"+
			"57c2cab5e9160f3e6097ef1d4f0dca770b4ae64ea32bd7673d1a421945a82713"+
			"1c",
		att.Signature)
}

// TestEthereumMessageDigest проверяет префикс персонального сообщения
func TestEthereumMessageDigest(t *testing.T) {
	hash := Keccak256([]byte("task-1"))
	want := Keccak256([]byte("\x19Ethereum Signed Message:\n32"), hash)
	assert.Equal(t, want, EthereumMessageDigest(hash))
}
