package signer

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/crypto/sha3"

	"DeIDPlatform/pkg/errors"
	"DeIDPlatform/pkg/logger"
	"DeIDPlatform/services/deid-backend/internal/domain"
)

// Signer подписывает сообщения валидатора ключом secp256k1 по EIP-191.
// Подписи детерминированы (RFC6979), s нормализуется в нижнюю половину.
type Signer struct {
	key     *secp256k1.PrivateKey
	address string
	logger  logger.Logger
}

// NewSigner создает подписывающий компонент из hex ключа (с префиксом 0x или без).
// Пустой ключ допустим: подписи будут возвращать SIGNER_NOT_CONFIGURED.
// Некорректный ключ является ошибкой конфигурации.
func NewSigner(hexKey string, log logger.Logger) (*Signer, error) {
	s := &Signer{logger: log}
	hexKey = strings.TrimSpace(hexKey)
	if hexKey == "" {
		log.Warn("EVM private key not configured, signing disabled")
		return s, nil
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(hexKey, "0x"), "0X"))
	if err != nil {
		return nil, fmt.Errorf("invalid EVM private key encoding: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("invalid EVM private key length: %d bytes", len(raw))
	}

	key := secp256k1.PrivKeyFromBytes(raw)
	if key.Key.IsZero() {
		return nil, fmt.Errorf("invalid EVM private key: zero scalar")
	}

	s.key = key
	s.address = PublicKeyToAddress(key.PubKey())
	log.Info("Validator signer initialized", logger.String("signer_address", s.address))
	return s, nil
}

// Configured сообщает, задан ли ключ
func (s *Signer) Configured() bool {
	return s != nil && s.key != nil
}

// Address возвращает EIP-55 адрес подписанта или пустую строку
func (s *Signer) Address() string {
	if s == nil {
		return ""
	}
	return s.address
}

// SignPlain подписывает UTF-8 строку: message_hash = keccak256(message)
func (s *Signer) SignPlain(message string) (*domain.Attestation, *errors.Error) {
	return s.sign([]byte(message))
}

// SignSubjectBound подписывает abi.encodePacked(address, string):
// 20 байт адреса, затем UTF-8 байты идентификатора задания
func (s *Signer) SignSubjectBound(subjectAddress, taskID string) (*domain.Attestation, *errors.Error) {
	addr, err := ParseAddress(subjectAddress)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInvalidWalletAddress, "Invalid wallet address")
	}

	payload := make([]byte, 0, common.AddressLength+len(taskID))
	payload = append(payload, addr.Bytes()...)
	payload = append(payload, taskID...)
	return s.sign(payload)
}

func (s *Signer) sign(payload []byte) (*domain.Attestation, *errors.Error) {
	if !s.Configured() {
		return nil, errors.New(errors.ErrSignerNotConfigured, "EVM private key not configured")
	}

	messageHash := Keccak256(payload)
	compact := ecdsa.SignCompact(s.key, EthereumMessageDigest(messageHash), false)

	// SignCompact: [27+recid] || R || S; контракт ожидает R || S || V
	signature := make([]byte, 65)
	copy(signature[:64], compact[1:])
	signature[64] = compact[0]

	att := &domain.Attestation{
		Payload:       payload,
		MessageHash:   hexutil.Encode(messageHash),
		Signature:     hexutil.Encode(signature),
		SignerAddress: s.address,
	}

	s.logger.Debug("Message signed",
		logger.String("message_hash", att.MessageHash),
		logger.String("signature_prefix", att.Signature[:12]),
	)
	return att, nil
}

// Keccak256 вычисляет legacy Keccak-256 (не SHA3-256)
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// EthereumMessageDigest возвращает keccak256("\x19Ethereum Signed Message:\n32" || hash)
func EthereumMessageDigest(messageHash []byte) []byte {
	return accounts.TextHash(messageHash)
}

// Recover восстанавливает EIP-55 адрес подписанта по хэшу сообщения и подписи r||s||v
func Recover(messageHash, signature string) (string, error) {
	hash, err := decodeHex(messageHash)
	if err != nil {
		return "", fmt.Errorf("invalid message hash: %w", err)
	}
	if len(hash) != 32 {
		return "", fmt.Errorf("invalid message hash length: %d", len(hash))
	}

	sig, err := decodeHex(signature)
	if err != nil {
		return "", fmt.Errorf("invalid signature: %w", err)
	}
	if len(sig) != 65 {
		return "", fmt.Errorf("invalid signature length: %d", len(sig))
	}

	v := sig[64]
	if v < 27 {
		v += 27
	}
	if v != 27 && v != 28 {
		return "", fmt.Errorf("invalid recovery id: %d", sig[64])
	}

	compact := make([]byte, 65)
	compact[0] = v
	copy(compact[1:], sig[:64])

	pub, _, err := ecdsa.RecoverCompact(compact, EthereumMessageDigest(hash))
	if err != nil {
		return "", fmt.Errorf("failed to recover public key: %w", err)
	}
	return PublicKeyToAddress(pub), nil
}

// Verify проверяет, что подпись сделана указанным адресом
func Verify(messageHash, signature, address string) bool {
	recovered, err := Recover(messageHash, signature)
	if err != nil {
		return false
	}
	want, err := ParseAddress(address)
	if err != nil {
		return false
	}
	return common.HexToAddress(recovered) == want
}

// PublicKeyToAddress вычисляет EIP-55 адрес из публичного ключа
func PublicKeyToAddress(pub *secp256k1.PublicKey) string {
	uncompressed := pub.SerializeUncompressed()
	return common.BytesToAddress(Keccak256(uncompressed[1:])[12:]).Hex()
}

// ParseAddress разбирает адрес 0x + 40 hex. Регистр не проверяется.
func ParseAddress(address string) (common.Address, error) {
	if !strings.HasPrefix(address, "0x") && !strings.HasPrefix(address, "0X") {
		return common.Address{}, fmt.Errorf("address must start with 0x")
	}
	if !common.IsHexAddress(address) {
		return common.Address{}, fmt.Errorf("address must be 0x followed by 40 hex characters")
	}
	return common.HexToAddress(address), nil
}

// ChecksumAddress кодирует адрес со смешанным регистром EIP-55
func ChecksumAddress(address string) (string, error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return "", err
	}
	return addr.Hex(), nil
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"))
}
