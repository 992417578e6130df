package domain

import (
	"time"
)

// Роли пользователей
const (
	RoleUser      = "user"
	RoleAdmin     = "admin"
	RoleModerator = "moderator"
)

// Principal аутентифицированный пользователь, как его описывает auth-сервис Decode
type Principal struct {
	SubjectID string `json:"user_id"`
	Email     string `json:"email"`
	Username  string `json:"username"`
	Role      string `json:"role"`
}

// SessionRecord запись сессии в Redis
// Ключ: {prefix}:{session_id}, TTL равен сроку жизни токенов провайдера
type SessionRecord struct {
	SessionID    string `json:"-"`
	AccessToken  string `json:"access_token"`
	SessionToken string `json:"session_token,omitempty"`
	UserID       string `json:"user_id,omitempty"`
}

// Attestation подписанное валидатором сообщение для смарт-контракта
type Attestation struct {
	Payload       []byte `json:"-"`
	MessageHash   string `json:"message_hash"`
	Signature     string `json:"signature"`
	SignerAddress string `json:"signer_address"`
}

// ValidationType тип проверки задания
type ValidationType string

// Поддерживаемые типы проверки
const (
	ValidationERC20Balance  ValidationType = "erc20_balance_check"
	ValidationERC721Balance ValidationType = "erc721_balance_check"
)

// Task задание с условием на баланс токена
type Task struct {
	ID                   string         `json:"id"`
	Title                string         `json:"task_title"`
	Description          string         `json:"task_description"`
	ValidationType       ValidationType `json:"validation_type"`
	BlockchainNetwork    string         `json:"blockchain_network"`
	TokenContractAddress string         `json:"token_contract_address"`
	MinimumBalance       string         `json:"minimum_balance"`
	TxHash               string         `json:"tx_hash,omitempty"`
	BlockNumber          int64          `json:"block_number,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// TaskFilter параметры выборки заданий. Пустые списки не фильтруют.
type TaskFilter struct {
	ValidationTypes []ValidationType
	Networks        []string
	Page            int
	PageSize        int
}

// Pagination сведения о странице выборки
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalCount int64 `json:"total_count"`
	TotalPages int64 `json:"total_pages"`
}

// TaskPage страница заданий, новые первыми
type TaskPage struct {
	Tasks      []*Task    `json:"tasks"`
	Pagination Pagination `json:"pagination"`
}

// TaskValidation запись об успешной валидации задания. Только добавление.
type TaskValidation struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	TaskID           string    `json:"task_id"`
	WalletAddress    string    `json:"wallet_address"`
	ActualBalance    string    `json:"actual_balance"`
	Signature        string    `json:"signature"`
	VerificationHash string    `json:"verification_hash"`
	SignerAddress    string    `json:"signer_address"`
	CreatedAt        time.Time `json:"created_at"`
}

// TaskValidationResult результат валидации задания для клиента
type TaskValidationResult struct {
	TaskID              string `json:"task_id"`
	UserID              string `json:"user_id"`
	WalletAddress       string `json:"wallet_address"`
	RequiredBalance     string `json:"required_balance"`
	ActualBalance       string `json:"actual_balance"`
	Signature           string `json:"signature"`
	VerificationHash    string `json:"verification_hash"`
	SignerAddress       string `json:"signer_address"`
	PreviouslyValidated int64  `json:"previously_validated"`
	Replayed            bool   `json:"replayed"`
}

// Profile профиль пользователя в Decode
type Profile struct {
	UserID        string         `json:"_id"`
	Username      string         `json:"username"`
	Email         string         `json:"email"`
	Role          string         `json:"role"`
	PrimaryWallet *PrimaryWallet `json:"primary_wallet"`
}

// PrimaryWallet основной кошелек пользователя
type PrimaryWallet struct {
	Address string `json:"address"`
}

// TaskValidatedEvent событие об успешной валидации, публикуется в брокер
type TaskValidatedEvent struct {
	EventID       string    `json:"event_id"`
	TaskID        string    `json:"task_id"`
	UserID        string    `json:"user_id"`
	WalletAddress string    `json:"wallet_address"`
	Signature     string    `json:"signature"`
	ValidatedAt   time.Time `json:"validated_at"`
}
