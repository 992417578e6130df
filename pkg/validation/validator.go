package validation

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Validator предоставляет общие функции валидации входных данных
type Validator struct{}

// NewValidator создает новый Validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateRequired проверяет, что строковое поле заполнено
func (v *Validator) ValidateRequired(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

// ValidateURL проверяет корректность URL и допустимость схемы
func (v *Validator) ValidateURL(target string, allowedSchemes []string) error {
	if target == "" {
		return fmt.Errorf("url is required")
	}
	if strings.ContainsAny(target, " \t\n\r") {
		return fmt.Errorf("url contains invalid whitespace characters")
	}

	parsedURL, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if len(allowedSchemes) > 0 {
		schemeValid := false
		for _, scheme := range allowedSchemes {
			if parsedURL.Scheme == scheme {
				schemeValid = true
				break
			}
		}
		if !schemeValid {
			return fmt.Errorf("url must use one of allowed schemes %v, got: %s", allowedSchemes, parsedURL.Scheme)
		}
	}

	// ipfs://<cid> хранит идентификатор в host
	if parsedURL.Host == "" {
		return fmt.Errorf("url must have a valid host")
	}

	return nil
}

// ValidateEnum проверяет значение на соответствие enum
func (v *Validator) ValidateEnum(value string, allowedValues []string, fieldName string) error {
	if value == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	for _, allowed := range allowedValues {
		if value == allowed {
			return nil
		}
	}
	return fmt.Errorf("invalid %s: %s, allowed values: %v", fieldName, value, allowedValues)
}

// ValidateStringLength проверяет длину строки
func (v *Validator) ValidateStringLength(value, fieldName string, min, max int) error {
	length := len(value)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters, got: %d", fieldName, min, length)
	}
	if length > max {
		return fmt.Errorf("%s must not exceed %d characters, got: %d", fieldName, max, length)
	}
	return nil
}

// ValidateIdentifier проверяет идентификатор ресурса: буквы, цифры, '-' и '_'
func (v *Validator) ValidateIdentifier(value, fieldName string) error {
	if err := v.ValidateStringLength(value, fieldName, 1, 128); err != nil {
		return err
	}
	for _, c := range value {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-' || c == '_') {
			return fmt.Errorf("invalid character '%c' in %s", c, fieldName)
		}
	}
	return nil
}

// ValidateEthAddress проверяет формат адреса EVM: 0x и 40 hex символов
func (v *Validator) ValidateEthAddress(value, fieldName string) error {
	if !strings.HasPrefix(value, "0x") && !strings.HasPrefix(value, "0X") {
		return fmt.Errorf("invalid %s: expected 0x prefix", fieldName)
	}
	if !common.IsHexAddress(value) {
		return fmt.Errorf("invalid %s: expected 0x followed by 40 hex characters", fieldName)
	}
	return nil
}
