package service

import (
	"fmt"
	"slices"
	"strings"

	"DeIDPlatform/pkg/errors"
	"DeIDPlatform/services/deid-backend/internal/domain"
)

// HasAccess проверяет роль принципала. Пустой набор ролей пропускает всех.
func HasAccess(principal domain.Principal, requiredRoles []string) bool {
	if len(requiredRoles) == 0 {
		return true
	}
	return slices.Contains(requiredRoles, principal.Role)
}

// authorize превращает отказ HasAccess в ошибку INSUFFICIENT_PERMISSIONS
func authorize(principal domain.Principal, requiredRoles []string) *errors.Error {
	if HasAccess(principal, requiredRoles) {
		return nil
	}
	return errors.New(errors.ErrForbidden, fmt.Sprintf(
		"Access denied. Required roles: %s. Your role: %s",
		strings.Join(requiredRoles, ", "), principal.Role,
	))
}
