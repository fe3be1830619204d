package services

import "context"

// PermissionChecker abstracts household access decisions for services.
// Predicates are fail-secure booleans; see internal/permissions.
type PermissionChecker interface {
	CanAccessHousehold(ctx context.Context, userID, householdID string) bool
	CanModifyHousehold(ctx context.Context, userID, householdID string) bool
}
