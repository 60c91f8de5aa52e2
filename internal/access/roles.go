package access

import "github.com/sentinel-uhnw/sentinel/pkg/types"

// rolePermissions is the fixed role→permission-set table. Admin is handled
// as a wildcard in Session.HasPermission rather than listed exhaustively
// here, matching the original service's has_permission short-circuit.
var rolePermissions = map[types.Role]map[types.Permission]bool{
	types.RoleDriftAgent: set(
		types.PermReadHoldings,
		types.PermReadTaxLots,
		types.PermReadTransactions,
		types.PermWriteRecommendations,
	),
	types.RoleTaxAgent: set(
		types.PermReadHoldings,
		types.PermReadTaxLots,
		types.PermReadTransactions,
		types.PermWriteRecommendations,
	),
	types.RoleCoordinator: set(
		types.PermReadHoldings,
		types.PermReadTaxLots,
		types.PermReadTransactions,
		types.PermReadRecommendations,
		types.PermWriteRecommendations,
	),
	types.RoleHumanAdvisor: set(
		types.PermReadHoldings,
		types.PermReadTaxLots,
		types.PermReadClientPII,
		types.PermReadTransactions,
		types.PermReadRecommendations,
		types.PermWriteRecommendations,
		types.PermApproveTrades,
		types.PermExecuteTrades,
	),
	types.RoleAnalyst: set(
		types.PermReadHoldings,
		types.PermReadTaxLots,
		types.PermReadRecommendations,
	),
	types.RoleClient: set(
		types.PermReadHoldings,
		types.PermReadRecommendations,
	),
	types.RoleSystem: set(
		types.PermReadHoldings,
		types.PermReadTaxLots,
		types.PermReadTransactions,
		types.PermViewAuditLog,
	),
	types.RoleAdmin: set(
		types.PermConfigureSystem,
		types.PermManageUsers,
		types.PermViewAuditLog,
		types.PermAdmin,
	),
}

// sandboxedSessionTypes lists session types that must route through a
// Sandbox collaborator rather than running on the host process.
var sandboxedSessionTypes = map[types.SessionType]bool{
	types.SessionAnalyst:      true,
	types.SessionClientPortal: true,
}

func set(perms ...types.Permission) map[types.Permission]bool {
	m := make(map[types.Permission]bool, len(perms))
	for _, p := range perms {
		m[p] = true
	}
	return m
}

func permissionsFor(role types.Role) map[types.Permission]bool {
	return rolePermissions[role]
}
