package possession

import (
	"strings"
)

// Permissions granted by the backend to staff accounts
const (
	PermInventoryRead  = "inventory:read"
	PermInventoryWrite = "inventory:write"
	PermSalesCreate    = "pos:sales"
	PermStaffManage    = "staff:manage"
	PermReportsView    = "reports:view"
)

// ParsePermissions parses a space or comma separated permission string,
// dropping blanks and duplicates
func ParsePermissions(s string) []string {
	if s == "" {
		return nil
	}
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == ',' })
	seen := make(map[string]bool)
	result := make([]string, 0, len(fields))
	for _, p := range fields {
		p = strings.TrimSpace(p)
		if p != "" && !seen[p] {
			seen[p] = true
			result = append(result, p)
		}
	}
	return result
}

// ContainsPermission checks if a permission is present in the list.
// A "<area>:*" entry grants every permission in that area.
func ContainsPermission(perms []string, perm string) bool {
	area, _, _ := strings.Cut(perm, ":")
	for _, p := range perms {
		if p == perm || p == "*" || p == area+":*" {
			return true
		}
	}
	return false
}

// ContainsAllPermissions checks if all required permissions are granted
func ContainsAllPermissions(granted, required []string) bool {
	for _, r := range required {
		if !ContainsPermission(granted, r) {
			return false
		}
	}
	return true
}
