package possession_test

import (
	"slices"
	"testing"

	pos "github.com/panyam/possession"
)

func TestParsePermissions(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"inventory:read", []string{"inventory:read"}},
		{"inventory:read pos:sales", []string{"inventory:read", "pos:sales"}},
		{"inventory:read, pos:sales,,inventory:read", []string{"inventory:read", "pos:sales"}},
	}
	for _, tt := range tests {
		if got := pos.ParsePermissions(tt.in); !slices.Equal(got, tt.want) {
			t.Errorf("ParsePermissions(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestContainsPermission(t *testing.T) {
	granted := []string{pos.PermInventoryRead, "pos:*"}

	tests := []struct {
		perm string
		want bool
	}{
		{pos.PermInventoryRead, true},
		{pos.PermInventoryWrite, false},
		{pos.PermSalesCreate, true},
		{pos.PermStaffManage, false},
	}
	for _, tt := range tests {
		if got := pos.ContainsPermission(granted, tt.perm); got != tt.want {
			t.Errorf("ContainsPermission(%q) = %v, want %v", tt.perm, got, tt.want)
		}
	}

	if !pos.ContainsPermission([]string{"*"}, pos.PermReportsView) {
		t.Error("* should grant everything")
	}
	if !pos.ContainsAllPermissions(granted, []string{pos.PermInventoryRead, pos.PermSalesCreate}) {
		t.Error("ContainsAllPermissions() = false, want true")
	}
	if pos.ContainsAllPermissions(granted, []string{pos.PermInventoryRead, pos.PermStaffManage}) {
		t.Error("ContainsAllPermissions() = true, want false")
	}
}

func TestOwnerHasEveryPermission(t *testing.T) {
	owner := &pos.UserProfile{ID: "u1", Role: pos.RoleOwner}
	if !owner.HasPermission(pos.PermStaffManage) {
		t.Error("owners hold every permission")
	}
	attendant := &pos.UserProfile{ID: "u2", Role: pos.RoleAttendant, Permissions: []string{pos.PermSalesCreate}}
	if attendant.HasPermission(pos.PermStaffManage) || !attendant.HasPermission(pos.PermSalesCreate) {
		t.Error("attendant permissions come from the grant list")
	}
}
