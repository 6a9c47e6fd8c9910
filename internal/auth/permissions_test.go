package auth

import "testing"

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role   Role
		should []Permission
		not    []Permission
	}{
		{
			role:   RoleViewer,
			should: []Permission{PermDeviceRead},
			not:    []Permission{PermDeviceConfigure, PermOperationManage, PermPassthrough},
		},
		{
			role:   RoleOperator,
			should: []Permission{PermDeviceRead, PermDeviceConfigure, PermOperationManage},
			not:    []Permission{PermPassthrough},
		},
		{
			role:   RoleAdmin,
			should: []Permission{PermDeviceRead, PermDeviceConfigure, PermOperationManage, PermPassthrough},
		},
		{
			role: "owner",
			not:  []Permission{PermDeviceRead},
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			for _, p := range tt.should {
				if !HasPermission(tt.role, p) {
					t.Errorf("%s should have %s", tt.role, p)
				}
			}
			for _, p := range tt.not {
				if HasPermission(tt.role, p) {
					t.Errorf("%s should NOT have %s", tt.role, p)
				}
			}
		})
	}
}

func TestPermissionsForRole(t *testing.T) {
	perms := PermissionsForRole(RoleAdmin)
	if len(perms) != 4 {
		t.Fatalf("admin has %d permissions, want 4", len(perms))
	}
	perms[0] = "tampered"
	if PermissionsForRole(RoleAdmin)[0] == "tampered" {
		t.Error("PermissionsForRole should return a copy")
	}
	if PermissionsForRole("unknown") != nil {
		t.Error("unknown role should have nil permissions")
	}
}

func TestIsValidRole(t *testing.T) {
	for _, r := range ValidRoles {
		if !IsValidRole(r) {
			t.Errorf("IsValidRole(%q) = false", r)
		}
	}
	for _, r := range []Role{"", "owner", "panel", "Admin"} {
		if IsValidRole(r) {
			t.Errorf("IsValidRole(%q) = true", r)
		}
	}
}
