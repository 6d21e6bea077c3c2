package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name       string
		permission Permission
		action     Action
		allow      bool
	}{
		{name: "viewer view", permission: PermissionViewer, action: ActionView, allow: true},
		{name: "viewer comment", permission: PermissionViewer, action: ActionComment, allow: true},
		{name: "viewer edit", permission: PermissionViewer, action: ActionEdit, allow: false},
		{name: "viewer share", permission: PermissionViewer, action: ActionShare, allow: false},
		{name: "editor edit", permission: PermissionEditor, action: ActionEdit, allow: true},
		{name: "editor share", permission: PermissionEditor, action: ActionShare, allow: false},
		{name: "editor manage", permission: PermissionEditor, action: ActionManage, allow: false},
		{name: "owner share", permission: PermissionOwner, action: ActionShare, allow: true},
		{name: "owner manage", permission: PermissionOwner, action: ActionManage, allow: true},
		{name: "no permission view", permission: "", action: ActionView, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.permission, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.permission, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	cases := map[string]Permission{
		"view":   PermissionViewer,
		"edit":   PermissionEditor,
		"viewer": PermissionViewer,
		"editor": PermissionEditor,
		"owner":  PermissionOwner,
		"admin":  PermissionViewer,
		"":       PermissionViewer,
	}
	for input, want := range cases {
		if got := Normalize(input); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", input, got, want)
		}
	}
}
