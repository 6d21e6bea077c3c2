// Package rbac defines document-level permissions and the actions they allow.
package rbac

type Permission string
type Action string

const (
	PermissionViewer Permission = "viewer"
	PermissionEditor Permission = "editor"
	PermissionOwner  Permission = "owner"
)

const (
	ActionView    Action = "view"
	ActionComment Action = "comment"
	ActionEdit    Action = "edit"
	ActionShare   Action = "share"
	ActionManage  Action = "manage"
)

// Can reports whether a permission level allows an action. Only the owner
// may share a document or manage collaborator permissions.
func Can(permission Permission, action Action) bool {
	switch permission {
	case PermissionOwner:
		return true
	case PermissionEditor:
		return action == ActionView || action == ActionComment || action == ActionEdit
	case PermissionViewer:
		return action == ActionView || action == ActionComment
	default:
		return false
	}
}

// Normalize maps stored permission strings onto a known level. Legacy
// records used "view" and "edit".
func Normalize(permission string) Permission {
	switch permission {
	case "view":
		return PermissionViewer
	case "edit":
		return PermissionEditor
	}
	switch Permission(permission) {
	case PermissionViewer, PermissionEditor, PermissionOwner:
		return Permission(permission)
	default:
		return PermissionViewer
	}
}
