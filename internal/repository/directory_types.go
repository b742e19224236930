package repository

import (
	"strings"

	"github.com/pesio-ai/be-procurement-requests/internal/workflow"
)

// DirectoryUser is a portal user as seen by the lifecycle engine.
type DirectoryUser struct {
	ID              string          `json:"id"`
	DisplayName     string          `json:"display_name"`
	Roles           []workflow.Role `json:"roles"`
	Department      string          `json:"department"`
	Branch          string          `json:"branch"`
	BuyerCategories []string        `json:"buyer_categories,omitempty"`
	Active          bool            `json:"active"`
}

// HasRole reports whether the user holds r.
func (u *DirectoryUser) HasRole(r workflow.Role) bool {
	for _, have := range u.Roles {
		if have == r {
			return true
		}
	}
	return false
}

// CanBuy reports whether the user is an active buyer for requests of type t.
func (u *DirectoryUser) CanBuy(t PRType) bool {
	if !u.Active || !u.HasRole(workflow.RoleBuyer) {
		return false
	}
	for _, c := range u.BuyerCategories {
		if strings.EqualFold(c, string(t)) {
			return true
		}
	}
	return false
}
