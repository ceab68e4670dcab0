package usersync

import (
	"strings"

	"github.com/upb/arca-auth/models"
)

// SplitFullName derives first and last name from a display name:
//
//	""                           → ("Usuario", "")
//	"Ana"                        → ("Ana", "")
//	"Ana Ruiz"                   → ("Ana", "Ruiz")
//	"Ana Maria Ruiz"             → ("Ana", "Ruiz")
//	"Ana Maria Ruiz Lopez"       → ("Ana Maria", "Ruiz Lopez")
//	"Ana Maria Ruiz Lopez Diaz"  → ("Ana Maria", "Ruiz")
func SplitFullName(fullName string) (firstName, lastName string) {
	parts := strings.Fields(fullName)

	switch n := len(parts); {
	case n == 0:
		return models.DefaultFirstName, ""
	case n == 1:
		return parts[0], ""
	case n == 2:
		return parts[0], parts[1]
	case n == 3:
		return parts[0], parts[2]
	case n == 4:
		return parts[0] + " " + parts[1], parts[2] + " " + parts[3]
	default:
		return parts[0] + " " + parts[1], parts[2]
	}
}
