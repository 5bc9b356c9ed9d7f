// internal/membership/domain.go
package membership

// RegisterMemberRequest carries the fields of a new patron.
type RegisterMemberRequest struct {
	IDNumber  string `json:"idNumber"`
	Name      string `json:"name"`
	LastName  string `json:"lastName"`
	Education string `json:"education"`
	Password  string `json:"password"`
}

// RegisterEmployeeRequest carries the fields of a new librarian. An empty
// Shift defaults to Morning.
type RegisterEmployeeRequest struct {
	IDNumber string `json:"idNumber"`
	Name     string `json:"name"`
	LastName string `json:"lastName"`
	Title    string `json:"title"`
	Shift    string `json:"shift"`
	Password string `json:"password"`
}

type UpdatePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}
