package models

// User is the identity attached to every authenticated request and connection.
type User struct {
	ID         int64  `json:"id" db:"id"`
	QuartierID int64  `json:"quartier_id" db:"quartier_id"`
	Nom        string `json:"nom" db:"nom"`
	Prenom     string `json:"prenom" db:"prenom"`
	Email      string `json:"email" db:"email"`
}

func (u User) Summary() *UserSummary {
	return &UserSummary{ID: u.ID, Nom: u.Nom, Prenom: u.Prenom}
}

type UserSummary struct {
	ID     int64  `json:"id"`
	Nom    string `json:"nom"`
	Prenom string `json:"prenom"`
}
