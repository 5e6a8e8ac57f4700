package domain

type Role string

const (
	RoleUser     Role = "user"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
)

// Identity is bound to a connection once at connect time.
type Identity struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
}

type UserProfile struct {
	ID       string `bson:"_id" json:"id"`
	Name     string `bson:"name" json:"name"`
	Avatar   string `bson:"avatar,omitempty" json:"avatar,omitempty"`
	Role     Role   `bson:"role" json:"role"`
	IsActive bool   `bson:"is_active" json:"-"`
}
