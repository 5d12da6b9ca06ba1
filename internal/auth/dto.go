package auth

import (
	"time"

	"github.com/google/uuid"

	"github.com/lendkeep/lendkeep-backend/pkg/db/models"
	"github.com/lendkeep/lendkeep-backend/pkg/enums"
)

// RegisterRequest holds the validated payload to create an account.
type RegisterRequest struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// LoginRequest holds the credentials presented at login.
type LoginRequest struct {
	Email    string
	Password string
}

// UserDTO is the account view returned by auth endpoints.
type UserDTO struct {
	ID          uuid.UUID      `json:"id"`
	Email       string         `json:"email"`
	FirstName   string         `json:"first_name"`
	LastName    string         `json:"last_name"`
	Role        enums.UserRole `json:"role"`
	LastLoginAt *time.Time     `json:"last_login_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// LoginResponse carries the minted token and the account it belongs to.
type LoginResponse struct {
	AccessToken string  `json:"access_token"`
	User        UserDTO `json:"user"`
}

func toUserDTO(user *models.User) UserDTO {
	return UserDTO{
		ID:          user.ID,
		Email:       user.Email,
		FirstName:   user.FirstName,
		LastName:    user.LastName,
		Role:        user.Role,
		LastLoginAt: user.LastLoginAt,
		CreatedAt:   user.CreatedAt,
	}
}
