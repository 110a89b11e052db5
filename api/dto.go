package api

import (
	"strings"
	"time"

	"snap/mapping"
	"snap/storage"
)

// RegisterRequest is the self-service registration model
type RegisterRequest struct {
	Username    string `json:"username" validate:"required,min=3,max=50,username"`
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,password" minLength:"8"`
	DisplayName string `json:"display_name" validate:"max=100"`
}

// LoginRequest holds credentials
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse carries the issued bearer token
type LoginResponse struct {
	Token              string    `json:"token"`
	ExpiresAt          time.Time `json:"expires_at"`
	MustChangePassword bool      `json:"must_change_password"`
}

// UserDTO is the transport form of storage.User
type UserDTO struct {
	ID                 int64      `json:"id" map:"ID"`
	Username           string     `json:"username" map:"Username"`
	Email              string     `json:"email" map:"Email"`
	DisplayName        string     `json:"display_name" map:"DisplayName"`
	Roles              []string   `json:"roles" map:"Roles"`
	Active             bool       `json:"active" map:"Active"`
	MustChangePassword bool       `json:"must_change_password" map:"MustChangePassword"`
	LastLoginAt        *time.Time `json:"last_login_at,omitempty" map:"-"`
	CreatedAt          time.Time  `json:"created_at" map:"-"`
}

// AboutRequest creates a profile entry
type AboutRequest struct {
	FullName  string `json:"full_name" validate:"required,max=200" map:"FullName"`
	Bio       string `json:"bio" validate:"max=2000" map:"Bio"`
	Gender    string `json:"gender" validate:"omitempty,gender" enums:"Unspecified,Male,Female" map:"Gender"`
	BirthDate string `json:"birth_date" validate:"omitempty,datetime=2006-01-02" example:"1990-04-01" map:"-"`
}

// AboutDTO is the transport form of storage.About
type AboutDTO struct {
	ID        string    `json:"id" map:"ID"`
	UserID    int64     `json:"user_id" map:"UserID"`
	FullName  string    `json:"full_name" map:"FullName"`
	Bio       string    `json:"bio" map:"Bio"`
	Gender    string    `json:"gender" map:"Gender"`
	BirthDate string    `json:"birth_date,omitempty" map:"-"`
	CreatedAt time.Time `json:"created_at" map:"-"`
}

// StageStatus is one boot stage outcome as shown on the health endpoint
type StageStatus struct {
	Stage      string `json:"stage"`
	Outcome    string `json:"outcome"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// HealthResponse reports that the service is serving and how boot went
type HealthResponse struct {
	Status string `json:"status"`
	// Store is "reachable" or "unreachable"; empty when no store is wired
	Store string        `json:"store,omitempty"`
	Boot  []StageStatus `json:"boot"`
}

// MappingProfile registers every conversion the HTTP layer uses
func MappingProfile(m *mapping.Mapper) error {
	if err := mapping.RegisterAuto(m, func(src storage.User, dst *UserDTO) {
		dst.LastLoginAt = src.LastLoginAt
		dst.CreatedAt = src.CreatedAt
	}); err != nil {
		return err
	}

	if err := mapping.RegisterAuto(m, func(src storage.About, dst *AboutDTO) {
		dst.CreatedAt = src.CreatedAt
		if src.BirthDate != nil {
			dst.BirthDate = src.BirthDate.Format(time.DateOnly)
		}
	}); err != nil {
		return err
	}

	if err := mapping.RegisterAuto(m, func(src AboutRequest, dst *storage.About) {
		dst.FullName = strings.TrimSpace(dst.FullName)
		if src.BirthDate == "" {
			return
		}
		if t, err := time.Parse(time.DateOnly, src.BirthDate); err == nil {
			dst.BirthDate = &t
		}
	}); err != nil {
		return err
	}

	return mapping.Register(m, func(req RegisterRequest) (storage.User, error) {
		display := strings.TrimSpace(req.DisplayName)
		if display == "" {
			display = req.Username
		}
		return storage.User{
			Username:    strings.TrimSpace(req.Username),
			Email:       strings.TrimSpace(req.Email),
			DisplayName: display,
			Password:    req.Password,
			Roles:       []string{storage.RoleMember},
			Active:      true,
		}, nil
	})
}
