package httpapi

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationMessage turns the first validator failure into a short message.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required", "required_without":
		return fmt.Sprintf("%s is required", fe.Field())
	case "email":
		return fmt.Sprintf("%s must be a valid email", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

type signupRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Username string `json:"username" validate:"required,min=3,max=50"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

type loginRequest struct {
	UsernameOrEmail string `json:"usernameOrEmail" validate:"required"`
	Password        string `json:"password" validate:"required"`
}

type createUserRequest struct {
	Name     string   `json:"name" validate:"required,max=100"`
	Username string   `json:"username" validate:"required,min=3,max=50"`
	Email    string   `json:"email" validate:"required,email,max=255"`
	Password string   `json:"password" validate:"required,min=6,max=72"`
	Avatar   string   `json:"avatar" validate:"omitempty,url"`
	Bio      string   `json:"bio" validate:"max=1000"`
	RoleIDs  []string `json:"roleIds" validate:"omitempty,max=20,dive,required"`
}

type updateUserRequest struct {
	Name     *string `json:"name" validate:"omitempty,max=100"`
	Username *string `json:"username" validate:"omitempty,min=3,max=50"`
	Email    *string `json:"email" validate:"omitempty,email,max=255"`
	Password *string `json:"password" validate:"omitempty,min=6,max=72"`
	Avatar   *string `json:"avatar"`
	Bio      *string `json:"bio" validate:"omitempty,max=1000"`
	IsActive *bool   `json:"isActive"`
}

type createRoleRequest struct {
	Name          string   `json:"name" validate:"required,max=50"`
	Description   string   `json:"description" validate:"max=255"`
	Level         int      `json:"level" validate:"gte=0"`
	PermissionIDs []string `json:"permissionIds" validate:"dive,required"`
}

type updateRoleRequest struct {
	Name        *string `json:"name" validate:"omitempty,max=50"`
	Description *string `json:"description" validate:"omitempty,max=255"`
	Level       *int    `json:"level" validate:"omitempty,gte=0"`
	IsActive    *bool   `json:"isActive"`
}

type setRolePermissionsRequest struct {
	PermissionIDs []string `json:"permissionIds" validate:"dive,required"`
}

type createPermissionRequest struct {
	Name        string `json:"name" validate:"required_without=Resource"`
	Resource    string `json:"resource"`
	Action      string `json:"action"`
	Description string `json:"description" validate:"max=255"`
}

type updatePermissionRequest struct {
	Resource    *string `json:"resource"`
	Action      *string `json:"action"`
	Description *string `json:"description" validate:"omitempty,max=255"`
}

type assignRoleRequest struct {
	UserID string `json:"userId" validate:"required"`
	RoleID string `json:"roleId" validate:"required"`
}

type assignPermissionRequest struct {
	RoleID       string `json:"roleId" validate:"required"`
	PermissionID string `json:"permissionId" validate:"required"`
}
