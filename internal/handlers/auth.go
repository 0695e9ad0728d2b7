package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/chambalink/backend/internal/models"
	"github.com/chambalink/backend/internal/utils"
)

type AuthHandler struct {
	DB        *gorm.DB
	JWTSecret string
	Expires   int
}

type RegisterReq struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone"`
	Role     string `json:"role"` // client / professional, nunca admin desde el registro
}

type FieldErrors map[string][]string

func (e FieldErrors) Add(field, msg string) {
	e[field] = append(e[field], msg)
}

func validationFail(c *fiber.Ctx, errs FieldErrors) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success": false,
		"message": "Validation error",
		"errors":  errs,
	})
}

func (h *AuthHandler) setAuthCookie(c *fiber.Ctx, token string, maxAge int) {
	c.Cookie(&fiber.Cookie{
		Name:     "cl_token",
		Value:    token,
		Path:     "/",
		HTTPOnly: true,
		Secure:   false,
		SameSite: "Lax",
		MaxAge:   maxAge,
	})
}

func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req RegisterReq
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "invalid body",
		})
	}

	name := strings.TrimSpace(req.Name)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	phone := strings.TrimSpace(req.Phone)
	password := strings.TrimSpace(req.Password)

	role := strings.ToLower(strings.TrimSpace(req.Role))
	if role != string(models.RoleProfessional) {
		role = string(models.RoleClient)
	}

	errs := FieldErrors{}

	if name == "" {
		errs.Add("name", "El nombre es obligatorio")
	}
	if email == "" {
		errs.Add("email", "El correo es obligatorio")
	} else if !strings.Contains(email, "@") {
		errs.Add("email", "Formato de correo no válido")
	}
	if password == "" {
		errs.Add("password", "La contraseña es obligatoria")
	} else if len(password) < 6 {
		errs.Add("password", "La contraseña debe tener al menos 6 caracteres")
	}
	if phone != "" && len(phone) < 8 {
		errs.Add("phone", "Teléfono no válido")
	}

	if len(errs) > 0 {
		return validationFail(c, errs)
	}

	var existing models.User
	if err := h.DB.Where("email = ?", email).First(&existing).Error; err == nil {
		dup := FieldErrors{}
		dup.Add("email", "El correo ya está registrado")
		return validationFail(c, dup)
	} else if err != gorm.ErrRecordNotFound {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Error del servidor",
		})
	}

	if phone != "" {
		var byPhone models.User
		if err := h.DB.Where("phone = ?", phone).First(&byPhone).Error; err == nil {
			dup := FieldErrors{}
			dup.Add("phone", "El teléfono ya está registrado")
			return validationFail(c, dup)
		} else if err != gorm.ErrRecordNotFound {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"success": false,
				"message": "Error del servidor",
			})
		}
	}

	pw, err := utils.HashPassword(password)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "No se pudo procesar la contraseña",
		})
	}

	u := models.User{
		Name:     name,
		Email:    email,
		Password: pw,
		Role:     models.Role(role),
		IsActive: true,
		Phone:    phone,
	}

	if err := h.DB.Create(&u).Error; err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "No se pudo completar el registro",
		})
	}

	token, err := utils.SignJWT(h.JWTSecret, u.ID, u.Role, h.Expires)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "No se pudo generar el token",
		})
	}

	h.setAuthCookie(c, token, h.Expires*60)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": "Registro exitoso",
		"data": fiber.Map{
			"user": fiber.Map{
				"id":    u.ID,
				"name":  u.Name,
				"email": u.Email,
				"phone": u.Phone,
				"role":  u.Role,
			},
		},
	})
}

type LoginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req LoginReq
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"success": false,
			"message": "Invalid body",
		})
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	password := strings.TrimSpace(req.Password)

	errs := FieldErrors{}
	if email == "" {
		errs.Add("email", "El correo es obligatorio")
	}
	if password == "" {
		errs.Add("password", "La contraseña es obligatoria")
	}
	if len(errs) > 0 {
		return validationFail(c, errs)
	}

	var u models.User
	if err := h.DB.Where("email = ?", email).First(&u).Error; err != nil {
		// Same message for unknown email and wrong password.
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"success": false,
			"message": "Correo o contraseña incorrectos",
		})
	}

	if !u.IsActive {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"success": false,
			"message": "La cuenta está inactiva",
		})
	}

	if !utils.CheckPassword(u.Password, password) {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"success": false,
			"message": "Correo o contraseña incorrectos",
		})
	}

	token, err := utils.SignJWT(h.JWTSecret, u.ID, u.Role, h.Expires)
	if err != nil {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"success": false,
			"message": "No se pudo generar el token",
		})
	}

	h.setAuthCookie(c, token, h.Expires*60)

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success": true,
		"message": "Sesión iniciada",
		"data": fiber.Map{
			"user": fiber.Map{
				"id":    u.ID,
				"name":  u.Name,
				"email": u.Email,
				"role":  u.Role,
			},
		},
	})
}

// Me returns the authenticated profile, resolved from the cookie.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	userUUID, err := getUserUUID(c)
	if err != nil {
		return c.Status(401).JSON(fiber.Map{"success": false, "message": "Unauthorized"})
	}

	var u models.User
	if err := h.DB.First(&u, "id = ?", userUUID).Error; err != nil {
		return c.Status(404).JSON(fiber.Map{"success": false, "message": "Usuario no encontrado"})
	}

	return c.JSON(fiber.Map{"success": true, "data": u})
}

func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	h.setAuthCookie(c, "", -1)

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Sesión cerrada",
	})
}
