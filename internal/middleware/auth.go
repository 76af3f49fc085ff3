package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/impact-escrow/backend/internal/auth"
	"github.com/impact-escrow/backend/internal/rbac"
)

const (
	CtxSubject = "subject"
	CtxRole    = "role"
)

func AuthMiddleware(jwtSecret string, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing authorization header"})
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenStr == authHeader {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid authorization format"})
		}

		claims, err := auth.ParseJWT(jwtSecret, tokenStr)
		if err != nil {
			log.Debug("jwt parse error", zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or expired token"})
		}

		c.Locals(CtxSubject, claims.Subject)
		c.Locals(CtxRole, claims.Role)

		return c.Next()
	}
}

func GetSubject(c *fiber.Ctx) string {
	s, _ := c.Locals(CtxSubject).(string)
	return s
}

func GetRole(c *fiber.Ctx) string {
	r, _ := c.Locals(CtxRole).(string)
	return r
}

// RequirePermission rejects callers whose role lacks perm.
func RequirePermission(perm string, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role := GetRole(c)
		if !rbac.HasPermission(role, perm) {
			if rbac.IsFinancialOperation(perm) {
				log.Warn("financial operation denied",
					zap.String("subject", GetSubject(c)),
					zap.String("role", role),
					zap.String("permission", perm),
				)
			}
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "permission denied"})
		}
		return c.Next()
	}
}
