package server

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// Actor is the authenticated admin behind a request.
type Actor struct {
	ID   string
	Role string
}

func (s *Server) authorizeAction(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.authorizeActionWithContext(c, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func (s *Server) authorizeActionWithContext(c *gin.Context, object string, action string) error {
	actor, ok := actorFromContext(c)
	if !ok {
		return ErrUnauthorized
	}
	if s.authzSvc == nil {
		return ErrForbidden
	}
	return s.authzSvc.Authorize(c.Request.Context(), actor.ID, actor.Role, strings.TrimSpace(object), strings.TrimSpace(action))
}

func actorFromContext(c *gin.Context) (Actor, bool) {
	value, ok := c.Get(contextActorKey)
	if !ok {
		return Actor{}, false
	}
	actor, ok := value.(Actor)
	if !ok || strings.TrimSpace(actor.ID) == "" {
		return Actor{}, false
	}
	return actor, true
}
