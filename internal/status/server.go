// Package status serves a small local HTTP view of one link role.
package status

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/hostlink/internal/auth"
	"github.com/danmuck/hostlink/internal/link"
	"github.com/danmuck/hostlink/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const shutdownGrace = 2 * time.Second

// Link is the part of a role the status surface reads and controls.
type Link interface {
	Role() link.Role
	State() link.State
	Disconnect()
}

type Server struct {
	ID      string
	Addr    string
	Started time.Time

	link    Link
	router  *gin.Engine
	control auth.Validator
}

func New(id, addr string, l Link, corsOrigins []string) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		ID:      id,
		Addr:    addr,
		Started: time.Now(),
		link:    l,
		router:  r,
	}
	s.registerRoutes()
	return s
}

// ProtectControl requires a bearer token accepted by v on control routes.
// Call it before serving.
func (s *Server) ProtectControl(v auth.Validator) *Server {
	s.control = v
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Started).String(),
			"service": s.ID,
			"role":    string(s.link.Role()),
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		state := s.link.State()
		code := http.StatusOK
		if state.Kind != link.StateConnected {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"ready": state.Kind == link.StateConnected,
			"state": string(state.Kind),
		})
	})

	s.router.GET("/state", func(c *gin.Context) {
		c.JSON(http.StatusOK, stateView(s.link.Role(), s.link.State()))
	})

	s.router.POST("/disconnect", s.authorizeControl, func(c *gin.Context) {
		s.link.Disconnect()
		c.JSON(http.StatusAccepted, gin.H{"status": "disconnecting"})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (s *Server) authorizeControl(c *gin.Context) {
	if s.control == nil {
		return
	}
	token, ok := auth.BearerToken(c.GetHeader("Authorization"))
	if !ok || s.control.Validate(token) != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": auth.ErrUnauthorized.Error()})
	}
}

// StateView is the JSON shape of /state.
type StateView struct {
	Role   string     `json:"role"`
	State  string     `json:"state"`
	ConnID string     `json:"conn_id,omitempty"`
	Remote string     `json:"remote,omitempty"`
	Since  *time.Time `json:"since,omitempty"`
	Error  string     `json:"error,omitempty"`
}

func stateView(role link.Role, st link.State) StateView {
	view := StateView{Role: string(role), State: string(st.Kind)}
	if st.Peer != nil {
		view.ConnID = st.Peer.ConnID
		view.Remote = st.Peer.Remote
		since := st.Peer.Since
		view.Since = &since
	}
	if st.Err != nil {
		view.Error = st.Err.Error()
	}
	return view
}

// Serve listens on Addr until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	log.Info().Str("addr", ln.Addr().String()).Msg("status server listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost:3000"}
	}
	return out
}
