package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/oh-yeah-sea-kit2/slamp/internal/config"
	"github.com/oh-yeah-sea-kit2/slamp/internal/db"
	"github.com/oh-yeah-sea-kit2/slamp/internal/slack"
	"github.com/oh-yeah-sea-kit2/slamp/internal/stamp"
	"github.com/oh-yeah-sea-kit2/slamp/internal/utils"
)

const (
	stateTTL        = 15 * time.Minute
	deferredTimeout = 30 * time.Second
	maxCommandBody  = 1 << 20
)

// commandHandler is the part of the orchestrator the server drives.
type commandHandler interface {
	Handle(ctx context.Context, cmd stamp.Command) stamp.Reply
}

type oauthClient interface {
	ExchangeOAuthCode(ctx context.Context, clientID, clientSecret, code, redirectURL string) (slack.OAuthAccess, error)
	GetUserWithToken(ctx context.Context, token, userID string) (stamp.UserProfile, error)
}

type responder interface {
	Respond(ctx context.Context, responseURL string, reply stamp.Reply) error
}

type slackServer struct {
	cfg      config.Config
	commands commandHandler
	respond  responder
	oauth    oauthClient
	// store is nil when the sign-up routes are disabled.
	store db.Backend

	// inflight tracks deferred commands so shutdown can drain them.
	inflight sync.WaitGroup
}

func runSlackServe(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("Slack:Serve", flag.ContinueOnError)
	listen := fs.String("listen", "", "Listen address (host:port). Default is :{app.port}.")
	verbose := fs.Bool("verbose", utils.Verbose, "Verbose logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	utils.ConfigureLogging(*verbose)

	if *listen == "" {
		*listen = fmt.Sprintf(":%d", cfg.Port)
	}

	signup := cfg.SlackClientID != "" && cfg.SlackClientSecret != ""
	a, err := newApp(ctx, cfg, appOptions{store: cfg.NeedsStore() || signup, queue: true})
	if err != nil {
		return err
	}
	defer a.close()

	orch, err := a.orchestrator()
	if err != nil {
		return err
	}
	srv := &slackServer{
		cfg:      cfg,
		commands: orch,
		respond:  a.slack,
		oauth:    a.slack,
	}
	if signup {
		srv.store = a.store
	}

	server := &http.Server{
		Addr:              *listen,
		Handler:           httpLoggingMiddleware(srv.routes()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		utils.Info("slack server listen", "listen", *listen, "command", cfg.StampCommand, "identity", cfg.StampIdentity, "ack", cfg.StampAck, "cache", cfg.CacheBackend)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		srv.inflight.Wait()
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *slackServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/slack/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/slack/commands", s.handleCommand)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		s.handleCommand(w, r)
	})
	if s.store != nil {
		mux.HandleFunc("/slack/install", s.handleInstall)
		mux.HandleFunc("/slack/oauth/callback", s.handleOAuthCallback)
	}
	return mux
}

func (s *slackServer) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody))
	if err != nil {
		http.Error(w, "read body failed", http.StatusBadRequest)
		return
	}
	if s.cfg.SlackSigningSecret != "" {
		if err := slack.VerifySignature(s.cfg.SlackSigningSecret, r.Header, body); err != nil {
			utils.Warn("slack command signature verify failed", "err", err)
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	cmd, err := slack.ParseCommand(r)
	if err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	requestID := uuid.NewString()
	utils.Debug("slack command", "request_id", requestID, "command", cmd.Command, "user_id", cmd.UserID, "channel", cmd.ChannelID, "text", cmd.Text)

	if s.cfg.StampAck != config.AckDeferred {
		// A dropped client connection must not abort a command mid-post.
		ctx := stamp.WithRequestID(context.WithoutCancel(r.Context()), requestID)
		writeReply(w, s.commands.Handle(ctx, cmd))
		return
	}

	// Deferred: acknowledge now, report failures through response_url.
	w.WriteHeader(http.StatusOK)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(stamp.WithRequestID(context.Background(), requestID), deferredTimeout)
		defer cancel()
		reply := s.commands.Handle(ctx, cmd)
		if !reply.IsError {
			return
		}
		if cmd.ResponseURL == "" {
			utils.Warn("slack command failed without response_url", "request_id", requestID, "text", reply.Text)
			return
		}
		if err := s.respond.Respond(ctx, cmd.ResponseURL, reply); err != nil {
			utils.Warn("slack response_url failed", "request_id", requestID, "err", err)
		}
	}()
}

type ephemeralReply struct {
	ResponseType string `json:"response_type"`
	Text         string `json:"text"`
}

func writeReply(w http.ResponseWriter, reply stamp.Reply) {
	if !reply.IsError {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(ephemeralReply{ResponseType: "ephemeral", Text: reply.Text})
}

func (s *slackServer) stateSecret() string {
	if s.cfg.SlackSigningSecret != "" {
		return s.cfg.SlackSigningSecret
	}
	return s.cfg.SlackClientSecret
}

func (s *slackServer) handleInstall(w http.ResponseWriter, r *http.Request) {
	state, err := makeState(s.stateSecret(), time.Now())
	if err != nil {
		http.Error(w, "failed to create state", http.StatusInternalServerError)
		return
	}
	authURL, err := slack.BuildOAuthAuthorizeURL(s.cfg.SlackClientID, s.cfg.OAuthRedirectURL(), s.cfg.SlackScopes, s.cfg.SlackUserScopes, state)
	if err != nil {
		http.Error(w, "failed to build install url", http.StatusInternalServerError)
		return
	}
	utils.Debug("slack install redirect")
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (s *slackServer) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if errParam := r.URL.Query().Get("error"); errParam != "" {
		http.Error(w, "authorization denied: "+errParam, http.StatusBadRequest)
		return
	}
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" {
		http.Error(w, "missing code", http.StatusBadRequest)
		return
	}
	if err := verifyState(s.stateSecret(), state, time.Now()); err != nil {
		utils.Warn("slack oauth state rejected", "err", err)
		http.Error(w, "invalid state", http.StatusUnauthorized)
		return
	}

	access, err := s.oauth.ExchangeOAuthCode(r.Context(), s.cfg.SlackClientID, s.cfg.SlackClientSecret, code, s.cfg.OAuthRedirectURL())
	if err != nil {
		utils.Warn("slack oauth exchange failed", "err", err)
		http.Error(w, "oauth failed", http.StatusBadRequest)
		return
	}

	profile, err := s.oauth.GetUserWithToken(r.Context(), access.UserToken, access.UserID)
	if err != nil {
		utils.Warn("slack oauth users.info failed", "user_id", access.UserID, "err", err)
		http.Error(w, "failed to load profile", http.StatusBadGateway)
		return
	}
	if profile.TeamID == "" {
		profile.TeamID = access.TeamID
	}
	profile.AccessToken = access.UserToken
	profile.Scope = access.UserScope
	if err := s.store.UpsertUser(r.Context(), profile); err != nil {
		utils.Error("slack user store failed", "user_id", profile.ID, "err", err)
		http.Error(w, "failed to store user", http.StatusInternalServerError)
		return
	}

	if access.BotToken != "" {
		if err := s.store.UpsertSlackInstallation(r.Context(), db.SlackInstallation{
			TeamID:    access.TeamID,
			TeamName:  access.TeamName,
			BotUserID: access.BotUserID,
			BotToken:  access.BotToken,
			Scope:     access.BotScope,
		}); err != nil {
			utils.Error("slack installation store failed", "team_id", access.TeamID, "err", err)
			http.Error(w, "failed to store installation", http.StatusInternalServerError)
			return
		}
	}

	utils.Info("slack user registered", "team_id", profile.TeamID, "user_id", profile.ID, "name", profile.Name)
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Registered %s. You can now use %s. You can close this window.\n", profile.Name, s.cfg.StampCommand)
}

// makeState issues a short-lived signed token carried through the OAuth
// round trip.
func makeState(secret string, now time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("state secret missing")
	}
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(stateTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func verifyState(secret, state string, now time.Time) error {
	if state == "" {
		return errors.New("state missing")
	}
	_, err := jwt.ParseWithClaims(
		state,
		&jwt.RegisteredClaims{},
		func(*jwt.Token) (any, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	return err
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *loggingResponseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *loggingResponseWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}

func httpLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !utils.Verbose {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		lrw := &loggingResponseWriter{ResponseWriter: w}
		next.ServeHTTP(lrw, r)
		status := lrw.status
		if status == 0 {
			status = http.StatusOK
		}
		utils.Debug(
			"http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", lrw.bytes,
			"dur", time.Since(start).Truncate(time.Millisecond).String(),
			"remote", r.RemoteAddr,
		)
	})
}

type loggingRoundTripper struct {
	base http.RoundTripper
}

func (t loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	if !utils.Verbose {
		return base.RoundTrip(req)
	}
	start := time.Now()
	resp, err := base.RoundTrip(req)
	dur := time.Since(start).Truncate(time.Millisecond).String()
	if err != nil {
		utils.Warn("http outbound error", "method", req.Method, "url", req.URL.Redacted(), "dur", dur, "err", err)
		return nil, err
	}
	// Never log headers or bodies; they carry tokens.
	utils.Debug("http outbound", "method", req.Method, "url", req.URL.Redacted(), "status", resp.StatusCode, "dur", dur)
	return resp, nil
}
