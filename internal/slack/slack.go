package slack

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/oh-yeah-sea-kit2/slamp/internal/stamp"
	"github.com/oh-yeah-sea-kit2/slamp/internal/utils"
	slackapi "github.com/slack-go/slack"
)

const (
	oauthAuthorizeURL = "https://slack.com/oauth/v2/authorize"

	attachmentColor = "#fff"
)

// Client talks to the Slack Web API with the bot token, and with per-user
// tokens when posting as a signed-up user. It implements stamp.Directory and
// stamp.Poster.
type Client struct {
	http   *http.Client
	apiURL string
	bot    *slackapi.Client
}

// NewClient builds a Client. apiURL may be empty for the public Slack API.
func NewClient(httpClient *http.Client, botToken, apiURL string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if apiURL != "" && !strings.HasSuffix(apiURL, "/") {
		apiURL += "/"
	}
	c := &Client{http: httpClient, apiURL: apiURL}
	c.bot = c.api(botToken)
	return c
}

func (c *Client) api(token string) *slackapi.Client {
	opts := []slackapi.Option{slackapi.OptionHTTPClient(c.http)}
	if c.apiURL != "" {
		opts = append(opts, slackapi.OptionAPIURL(c.apiURL))
	}
	return slackapi.New(token, opts...)
}

// ListEmoji returns the workspace's full custom emoji catalog.
func (c *Client) ListEmoji(ctx context.Context) (stamp.Catalog, error) {
	emoji, err := c.bot.GetEmojiContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("slack emoji.list: %w", err)
	}
	utils.Debug("slack emoji.list", "entries", len(emoji))
	return stamp.Catalog(emoji), nil
}

// GetUser fetches a profile with the bot token.
func (c *Client) GetUser(ctx context.Context, userID string) (stamp.UserProfile, error) {
	return c.getUser(ctx, c.bot, userID)
}

// GetUserWithToken fetches a profile using a user token (OAuth callback).
func (c *Client) GetUserWithToken(ctx context.Context, token, userID string) (stamp.UserProfile, error) {
	if strings.TrimSpace(token) == "" {
		return stamp.UserProfile{}, errors.New("user token missing")
	}
	return c.getUser(ctx, c.api(token), userID)
}

func (c *Client) getUser(ctx context.Context, api *slackapi.Client, userID string) (stamp.UserProfile, error) {
	if strings.TrimSpace(userID) == "" {
		return stamp.UserProfile{}, errors.New("user id missing")
	}
	user, err := api.GetUserInfoContext(ctx, userID)
	if err != nil {
		return stamp.UserProfile{}, fmt.Errorf("slack users.info: %w", err)
	}
	return stamp.UserProfile{
		ID:        user.ID,
		TeamID:    user.TeamID,
		Name:      user.Name,
		AvatarURL: user.Profile.Image48,
	}, nil
}

// PostStamp posts the emoji image as an attachment. With AsUser the message
// is sent with the user's own token; otherwise the bot posts with the user's
// name and avatar.
func (c *Client) PostStamp(ctx context.Context, msg stamp.OutboundMessage) error {
	if msg.ChannelID == "" {
		return errors.New("channel missing")
	}
	if msg.ImageURL == "" {
		return errors.New("image url missing")
	}

	options := []slackapi.MsgOption{
		slackapi.MsgOptionText("", false),
		slackapi.MsgOptionAttachments(slackapi.Attachment{
			Color:    attachmentColor,
			Fallback: ":" + msg.Emoji + ":",
			ImageURL: msg.ImageURL,
		}),
	}

	api := c.bot
	if msg.AsUser {
		if msg.AccessToken == "" {
			return errors.New("user token missing")
		}
		api = c.api(msg.AccessToken)
		options = append(options, slackapi.MsgOptionAsUser(true))
	} else {
		if msg.Username != "" {
			options = append(options, slackapi.MsgOptionUsername(msg.Username))
		}
		if msg.IconURL != "" {
			options = append(options, slackapi.MsgOptionIconURL(msg.IconURL))
		}
	}

	channel, ts, err := api.PostMessageContext(ctx, msg.ChannelID, options...)
	if err != nil {
		return fmt.Errorf("slack chat.postMessage: %w", err)
	}
	utils.Debug("slack chat.postMessage", "channel", channel, "ts", ts, "as_user", msg.AsUser)
	return nil
}

// Respond delivers a delayed reply to a slash command's response_url.
func (c *Client) Respond(ctx context.Context, responseURL string, reply stamp.Reply) error {
	if strings.TrimSpace(responseURL) == "" {
		return errors.New("response url missing")
	}
	msg := &slackapi.WebhookMessage{Text: reply.Text}
	if reply.IsError {
		msg.ResponseType = "ephemeral"
	}
	if err := slackapi.PostWebhookCustomHTTPContext(ctx, responseURL, c.http, msg); err != nil {
		return fmt.Errorf("slack response_url: %w", err)
	}
	return nil
}

// OAuthAccess is the subset of oauth.v2.access the sign-up flow needs.
type OAuthAccess struct {
	TeamID    string
	TeamName  string
	UserID    string
	UserToken string
	UserScope string
	BotToken  string
	BotUserID string
	BotScope  string
}

// ExchangeOAuthCode trades the callback code for tokens.
func (c *Client) ExchangeOAuthCode(ctx context.Context, clientID, clientSecret, code, redirectURL string) (OAuthAccess, error) {
	if clientID == "" || clientSecret == "" {
		return OAuthAccess{}, errors.New("client_id and client_secret are required")
	}
	if code == "" {
		return OAuthAccess{}, errors.New("code is required")
	}
	resp, err := slackapi.GetOAuthV2ResponseContext(ctx, c.http, clientID, clientSecret, code, redirectURL)
	if err != nil {
		return OAuthAccess{}, fmt.Errorf("slack oauth.v2.access: %w", err)
	}
	if resp.Team.ID == "" {
		return OAuthAccess{}, errors.New("oauth response missing team.id")
	}
	if resp.AuthedUser.ID == "" || resp.AuthedUser.AccessToken == "" {
		return OAuthAccess{}, errors.New("oauth response missing authed_user token (request user_scope)")
	}
	return OAuthAccess{
		TeamID:    resp.Team.ID,
		TeamName:  resp.Team.Name,
		UserID:    resp.AuthedUser.ID,
		UserToken: resp.AuthedUser.AccessToken,
		UserScope: resp.AuthedUser.Scope,
		BotToken:  resp.AccessToken,
		BotUserID: resp.BotUserID,
		BotScope:  resp.Scope,
	}, nil
}

func BuildOAuthAuthorizeURL(clientID, redirectURL, scopes, userScopes, state string) (string, error) {
	if clientID == "" {
		return "", errors.New("clientID is required")
	}
	u, err := url.Parse(oauthAuthorizeURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("client_id", clientID)
	if scopes != "" {
		q.Set("scope", scopes)
	}
	if userScopes != "" {
		q.Set("user_scope", userScopes)
	}
	if redirectURL != "" {
		q.Set("redirect_uri", redirectURL)
	}
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// VerifySignature checks the X-Slack-Signature header against body.
func VerifySignature(signingSecret string, headers http.Header, body []byte) error {
	if strings.TrimSpace(signingSecret) == "" {
		return errors.New("slack signing secret missing")
	}
	sv, err := slackapi.NewSecretsVerifier(headers, signingSecret)
	if err != nil {
		return err
	}
	if _, err := sv.Write(body); err != nil {
		return err
	}
	return sv.Ensure()
}

// ParseCommand decodes a slash command form post.
func ParseCommand(r *http.Request) (stamp.Command, error) {
	sc, err := slackapi.SlashCommandParse(r)
	if err != nil {
		return stamp.Command{}, err
	}
	return stamp.Command{
		Token:       sc.Token,
		Command:     sc.Command,
		Text:        sc.Text,
		UserName:    sc.UserName,
		UserID:      sc.UserID,
		ChannelID:   sc.ChannelID,
		TeamID:      sc.TeamID,
		ResponseURL: sc.ResponseURL,
	}, nil
}
