package stamp

import (
	"context"
	"crypto/subtle"
	"regexp"
	"time"

	"golang.org/x/sync/errgroup"
)

var stampTextPattern = regexp.MustCompile(`^:([^:]+):$`)

// Options holds the values a command is validated against.
type Options struct {
	// Command is the slash command literal, e.g. "/stamp".
	Command string
	// VerificationToken is the shared secret Slack sends with each command.
	VerificationToken string
}

// Orchestrator handles one command at a time per call; calls may run
// concurrently and share the injected collaborators.
type Orchestrator struct {
	opts     Options
	emoji    *EmojiResolver
	identity IdentityResolver
	poster   Poster
	usage    UsageRecorder
	now      func() time.Time
}

func NewOrchestrator(opts Options, emoji *EmojiResolver, identity IdentityResolver, poster Poster, usage UsageRecorder) *Orchestrator {
	if opts.Command == "" {
		opts.Command = "/stamp"
	}
	return &Orchestrator{
		opts:     opts,
		emoji:    emoji,
		identity: identity,
		poster:   poster,
		usage:    usage,
		now:      time.Now,
	}
}

// Handle runs validate, resolve, post and returns the acknowledgement. It
// never returns an error: every failure becomes an ephemeral reply.
func (o *Orchestrator) Handle(ctx context.Context, cmd Command) Reply {
	err := o.run(ctx, cmd)
	if err != nil {
		logger(ctx).Warn("stamp failed", "user_id", cmd.UserID, "channel", cmd.ChannelID, "text", cmd.Text, "err", err)
		return Reply{Text: UserMessage(err), IsError: true}
	}
	return Reply{}
}

func (o *Orchestrator) run(ctx context.Context, cmd Command) error {
	name, err := o.validate(cmd)
	if err != nil {
		return err
	}

	var (
		imageURL string
		profile  UserProfile
		g        errgroup.Group
	)
	g.Go(func() error {
		url, err := o.emoji.Resolve(ctx, name)
		if err != nil {
			return err
		}
		imageURL = url
		return nil
	})
	g.Go(func() error {
		p, err := o.identity.Resolve(ctx, cmd.UserID)
		if err != nil {
			return err
		}
		profile = p
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	msg := OutboundMessage{
		ChannelID: cmd.ChannelID,
		ImageURL:  imageURL,
		Emoji:     name,
	}
	if o.identity.PostsAsUser() {
		msg.AsUser = true
		msg.AccessToken = profile.AccessToken
	} else {
		msg.Username = profile.Name
		msg.IconURL = profile.AvatarURL
	}
	if err := o.poster.PostStamp(ctx, msg); err != nil {
		return &UpstreamError{Op: "chat.postMessage", Err: err}
	}
	logger(ctx).Info("stamp posted", "user_id", cmd.UserID, "channel", cmd.ChannelID, "emoji", name)

	if o.usage != nil {
		event := UsageEvent{
			TeamID:    cmd.TeamID,
			UserID:    cmd.UserID,
			ChannelID: cmd.ChannelID,
			Emoji:     name,
			PostedAt:  o.now().UTC(),
		}
		if err := o.usage.RecordUsage(ctx, event); err != nil {
			logger(ctx).Warn("stamp usage record failed", "user_id", cmd.UserID, "emoji", name, "err", err)
		}
	}
	return nil
}

// validate checks the command literal, the shared token and the ":name:"
// shape, returning the bare emoji name.
func (o *Orchestrator) validate(cmd Command) (string, error) {
	if cmd.Command != o.opts.Command {
		return "", &ValidationError{Reason: "unexpected command " + cmd.Command}
	}
	if o.opts.VerificationToken == "" ||
		subtle.ConstantTimeCompare([]byte(cmd.Token), []byte(o.opts.VerificationToken)) != 1 {
		return "", &ValidationError{Reason: "token mismatch"}
	}
	m := stampTextPattern.FindStringSubmatch(cmd.Text)
	if m == nil {
		return "", &ValidationError{Reason: "text must look like :name:"}
	}
	return m[1], nil
}
