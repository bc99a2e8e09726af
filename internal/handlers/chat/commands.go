package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	api "github.com/OvyFlash/telegram-bot-api"
	pkgerrors "github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngwarden/internal/admincache"
	"github.com/iamwavecut/ngwarden/internal/bot"
	"github.com/iamwavecut/ngwarden/internal/db"
	errs "github.com/iamwavecut/ngwarden/internal/errors"
	moderation "github.com/iamwavecut/ngwarden/internal/handlers/moderation"
)

const (
	MsgReloadCooldown  = "Can only reload admin cache once per 10 mins!"
	MsgGroupOnly       = "This command can only be used in groups"
	MsgAdminOnly       = "You need to be an admin to do this."
	MsgOperatorOnly    = "Only bot operators can do this."
	MsgAdminUnverified = "Can't verify your admin rights right now, try again later."
	MsgSomethingWrong  = "Something went wrong, try again later."

	maxListedGbans = 50
)

type (
	adminCache interface {
		IsAdmin(ctx context.Context, chatID, userID int64) (bool, error)
		Lookup(ctx context.Context, chatID int64) (*admincache.Entry, error)
		ManualReload(ctx context.Context, chatID, requesterID int64) (*admincache.Entry, error)
	}

	replier interface {
		SendReply(ctx context.Context, chatID int64, text string) error
	}

	verdictSource interface {
		LastVerdict(chatID int64, messageID int) *moderation.Verdict
	}
)

type access int

const (
	accessAnyone access = iota
	accessAdmin
	accessOperator
)

type command struct {
	access    access
	groupOnly bool
	run       func(ctx context.Context, cc *commandContext) (string, error)
}

type commandContext struct {
	msg    *api.Message
	chatID int64
	user   *api.User
	args   string
}

type CommandsDeps struct {
	Replier    replier
	Admins     adminCache
	GlobalBans *moderation.GlobalBans
	ChatBlocks *moderation.ChatBlacklist
	Blacklists *moderation.Blacklists
	Warns      *moderation.WarnLedger
	Approvals  *moderation.Approvals
	Verdicts   verdictSource
	IsOperator func(userID int64) bool
	BotID      int64
}

// Commands is the operator and chat admin command surface.
type Commands struct {
	CommandsDeps
	commands map[string]command
}

func NewCommands(deps CommandsDeps) *Commands {
	if deps.IsOperator == nil {
		deps.IsOperator = func(int64) bool { return false }
	}
	c := &Commands{CommandsDeps: deps}
	c.commands = map[string]command{
		"gban":      {access: accessOperator, run: c.gban},
		"ungban":    {access: accessOperator, run: c.ungban},
		"gbancount": {access: accessOperator, run: c.gbanCount},
		"gbanlist":  {access: accessOperator, run: c.gbanList},

		"blchat":   {access: accessOperator, run: c.blacklistChat},
		"unblchat": {access: accessOperator, run: c.unblacklistChat},
		"blchats":  {access: accessOperator, run: c.listBlacklistedChats},

		"addblacklist": {access: accessAdmin, groupOnly: true, run: c.addBlacklist},
		"rmblacklist":  {access: accessAdmin, groupOnly: true, run: c.rmBlacklist},
		"blacklist":    {access: accessAdmin, groupOnly: true, run: c.listBlacklist},
		"blaction":     {access: accessAdmin, groupOnly: true, run: c.blacklistAction},
		"blreason":     {access: accessAdmin, groupOnly: true, run: c.blacklistReason},

		"warnlimit":  {access: accessAdmin, groupOnly: true, run: c.warnLimit},
		"warnmode":   {access: accessAdmin, groupOnly: true, run: c.warnMode},
		"warns":      {access: accessAnyone, groupOnly: true, run: c.showWarns},
		"resetwarns": {access: accessAdmin, groupOnly: true, run: c.resetWarns},

		"admincache": {access: accessAdmin, groupOnly: true, run: c.reloadAdmins},
		"adminlist":  {access: accessAnyone, groupOnly: true, run: c.listAdmins},

		"approve":      {access: accessAdmin, groupOnly: true, run: c.approve},
		"unapprove":    {access: accessAdmin, groupOnly: true, run: c.unapprove},
		"approved":     {access: accessAdmin, groupOnly: true, run: c.listApproved},
		"unapproveall": {access: accessAdmin, groupOnly: true, run: c.unapproveAll},

		"skipreason": {access: accessAdmin, groupOnly: true, run: c.skipReason},
	}
	return c
}

func (c *Commands) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	msg := u.Message
	if msg == nil || chat == nil || user == nil || !msg.IsCommand() {
		return true, nil
	}
	cmd, ok := c.commands[strings.ToLower(msg.Command())]
	if !ok {
		return true, nil
	}

	entry := c.getLogEntry().WithFields(log.Fields{
		"chat_id": chat.ID,
		"user_id": user.ID,
		"command": msg.Command(),
	})

	if cmd.groupOnly && !(chat.IsGroup() || chat.IsSuperGroup()) {
		c.reply(ctx, chat.ID, MsgGroupOnly)
		return false, nil
	}
	if denied := c.authorize(ctx, cmd.access, chat.ID, user.ID); denied != "" {
		c.reply(ctx, chat.ID, denied)
		return false, nil
	}

	text, err := cmd.run(ctx, &commandContext{
		msg:    msg,
		chatID: chat.ID,
		user:   user,
		args:   strings.TrimSpace(msg.CommandArguments()),
	})
	switch {
	case err == nil:
	case errors.Is(err, errs.ErrRateLimited):
		text = MsgReloadCooldown
	case errors.Is(err, errs.ErrInvalidInput):
		text = usageText(err)
	default:
		entry.WithError(err).Error("command failed")
		c.reply(ctx, chat.ID, MsgSomethingWrong)
		return false, pkgerrors.Wrap(err, "command "+msg.Command())
	}
	if text != "" {
		c.reply(ctx, chat.ID, text)
	}
	entry.Debug("command handled")
	return false, nil
}

func (c *Commands) authorize(ctx context.Context, level access, chatID, userID int64) string {
	switch level {
	case accessAnyone:
		return ""
	case accessOperator:
		if c.IsOperator(userID) {
			return ""
		}
		return MsgOperatorOnly
	case accessAdmin:
		if c.IsOperator(userID) {
			return ""
		}
		isAdmin, err := c.Admins.IsAdmin(ctx, chatID, userID)
		if err != nil {
			return MsgAdminUnverified
		}
		if !isAdmin {
			return MsgAdminOnly
		}
		return ""
	}
	return MsgAdminOnly
}

func (c *Commands) reply(ctx context.Context, chatID int64, text string) {
	if err := c.Replier.SendReply(ctx, chatID, text); err != nil {
		c.getLogEntry().WithFields(log.Fields{
			"chat_id": chatID,
			"error":   err.Error(),
		}).Warn("cant send command reply")
	}
}

func (c *Commands) getLogEntry() *log.Entry {
	return log.WithField("object", "Commands")
}

// target resolves the user a command acts on: the author of the replied
// message, or a numeric id as the first argument. rest is what follows.
func target(cc *commandContext) (userID int64, name string, rest string, err error) {
	if reply := cc.msg.ReplyToMessage; reply != nil && reply.From != nil {
		return reply.From.ID, bot.GetFullName(reply.From), cc.args, nil
	}
	fields := strings.Fields(cc.args)
	if len(fields) == 0 {
		return 0, "", "", fmt.Errorf("%w: reply to a user or pass their id", errs.ErrInvalidInput)
	}
	id, parseErr := strconv.ParseInt(fields[0], 10, 64)
	if parseErr != nil || id == 0 {
		return 0, "", "", fmt.Errorf("%w: %q is not a user id", errs.ErrInvalidInput, fields[0])
	}
	rest = strings.TrimSpace(strings.TrimPrefix(cc.args, fields[0]))
	return id, strconv.FormatInt(id, 10), rest, nil
}

// splitTriggers accepts one trigger per line or a comma separated list.
func splitTriggers(args string) []string {
	parts := strings.FieldsFunc(args, func(r rune) bool { return r == '\n' || r == ',' })
	res := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			res = append(res, p)
		}
	}
	return res
}

func usageText(err error) string {
	msg := err.Error()
	prefix := errs.ErrInvalidInput.Error() + ": "
	if i := strings.Index(msg, prefix); i >= 0 {
		msg = msg[i+len(prefix):]
	}
	if msg == "" {
		return "Invalid input."
	}
	return strings.ToUpper(msg[:1]) + msg[1:] + "."
}

func (c *Commands) gban(ctx context.Context, cc *commandContext) (string, error) {
	userID, name, reason, err := target(cc)
	if err != nil {
		return "", err
	}
	if c.IsOperator(userID) || userID == c.BotID {
		return "I'm not going to gban that user.", nil
	}
	if reason == "" {
		return "", fmt.Errorf("%w: a gban needs a reason", errs.ErrInvalidInput)
	}
	updated, err := c.GlobalBans.Ban(ctx, userID, reason, cc.user.ID)
	if err != nil {
		return "", err
	}
	if updated {
		return fmt.Sprintf("%s is already globally banned; the reason is now: %s", name, reason), nil
	}
	return fmt.Sprintf("%s has been globally banned.\nReason: %s", name, reason), nil
}

func (c *Commands) ungban(ctx context.Context, cc *commandContext) (string, error) {
	userID, name, _, err := target(cc)
	if err != nil {
		return "", err
	}
	removed, err := c.GlobalBans.Unban(ctx, userID)
	if err != nil {
		return "", err
	}
	if !removed {
		return fmt.Sprintf("%s is not globally banned.", name), nil
	}
	return fmt.Sprintf("%s has been removed from the global ban list.", name), nil
}

func (c *Commands) gbanCount(ctx context.Context, cc *commandContext) (string, error) {
	n, err := c.GlobalBans.Count(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("There are %d globally banned users.", n), nil
}

func (c *Commands) gbanList(ctx context.Context, cc *commandContext) (string, error) {
	bans, err := c.GlobalBans.List(ctx)
	if err != nil {
		return "", err
	}
	if len(bans) == 0 {
		return "Nobody is globally banned.", nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Globally banned users (%d):", len(bans))
	for i, ban := range bans {
		if i == maxListedGbans {
			fmt.Fprintf(&sb, "\n...and %d more", len(bans)-maxListedGbans)
			break
		}
		fmt.Fprintf(&sb, "\n%d: %s", ban.UserID, ban.Reason)
	}
	return sb.String(), nil
}

// chatTarget reads a chat id from the first argument, falling back to the
// current group.
func chatTarget(cc *commandContext) (chatID int64, rest string, err error) {
	fields := strings.Fields(cc.args)
	if len(fields) > 0 {
		if id, parseErr := strconv.ParseInt(fields[0], 10, 64); parseErr == nil && id < 0 {
			return id, strings.TrimSpace(strings.TrimPrefix(cc.args, fields[0])), nil
		}
	}
	if cc.chatID < 0 {
		return cc.chatID, cc.args, nil
	}
	return 0, "", fmt.Errorf("%w: pass the id of the chat", errs.ErrInvalidInput)
}

func (c *Commands) blacklistChat(ctx context.Context, cc *commandContext) (string, error) {
	chatID, reason, err := chatTarget(cc)
	if err != nil {
		return "", err
	}
	updated, err := c.ChatBlocks.Add(ctx, chatID, reason, cc.user.ID)
	if err != nil {
		return "", err
	}
	if updated {
		return fmt.Sprintf("Chat %d is already blacklisted.", chatID), nil
	}
	return fmt.Sprintf("Chat %d has been blacklisted.", chatID), nil
}

func (c *Commands) unblacklistChat(ctx context.Context, cc *commandContext) (string, error) {
	chatID, _, err := chatTarget(cc)
	if err != nil {
		return "", err
	}
	removed, err := c.ChatBlocks.Remove(ctx, chatID)
	if err != nil {
		return "", err
	}
	if !removed {
		return fmt.Sprintf("Chat %d is not blacklisted.", chatID), nil
	}
	return fmt.Sprintf("Chat %d has been removed from the blacklist.", chatID), nil
}

func (c *Commands) listBlacklistedChats(ctx context.Context, cc *commandContext) (string, error) {
	chats, err := c.ChatBlocks.List(ctx)
	if err != nil {
		return "", err
	}
	if len(chats) == 0 {
		return "No chats are blacklisted.", nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Blacklisted chats (%d):", len(chats))
	for _, ch := range chats {
		fmt.Fprintf(&sb, "\n%d", ch.ChatID)
		if ch.Reason != "" {
			fmt.Fprintf(&sb, ": %s", ch.Reason)
		}
	}
	return sb.String(), nil
}

func (c *Commands) addBlacklist(ctx context.Context, cc *commandContext) (string, error) {
	triggers := splitTriggers(cc.args)
	if len(triggers) == 0 {
		return "", fmt.Errorf("%w: give me some words to blacklist", errs.ErrInvalidInput)
	}
	added, err := c.Blacklists.AddTriggers(ctx, cc.chatID, triggers...)
	if err != nil {
		return "", err
	}
	if len(added) == 0 {
		return "Those triggers are already blacklisted.", nil
	}
	return fmt.Sprintf("Added %d blacklist trigger(s): %s", len(added), strings.Join(added, ", ")), nil
}

func (c *Commands) rmBlacklist(ctx context.Context, cc *commandContext) (string, error) {
	triggers := splitTriggers(cc.args)
	if len(triggers) == 0 {
		return "", fmt.Errorf("%w: tell me which words to remove from the blacklist", errs.ErrInvalidInput)
	}
	removed, err := c.Blacklists.RemoveTriggers(ctx, cc.chatID, triggers...)
	if err != nil {
		return "", err
	}
	if len(removed) == 0 {
		return "None of those are blacklisted.", nil
	}
	return fmt.Sprintf("Removed %d blacklist trigger(s): %s", len(removed), strings.Join(removed, ", ")), nil
}

func (c *Commands) listBlacklist(ctx context.Context, cc *commandContext) (string, error) {
	bl, err := c.Blacklists.Get(ctx, cc.chatID)
	if err != nil {
		return "", err
	}
	if len(bl.Triggers) == 0 {
		return "No blacklisted words in this chat.", nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Blacklisted words (action: %s):", bl.Action)
	for _, t := range bl.Triggers {
		sb.WriteString("\n - ")
		sb.WriteString(t)
	}
	return sb.String(), nil
}

func (c *Commands) blacklistAction(ctx context.Context, cc *commandContext) (string, error) {
	if cc.args == "" {
		bl, err := c.Blacklists.Get(ctx, cc.chatID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("The current blacklist action is %s.", bl.Action), nil
	}
	action, err := db.ParseAction(cc.args)
	if err != nil {
		return "", fmt.Errorf("%w: action must be one of warn, mute, kick or ban", errs.ErrInvalidInput)
	}
	if err := c.Blacklists.SetAction(ctx, cc.chatID, action); err != nil {
		return "", err
	}
	return fmt.Sprintf("Blacklist action set to %s.", action), nil
}

func (c *Commands) blacklistReason(ctx context.Context, cc *commandContext) (string, error) {
	if err := c.Blacklists.SetReason(ctx, cc.chatID, cc.args); err != nil {
		return "", err
	}
	if cc.args == "" {
		return "Blacklist reason reset to default.", nil
	}
	return "Blacklist reason updated.", nil
}

func (c *Commands) warnLimit(ctx context.Context, cc *commandContext) (string, error) {
	if cc.args == "" {
		settings, err := c.Warns.Settings(ctx, cc.chatID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("The current warn limit is %d.", settings.Limit), nil
	}
	limit, err := strconv.Atoi(cc.args)
	if err != nil {
		return "", fmt.Errorf("%w: warn limit must be a number", errs.ErrInvalidInput)
	}
	if err := c.Warns.SetLimit(ctx, cc.chatID, limit); err != nil {
		return "", err
	}
	return fmt.Sprintf("Warn limit set to %d.", limit), nil
}

func (c *Commands) warnMode(ctx context.Context, cc *commandContext) (string, error) {
	if cc.args == "" {
		settings, err := c.Warns.Settings(ctx, cc.chatID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("The current warn mode is %s.", settings.Mode), nil
	}
	mode, err := db.ParseAction(cc.args)
	if err != nil {
		return "", fmt.Errorf("%w: warn mode must be one of mute, kick or ban", errs.ErrInvalidInput)
	}
	if err := c.Warns.SetMode(ctx, cc.chatID, mode); err != nil {
		return "", err
	}
	return fmt.Sprintf("Warn mode set to %s.", mode), nil
}

func (c *Commands) showWarns(ctx context.Context, cc *commandContext) (string, error) {
	userID, name := cc.user.ID, bot.GetFullName(cc.user)
	if cc.msg.ReplyToMessage != nil || cc.args != "" {
		var err error
		if userID, name, _, err = target(cc); err != nil {
			return "", err
		}
	}
	warn, err := c.Warns.Get(ctx, cc.chatID, userID)
	if err != nil {
		return "", err
	}
	settings, err := c.Warns.Settings(ctx, cc.chatID)
	if err != nil {
		return "", err
	}
	if warn == nil || warn.Count == 0 {
		return fmt.Sprintf("%s has no warnings.", name), nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s has %d/%d warnings.", name, warn.Count, settings.Limit)
	for _, reason := range warn.Reasons {
		sb.WriteString("\n - ")
		sb.WriteString(reason)
	}
	return sb.String(), nil
}

func (c *Commands) resetWarns(ctx context.Context, cc *commandContext) (string, error) {
	userID, name, _, err := target(cc)
	if err != nil {
		return "", err
	}
	removed, err := c.Warns.Reset(ctx, cc.chatID, userID)
	if err != nil {
		return "", err
	}
	if !removed {
		return fmt.Sprintf("%s has no warnings.", name), nil
	}
	return fmt.Sprintf("Warnings of %s have been reset.", name), nil
}

func (c *Commands) reloadAdmins(ctx context.Context, cc *commandContext) (string, error) {
	entry, err := c.Admins.ManualReload(ctx, cc.chatID, cc.user.ID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Admin cache reloaded, %d admins.", len(entry.Admins)), nil
}

func (c *Commands) listAdmins(ctx context.Context, cc *commandContext) (string, error) {
	entry, err := c.Admins.Lookup(ctx, cc.chatID)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteString("Admins in this chat:")
	for _, a := range entry.Admins {
		if a.IsAnonymous {
			continue
		}
		sb.WriteString("\n - ")
		sb.WriteString(a.Name)
	}
	return sb.String(), nil
}

func (c *Commands) approve(ctx context.Context, cc *commandContext) (string, error) {
	userID, name, _, err := target(cc)
	if err != nil {
		return "", err
	}
	added, err := c.Approvals.Approve(ctx, cc.chatID, userID, name)
	if err != nil {
		return "", err
	}
	if !added {
		return fmt.Sprintf("%s is already approved.", name), nil
	}
	return fmt.Sprintf("%s has been approved; blacklists won't apply to them anymore.", name), nil
}

func (c *Commands) unapprove(ctx context.Context, cc *commandContext) (string, error) {
	userID, name, _, err := target(cc)
	if err != nil {
		return "", err
	}
	removed, err := c.Approvals.Unapprove(ctx, cc.chatID, userID)
	if err != nil {
		return "", err
	}
	if !removed {
		return fmt.Sprintf("%s isn't approved yet.", name), nil
	}
	return fmt.Sprintf("%s is no longer approved.", name), nil
}

func (c *Commands) listApproved(ctx context.Context, cc *commandContext) (string, error) {
	users, err := c.Approvals.List(ctx, cc.chatID)
	if err != nil {
		return "", err
	}
	if len(users) == 0 {
		return "No users are approved in this chat.", nil
	}
	var sb strings.Builder
	sb.WriteString("Approved users:")
	for _, u := range users {
		fmt.Fprintf(&sb, "\n - %s (%d)", u.Name, u.UserID)
	}
	return sb.String(), nil
}

func (c *Commands) unapproveAll(ctx context.Context, cc *commandContext) (string, error) {
	n, err := c.Approvals.UnapproveAll(ctx, cc.chatID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Unapproved %d user(s).", n), nil
}

func (c *Commands) skipReason(ctx context.Context, cc *commandContext) (string, error) {
	if cc.msg.ReplyToMessage == nil {
		return "Please reply to a message to see its skip reason", nil
	}
	if c.Verdicts == nil {
		return "No processing information available for this message", nil
	}
	verdict := c.Verdicts.LastVerdict(cc.chatID, cc.msg.ReplyToMessage.MessageID)
	if verdict == nil {
		return "No processing information available for this message", nil
	}
	if verdict.Skipped != moderation.SkipNone {
		return fmt.Sprintf("Message was skipped\nReason: %s", verdict.Skipped), nil
	}
	return fmt.Sprintf("Message matched %q, action: %s (escalated: %t)", verdict.Trigger, verdict.Action, verdict.Escalated), nil
}
