// Админские команды: статистика, управление ролями и банами, настройки
// обязательной подписки и dump-канала, рассылка.

package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"

	"telegram-downloader/internal/domain/account"
	"telegram-downloader/internal/domain/links"
	"telegram-downloader/internal/infra/logger"
	"telegram-downloader/internal/infra/store"
)

func (b *Bot) handleAdminCommand(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage, userID int64, cmd string, args []string) error {
	acc, err := b.accounts.Get(userID)
	if err != nil {
		return errors.Wrap(err, "load account")
	}
	if acc.Role != account.RoleAdmin && acc.Role != account.RoleOwner {
		return b.reply(ctx, e, u, msgNotAdmin)
	}

	switch cmd {
	case "stats":
		return b.cmdStats(ctx, e, u)
	case "killall":
		n := b.slots.CancelAll()
		return b.reply(ctx, e, u, fmt.Sprintf("Cancellation requested for %d active transfer(s).", n))
	case "setrole":
		if acc.Role != account.RoleOwner {
			return b.reply(ctx, e, u, msgOwnerOnly)
		}
		return b.cmdSetRole(ctx, e, u, args)
	case "ban":
		return b.cmdSetBanned(ctx, e, u, args, true)
	case "unban":
		return b.cmdSetBanned(ctx, e, u, args, false)
	case "settings":
		return b.cmdSettings(ctx, e, u)
	case "set_force_sub":
		return b.cmdSetForceSub(ctx, e, u, args)
	case "set_dump":
		return b.cmdSetDump(ctx, e, u, args)
	case "premium_users":
		return b.cmdPremiumUsers(ctx, e, u)
	case "broadcast":
		return b.cmdBroadcast(ctx, e, u, userID, args)
	default:
		return b.reply(ctx, e, u, msgBadCommand)
	}
}

func (b *Bot) cmdStats(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
	total, err := b.db.CountUsers()
	if err != nil {
		return errors.Wrap(err, "count users")
	}
	premium, err := b.db.ListUsersByRole(account.RolePremium)
	if err != nil {
		return errors.Wrap(err, "list premium")
	}
	return b.reply(ctx, e, u, fmt.Sprintf(
		"Users: %d\nPremium: %d\nActive transfers: %d of %d slots",
		total, len(premium), b.slots.ActiveCount(), b.slots.Capacity(),
	))
}

func (b *Bot) cmdSetRole(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage, args []string) error {
	if len(args) < 2 {
		return b.reply(ctx, e, u, "Usage: /setrole <user id> <free|premium|admin> [days]")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return b.reply(ctx, e, u, "User id must be a number.")
	}
	role, ok := account.ParseRole(args[1])
	if !ok || role == account.RoleOwner {
		return b.reply(ctx, e, u, "Role must be one of: free, premium, admin.")
	}
	days := 0
	if len(args) > 2 {
		if days, err = strconv.Atoi(args[2]); err != nil || days < 0 {
			return b.reply(ctx, e, u, "Days must be a non-negative number.")
		}
	}
	if err := b.accounts.SetRole(id, role, days); err != nil {
		return errors.Wrap(err, "set role")
	}
	return b.reply(ctx, e, u, fmt.Sprintf("User %d is now %s.", id, role))
}

func (b *Bot) cmdSetBanned(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage, args []string, banned bool) error {
	if len(args) < 1 {
		return b.reply(ctx, e, u, "Usage: /ban <user id> or /unban <user id>")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return b.reply(ctx, e, u, "User id must be a number.")
	}
	if err := b.accounts.SetBanned(id, banned); err != nil {
		return errors.Wrap(err, "set banned")
	}
	verb := "unbanned"
	if banned {
		verb = "banned"
	}
	return b.reply(ctx, e, u, fmt.Sprintf("User %d %s.", id, verb))
}

func (b *Bot) cmdSettings(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
	forceSub, err := b.db.ForceSubChannel()
	if err != nil {
		return errors.Wrap(err, "read settings")
	}
	if forceSub == "" {
		forceSub = "off"
	} else {
		forceSub = "@" + forceSub
	}
	dump := "off"
	if id, ok := b.db.DumpChannelID(); ok {
		dump = strconv.FormatInt(id, 10)
	}
	return b.reply(ctx, e, u, fmt.Sprintf("Force subscription: %s\nDump channel: %s", forceSub, dump))
}

func (b *Bot) cmdSetForceSub(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage, args []string) error {
	if len(args) < 1 {
		return b.reply(ctx, e, u, "Usage: /set_force_sub <@channel|off>")
	}
	value := strings.TrimPrefix(args[0], "@")
	if strings.EqualFold(value, "off") {
		value = ""
	}
	if err := b.db.UpsertSetting(store.SettingForceSubChannel, value, nil); err != nil {
		return errors.Wrap(err, "save setting")
	}
	if value == "" {
		return b.reply(ctx, e, u, "Force subscription disabled.")
	}
	return b.reply(ctx, e, u, fmt.Sprintf("Force subscription channel set to @%s.", value))
}

func (b *Bot) cmdSetDump(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage, args []string) error {
	if len(args) < 1 {
		return b.reply(ctx, e, u, "Usage: /set_dump <channel id|off>")
	}
	if strings.EqualFold(args[0], "off") {
		if err := b.db.UpsertSetting(store.SettingDumpChannelID, "", nil); err != nil {
			return errors.Wrap(err, "save setting")
		}
		return b.reply(ctx, e, u, "Dump channel disabled.")
	}

	// Принимаются обе формы: внутренний id вида -100xxxxxxxxxx и сырой.
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return b.reply(ctx, e, u, "Channel id must be a number or 'off'.")
	}
	if id < 0 {
		id = links.RawChannelID(id)
	}
	if err := b.db.UpsertSetting(store.SettingDumpChannelID, strconv.FormatInt(id, 10), nil); err != nil {
		return errors.Wrap(err, "save setting")
	}
	return b.reply(ctx, e, u, fmt.Sprintf("Dump channel set to %d.", id))
}

func (b *Bot) cmdPremiumUsers(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
	users, err := b.db.ListUsersByRole(account.RolePremium)
	if err != nil {
		return errors.Wrap(err, "list premium")
	}
	if len(users) == 0 {
		return b.reply(ctx, e, u, "No premium users.")
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Premium users (%d):\n", len(users))
	for _, p := range users {
		until := p.PremiumExpiryDate
		if until == "" {
			until = "lifetime"
		}
		fmt.Fprintf(&sb, "• %d — until %s\n", p.TelegramID, until)
	}
	return b.reply(ctx, e, u, sb.String())
}

// cmdBroadcast рассылает текст всем известным пользователям с ограничением
// темпа. Итог приходит админу правкой статусного сообщения.
func (b *Bot) cmdBroadcast(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage, adminID int64, args []string) error {
	if len(args) == 0 {
		return b.reply(ctx, e, u, "Usage: /broadcast <text>")
	}
	text := strings.Join(args, " ")

	users, err := b.db.ListUsers()
	if err != nil {
		return errors.Wrap(err, "list users")
	}
	adminPeer, err := b.userPeer(ctx, adminID)
	if err != nil {
		return errors.Wrap(err, "resolve admin peer")
	}
	statusID, err := b.sendStatus(ctx, adminPeer, fmt.Sprintf("Broadcasting to %d users...", len(users)))
	if err != nil {
		return err
	}

	go b.runBroadcast(context.WithoutCancel(ctx), adminPeer, statusID, users, text)
	return nil
}

func (b *Bot) runBroadcast(ctx context.Context, adminPeer tg.InputPeerClass, statusID int, users []*account.User, text string) {
	limiter := b.broadcastLimiter()
	sent, failed := 0, 0

	for i, target := range users {
		if err := limiter.Wait(ctx); err != nil {
			logger.Warnf("bot: broadcast interrupted: %v", err)
			break
		}
		peer, err := b.userPeer(ctx, target.TelegramID)
		if err == nil {
			err = b.sendTo(ctx, peer, text)
		}
		if err != nil {
			failed++
			logger.Debugf("bot: broadcast to %d: %v", target.TelegramID, err)
		} else {
			sent++
		}

		if (i+1)%25 == 0 {
			b.editStatus(ctx, adminPeer, statusID, fmt.Sprintf("Broadcasting: %d/%d done...", i+1, len(users)))
		}
	}

	b.editStatus(ctx, adminPeer, statusID, fmt.Sprintf("Broadcast finished: %d sent, %d failed.", sent, failed))
}
