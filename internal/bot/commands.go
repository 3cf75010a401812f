// Разбор команд и пользовательские сценарии: приветствие, логин-диалог,
// передачи по ссылке и пакетный режим.

package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"

	"telegram-downloader/internal/domain/account"
	"telegram-downloader/internal/domain/gate"
	"telegram-downloader/internal/domain/links"
	"telegram-downloader/internal/domain/login"
	"telegram-downloader/internal/domain/plans"
	"telegram-downloader/internal/domain/transfer"
	"telegram-downloader/internal/infra/concurrency"
	"telegram-downloader/internal/infra/logger"
)

func (b *Bot) handleCommand(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage, userID int64, text string) error {
	fields := strings.Fields(text)
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	args := fields[1:]

	switch cmd {
	case "start":
		return b.cmdStart(ctx, e, u, userID)
	case "agree":
		return b.cmdAgree(ctx, e, u, userID)
	case "help":
		return b.reply(ctx, e, u, msgHelp)
	case "login":
		return b.cmdLogin(ctx, e, u, userID)
	case "cancel":
		return b.cmdCancel(ctx, e, u, userID)
	case "logout":
		return b.cmdLogout(ctx, e, u, userID)
	case "myinfo":
		return b.cmdMyInfo(ctx, e, u, userID)
	case "upgrade":
		return b.reply(ctx, e, u, plans.Render(b.plans, b.paymentContact))
	case "batch":
		return b.cmdBatch(ctx, e, u, userID, args)

	case "stats", "killall", "setrole", "ban", "unban", "settings",
		"set_force_sub", "set_dump", "premium_users", "broadcast":
		return b.handleAdminCommand(ctx, e, u, userID, cmd, args)

	default:
		return b.reply(ctx, e, u, msgBadCommand)
	}
}

func (b *Bot) cmdStart(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage, userID int64) error {
	acc, err := b.accounts.Get(userID)
	if err != nil {
		return errors.Wrap(err, "load account")
	}
	if acc.IsAgreedTerms {
		return b.reply(ctx, e, u, msgWelcomeBack)
	}
	return b.reply(ctx, e, u, msgWelcome)
}

func (b *Bot) cmdAgree(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage, userID int64) error {
	acc, err := b.accounts.Get(userID)
	if err != nil {
		return errors.Wrap(err, "load account")
	}
	if acc.IsAgreedTerms {
		return b.reply(ctx, e, u, msgAlreadyAgreed)
	}
	if err := b.accounts.AgreeTerms(userID); err != nil {
		return errors.Wrap(err, "agree terms")
	}
	return b.reply(ctx, e, u, msgAgreed)
}

func (b *Bot) cmdLogin(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage, userID int64) error {
	step, err := b.login.Begin(ctx, userID)
	switch {
	case errors.Is(err, login.ErrAlreadyAuthorized):
		return b.reply(ctx, e, u, msgLoginExists)
	case err != nil:
		return errors.Wrap(err, "begin login")
	}
	return b.reply(ctx, e, u, loginStepText(step, nil))
}

// cmdCancel обрывает то, что сейчас идёт у пользователя: сначала логин-диалог,
// затем активную передачу.
func (b *Bot) cmdCancel(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage, userID int64) error {
	if b.login.Cancel(userID) {
		return b.reply(ctx, e, u, msgLoginCancelled)
	}
	if b.slots.RequestCancel(userID) {
		return b.reply(ctx, e, u, msgTransferCancel)
	}
	return b.reply(ctx, e, u, msgNothingToCancel)
}

func (b *Bot) cmdLogout(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage, userID int64) error {
	acc, err := b.accounts.Get(userID)
	if err != nil {
		return errors.Wrap(err, "load account")
	}
	if !acc.HasSession() {
		return b.reply(ctx, e, u, msgNoSession)
	}
	if err := b.accounts.Logout(userID); err != nil {
		return errors.Wrap(err, "logout")
	}
	return b.reply(ctx, e, u, msgLoggedOut)
}

func (b *Bot) cmdMyInfo(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage, userID int64) error {
	// Remaining первым: он лениво понижает просроченный премиум, и дальше
	// роль читается уже актуальной.
	remaining, unlimited, err := b.ledger.Remaining(userID)
	if err != nil {
		return errors.Wrap(err, "read quota")
	}
	acc, err := b.accounts.Get(userID)
	if err != nil {
		return errors.Wrap(err, "load account")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Your ID: %d\nPlan: %s\n", acc.TelegramID, acc.Role)
	if unlimited {
		sb.WriteString("Downloads today: unlimited\n")
	} else {
		fmt.Fprintf(&sb, "Downloads left today: %d of %d\n", remaining, b.ledger.Limit())
	}
	if acc.Role == account.RolePremium {
		if acc.PremiumExpiryDate != "" {
			fmt.Fprintf(&sb, "Premium until: %s\n", acc.PremiumExpiryDate)
		} else {
			sb.WriteString("Premium: lifetime\n")
		}
	}
	if acc.HasSession() {
		sb.WriteString("Account: connected\n")
	} else {
		sb.WriteString("Account: not connected (/login)\n")
	}
	return b.reply(ctx, e, u, sb.String())
}

// cmdBatch принимает диапазон постов двумя ссылками на один и тот же канал.
// Порядок ссылок не важен. Доступно только пользователям без дневного лимита;
// просроченный премиум отсеивается леджером на этом же пути.
func (b *Bot) cmdBatch(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage, userID int64, args []string) error {
	if len(args) < 2 {
		return b.reply(ctx, e, u, msgBatchUsage)
	}

	_, unlimited, err := b.ledger.Remaining(userID)
	if err != nil {
		return errors.Wrap(err, "read quota")
	}
	if !unlimited {
		return b.reply(ctx, e, u, msgBatchPremiumOnly)
	}

	start, err := links.Parse(args[0])
	if err != nil {
		return b.reply(ctx, e, u, msgBadLink)
	}
	end, err := links.Parse(args[1])
	if err != nil {
		return b.reply(ctx, e, u, msgBadLink)
	}
	if start.Handle != end.Handle || start.ChatID != end.ChatID || start.Private != end.Private {
		return b.reply(ctx, e, u, msgBatchMismatch)
	}
	if start.MsgID > end.MsgID {
		start, end = end, start
	}

	count := end.MsgID - start.MsgID + 1
	return b.startTransfer(ctx, e, u, userID, start, count)
}

// handleLoginInput скармливает не-командный текст логин-диалогу.
func (b *Bot) handleLoginInput(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage, userID int64, text string) error {
	step, err := b.login.Input(ctx, userID, text)
	if errors.Is(err, login.ErrNoConversation) {
		return b.reply(ctx, e, u, msgSendLink)
	}
	return b.reply(ctx, e, u, loginStepText(step, err))
}

func loginStepText(step login.Step, err error) string {
	switch step {
	case login.StepAskPhone:
		return msgLoginAskPhone
	case login.StepAskCode:
		return msgLoginAskCode
	case login.StepAskPassword:
		return msgLoginAskPassword
	case login.StepRetryPhone:
		return msgLoginBadPhone
	case login.StepRetryCode:
		return msgLoginBadCode
	case login.StepRetryPassword:
		return msgLoginBadPassword
	case login.StepDone:
		return msgLoginDone
	case login.StepAborted:
		return fmt.Sprintf(msgLoginAborted, loginAbortReason(err))
	default:
		return msgSendLink
	}
}

func loginAbortReason(err error) string {
	switch {
	case errors.Is(err, login.ErrTooManyAttempts):
		return "too many failed attempts"
	case errors.Is(err, login.ErrCodeExpired):
		return "the code expired, start over with /login"
	case errors.Is(err, login.ErrPhoneInvalid):
		return "Telegram rejected that phone number, start over with /login"
	case err != nil:
		return "a network error, try /login again later"
	default:
		return "unknown reason"
	}
}

// handleLink — основной сценарий: ссылка из сообщения запускает передачу
// одного поста.
func (b *Bot) handleLink(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage, userID int64, text string, count int) error {
	target, err := links.Parse(text)
	if err != nil {
		return b.reply(ctx, e, u, msgBadLink)
	}
	return b.startTransfer(ctx, e, u, userID, target, count)
}

// startTransfer — проверка допуска, показ рекламы и запуск передачи в фоне
// со статусным сообщением.
func (b *Bot) startTransfer(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage, userID int64, target links.Target, count int) error {
	decision, err := b.gate.Check(ctx, userID)
	if err != nil {
		return errors.Wrap(err, "gate check")
	}
	if !decision.Allowed {
		return b.reply(ctx, e, u, refusalText(decision, b.ledger.Limit()))
	}

	peer, err := b.userPeer(ctx, userID)
	if err != nil {
		return errors.Wrap(err, "resolve peer")
	}

	if decision.ShowAd {
		b.showAd(ctx, peer, decision)
	}

	statusID, err := b.sendStatus(ctx, peer, msgProcessing)
	if err != nil {
		return err
	}

	reporter := transfer.NewReporter(transfer.NotifierFunc(func(text string) {
		b.editStatus(context.WithoutCancel(ctx), peer, statusID, text)
	}), b.progressInterval, nil)

	req := transfer.Request{UserID: userID, Target: target, Count: count, Progress: reporter}

	// Передача идёт в фоне, чтобы не блокировать обработку чужих апдейтов.
	go func() {
		runCtx := context.WithoutCancel(ctx)
		res, runErr := b.orch.Run(runCtx, req)
		reporter.Final(resultText(res, runErr))
	}()
	return nil
}

func (b *Bot) showAd(ctx context.Context, peer tg.InputPeerClass, decision gate.Decision) {
	text := decision.Ad.Text
	if decision.Ad.Title != "" {
		text = decision.Ad.Title + "\n\n" + text
	}
	if decision.Ad.URL != "" {
		text += "\n" + decision.Ad.URL
	}
	if err := b.sendTo(ctx, peer, text); err != nil {
		logger.Debugf("bot: show ad: %v", err)
	}
}

func refusalText(d gate.Decision, limit int) string {
	switch d.Reason {
	case gate.ReasonTerms:
		return msgTermsRequired
	case gate.ReasonNotSubscribed:
		return fmt.Sprintf(msgNotSubscribed, d.Channel)
	case gate.ReasonBanned:
		return msgBanned
	case gate.ReasonQuota:
		return fmt.Sprintf(msgQuotaExceeded, limit)
	default:
		return msgSendLink
	}
}

func resultText(res transfer.Result, err error) string {
	switch {
	case errors.Is(err, concurrency.ErrUserBusy):
		return msgUserBusy
	case errors.Is(err, concurrency.ErrServerBusy):
		return msgServerBusy
	case errors.Is(err, transfer.ErrLoginRequired):
		return msgLoginRequired
	case errors.Is(err, transfer.ErrSourceUnavailable):
		return msgSourceGone
	case errors.Is(err, transfer.ErrNothingToSend):
		return msgNothingToSend
	case errors.Is(err, context.DeadlineExceeded):
		return msgTimedOut
	case err != nil:
		return fmt.Sprintf(msgTransferFailed, err)
	case res.Cancelled:
		return fmt.Sprintf(msgCancelled, res.Delivered)
	case res.Truncated:
		return fmt.Sprintf(msgDonePart, res.Delivered)
	default:
		return fmt.Sprintf(msgDoneOne, res.Delivered)
	}
}
