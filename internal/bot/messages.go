// Тексты ответов бота. Пользовательские сообщения на английском, форматные
// вставки подставляются на месте использования.

package bot

const (
	msgWelcome = "Hi! I can save media from t.me links for you.\n\n" +
		"Send me a link like https://t.me/channel/123 and I will deliver the post here.\n\n" +
		"Before we start, please accept the terms of service with /agree:\n" +
		"you confirm that you have the right to access the content you request\n" +
		"and that you will not use this bot to infringe copyright."

	msgWelcomeBack = "Welcome back! Send me a t.me link and I'll fetch it for you. /help for the full command list."

	msgAgreed        = "Thanks! Terms accepted. Now send me a t.me link, or /login to connect your account for private channels."
	msgAlreadyAgreed = "You have already accepted the terms. Send me a link!"

	msgHelp = "What I can do:\n\n" +
		"• Send a t.me link — I deliver the post here, albums included.\n" +
		"• /batch <first link> <last link> — grab a range of posts (premium).\n" +
		"• /login — connect your Telegram account (needed for private channels and groups).\n" +
		"• /logout — disconnect your account.\n" +
		"• /cancel — stop the login dialog or an active transfer.\n" +
		"• /myinfo — your plan, remaining quota and session status.\n" +
		"• /upgrade — premium plans.\n"

	msgSendLink = "Send me a t.me message link, for example https://t.me/durov/1 — or /help."

	msgBadLink = "That doesn't look like a t.me message link. Expected something like https://t.me/channel/123."

	msgTermsRequired  = "Please accept the terms of service first: /agree."
	msgBanned         = "You are banned from using this bot."
	msgQuotaExceeded  = "Daily free limit of %d downloads reached. It resets at midnight UTC, or /upgrade for unlimited access."
	msgNotSubscribed  = "To use this bot you must join @%s first. Join and resend your link."
	msgUserBusy       = "You already have a transfer in progress. Wait for it or /cancel."
	msgServerBusy     = "All transfer slots are busy right now. Please try again in a minute."
	msgLoginRequired  = "This source needs a connected account. Use /login, then resend the link."
	msgSourceGone     = "I can't access that channel or message. Check the link; for private channels your connected account must be a member."
	msgNothingToSend  = "That message has no content I can transfer."
	msgTransferFailed = "Transfer failed: %v"
	msgTimedOut       = "Transfer timed out. Try again, or split a large batch into smaller ones."

	msgBatchUsage       = "Usage: /batch <first link> <last link> — both links must point to the same channel."
	msgBatchPremiumOnly = "Batch mode is for premium users. /upgrade to unlock it."
	msgBatchMismatch    = "Both links must point to the same channel."

	msgProcessing = "Processing your request..."
	msgDoneOne    = "Done! Delivered %d item(s)."
	msgDonePart   = "Delivered %d item(s); the rest didn't fit into today's quota. /upgrade for unlimited."
	msgCancelled  = "Stopped. Delivered %d item(s) before cancellation."

	msgLoginAskPhone    = "Let's connect your account. Send your phone number in international format, e.g. +15551234567.\n\nSend /cancel at any time to abort."
	msgLoginAskCode     = "Code sent. Reply with the confirmation code (you can separate digits with spaces so Telegram doesn't burn it)."
	msgLoginAskPassword = "This account has two-step verification. Send your cloud password."
	msgLoginBadPhone    = "That doesn't look like a phone number. Try again, e.g. +15551234567."
	msgLoginBadCode     = "Wrong code, try again."
	msgLoginBadPassword = "Wrong password, try again."
	msgLoginDone        = "Account connected! Now I can fetch private channels and groups your account has access to."
	msgLoginAborted     = "Login aborted: %v"
	msgLoginExists      = "An account is already connected. /logout first if you want to reconnect."
	msgLoginCancelled   = "Login cancelled."
	msgNothingToCancel  = "Nothing to cancel."
	msgTransferCancel   = "Cancelling your transfer..."
	msgLoggedOut        = "Account disconnected and credentials erased."
	msgNoSession        = "No account is connected."

	msgNotAdmin   = "This command requires admin rights."
	msgOwnerOnly  = "This command is owner-only."
	msgBadCommand = "Unknown command. /help"
)
