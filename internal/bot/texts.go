package bot

import (
	"fmt"

	"acctshop-api/internal/model"
)

const (
	textAdminPanel = "👨‍💻 Admin panel\n\n" +
		"Available commands:\n" +
		"/add_accounts - Add accounts\n" +
		"/topup_balance - Top up a balance\n" +
		"/stats - Statistics\n" +
		"/my_balance - My balance\n" +
		"/cancel - Cancel the current step"

	textAskPhone        = "Enter the account phone number:"
	textAskCode         = "Enter the code you received:"
	textAskPassword     = "Enter the password for this account:"
	textAskUserID       = "Enter the user ID to top up:"
	textAskAmount       = "Enter the amount to top up:"
	textInvalidUserID   = "❌ Invalid user ID"
	textInvalidAmount   = "❌ Invalid amount"
	textEmptyInput      = "❌ Empty input, please try again."
	textNotifyFailed    = "⚠️ Could not notify the user"
	textOutOfStock      = "❌ No accounts available. The money has been returned to your balance."
	textClaimNotFound   = "❌ Account not found"
	textCodeUnavailable = "❌ Failed to get the code. Try again in a moment."
	textClaimPending    = "⏳ You already have a purchase waiting for its code."
	textUnavailable     = "⚠️ The shop is temporarily unavailable. Please try again later."
	textCancelled       = "✖️ Cancelled."
	textNothingToCancel = "Nothing to cancel."
	textHint            = "Use /start to open the menu."
)

var (
	btnBuy     = Button{Text: "🛒 Buy account", Action: ActionBuyAccount}
	btnBalance = Button{Text: "💰 My balance", Action: ActionMyBalance}
	btnGetCode = Button{Text: "🔑 Get code", Action: ActionGetCode}
)

func textWelcome(price, balance int64) string {
	return fmt.Sprintf("🛒 Welcome!\n\nBuy a Telegram account - %d₽\n💰 Your balance: %d₽\n\nChoose an action:", price, balance)
}

func textBalance(balance int64) string {
	return fmt.Sprintf("💰 Your balance: %d₽", balance)
}

func textPhoneAccepted(phone string) string {
	return fmt.Sprintf("📱 Number: %s\n⏳ Waiting for the SMS code...", phone)
}

func textAccountAdded(item *model.InventoryItem) string {
	return fmt.Sprintf("✅ Account added!\n📱 %s\n🔐 Password: %s", item.Identity, item.Secret)
}

func textAccountHeld(phone string) string {
	return fmt.Sprintf("❌ %s is reserved by a buyer right now. Try again after the sale completes.", phone)
}

func textError(cause error) string {
	return fmt.Sprintf("❌ Error: %v", cause)
}

func textToppedUp(userID, amount, oldBalance, balance int64) string {
	return fmt.Sprintf("✅ Balance topped up!\n👤 User: %d\n💳 Amount: %+d₽\n💰 Balance: %d₽ → %d₽", userID, amount, oldBalance, balance)
}

func textStats(s *model.DailyStats) string {
	return fmt.Sprintf("📊 Shop statistics:\n\n📱 Accounts ready: %d\n⏳ Awaiting code: %d\n🛒 Sold today: %d\n💰 Revenue today: %d₽",
		s.Ready, s.Reserved, s.SoldToday, s.RevenueToday)
}

func textPurchased(price, balance int64, identity string) string {
	return fmt.Sprintf("✅ Purchase successful! %d₽ charged\n💰 New balance: %d₽\n\n📱 Your login number:\n`%s`\n\nPress the button below to get the code:",
		price, balance, identity)
}

func textInsufficient(price, balance int64) string {
	return fmt.Sprintf("❌ Insufficient funds\n💳 Required: %d₽\n💰 Your balance: %d₽\n\nContact the administrator to top up.", price, balance)
}

func textCode(code string) string {
	return fmt.Sprintf("🔑 Your login code:\n`%s`\n\n⏳ The code is valid for 5 minutes", code)
}

func textCredentials(r *model.Reveal) string {
	return fmt.Sprintf("🔐 Your password:\n`%s`\n\n📋 To log in use:\n• Number: `%s`\n• Code: `%s`\n• Password: `%s`",
		r.Secret, r.Identity, r.Code, r.Secret)
}
